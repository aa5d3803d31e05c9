package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/payloom/link-server-go/internal/model"
)

// LinkAttemptRepository persists the saga step log. One row per CompleteLink
// invocation; every transition updates the row in place.
type LinkAttemptRepository interface {
	Create(ctx context.Context, userID string) (*model.LinkAttempt, error)
	FindByID(ctx context.Context, id string) (*model.LinkAttempt, error)
	FindByUser(ctx context.Context, userID string, limit, offset int) ([]model.LinkAttempt, error)
	SetState(ctx context.Context, id string, state model.LinkState) error
	SetAccount(ctx context.Context, id, accountID string) error
	SetFundingSource(ctx context.Context, id, fundingSourceURL string) error
	MarkFailed(ctx context.Context, id, step, errorCode string) error
	MarkComplete(ctx context.Context, id string) error
	// FindStalled returns attempts that created a funding source but never
	// reached a persisted record within the given age. These are the orphans
	// the reconcile job reports.
	FindStalled(ctx context.Context, olderThan time.Duration) ([]model.LinkAttempt, error)
	// WithTx returns a new repository that uses the given transaction
	WithTx(tx *sqlx.Tx) LinkAttemptRepository
}

type linkAttemptRepo struct {
	db sqlxDB
}

// sqlxDB is an interface satisfied by both *sqlx.DB and *sqlx.Tx
type sqlxDB interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func NewLinkAttemptRepository(db *sqlx.DB) LinkAttemptRepository {
	return &linkAttemptRepo{db: db}
}

func (r *linkAttemptRepo) WithTx(tx *sqlx.Tx) LinkAttemptRepository {
	return &linkAttemptRepo{db: tx}
}

func (r *linkAttemptRepo) Create(ctx context.Context, userID string) (*model.LinkAttempt, error) {
	var attempt model.LinkAttempt
	err := r.db.GetContext(ctx, &attempt, `
		INSERT INTO link_attempts (id, user_id, state)
		VALUES ($1, $2, $3)
		RETURNING *
	`, uuid.NewString(), userID, model.LinkStateInit)
	if err != nil {
		return nil, err
	}
	return &attempt, nil
}

func (r *linkAttemptRepo) FindByID(ctx context.Context, id string) (*model.LinkAttempt, error) {
	var attempt model.LinkAttempt
	err := r.db.GetContext(ctx, &attempt, `
		SELECT * FROM link_attempts WHERE id = $1
	`, id)
	return HandleNotFound(&attempt, err)
}

func (r *linkAttemptRepo) FindByUser(ctx context.Context, userID string, limit, offset int) ([]model.LinkAttempt, error) {
	var attempts []model.LinkAttempt
	err := r.db.SelectContext(ctx, &attempts, `
		SELECT * FROM link_attempts
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	return attempts, nil
}

func (r *linkAttemptRepo) SetState(ctx context.Context, id string, state model.LinkState) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE link_attempts SET state = $2, updated_at = now() WHERE id = $1
	`, id, state)
	return err
}

func (r *linkAttemptRepo) SetAccount(ctx context.Context, id, accountID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE link_attempts SET account_id = $2, updated_at = now() WHERE id = $1
	`, id, accountID)
	return err
}

func (r *linkAttemptRepo) SetFundingSource(ctx context.Context, id, fundingSourceURL string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE link_attempts SET funding_source_url = $2, updated_at = now() WHERE id = $1
	`, id, fundingSourceURL)
	return err
}

func (r *linkAttemptRepo) MarkFailed(ctx context.Context, id, step, errorCode string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE link_attempts
		SET state = $2, failed_step = $3, error_code = $4, updated_at = now()
		WHERE id = $1
	`, id, model.LinkStateFailed, step, errorCode)
	return err
}

func (r *linkAttemptRepo) MarkComplete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE link_attempts
		SET state = $2, completed_at = now(), updated_at = now()
		WHERE id = $1
	`, id, model.LinkStateComplete)
	return err
}

func (r *linkAttemptRepo) FindStalled(ctx context.Context, olderThan time.Duration) ([]model.LinkAttempt, error) {
	var attempts []model.LinkAttempt
	err := r.db.SelectContext(ctx, &attempts, `
		SELECT * FROM link_attempts
		WHERE state IN ($1, $2)
		  AND funding_source_url IS NOT NULL
		  AND updated_at < now() - ($3 * interval '1 second')
		ORDER BY updated_at ASC
	`, model.LinkStateFundingSourceCreated, model.LinkStateFailed, int64(olderThan.Seconds()))
	if err != nil {
		return nil, err
	}
	return attempts, nil
}
