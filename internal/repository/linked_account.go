package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/payloom/link-server-go/internal/model"
)

// LinkedAccountRepository holds the local uniqueness mirror of completed
// links. Insert is conditional: a second insert for the same
// (user_id, account_id) is a no-op, never a duplicate row.
type LinkedAccountRepository interface {
	Insert(ctx context.Context, params model.CreateLinkedAccountParams) (created bool, err error)
	FindByUserAndAccount(ctx context.Context, userID, accountID string) (*model.LinkedAccount, error)
	FindByUser(ctx context.Context, userID string) ([]model.LinkedAccount, error)
	// WithTx returns a new repository that uses the given transaction
	WithTx(tx *sqlx.Tx) LinkedAccountRepository
}

type linkedAccountRepo struct {
	db sqlxDB
}

func NewLinkedAccountRepository(db *sqlx.DB) LinkedAccountRepository {
	return &linkedAccountRepo{db: db}
}

func (r *linkedAccountRepo) WithTx(tx *sqlx.Tx) LinkedAccountRepository {
	return &linkedAccountRepo{db: tx}
}

func (r *linkedAccountRepo) Insert(ctx context.Context, params model.CreateLinkedAccountParams) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		INSERT INTO linked_accounts (id, user_id, account_id, bank_id, funding_source_url, shareable_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id, account_id) DO NOTHING
	`, uuid.NewString(), params.UserID, params.AccountID, params.BankID,
		params.FundingSourceURL, params.ShareableID)
	if err != nil {
		return false, err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

func (r *linkedAccountRepo) FindByUserAndAccount(ctx context.Context, userID, accountID string) (*model.LinkedAccount, error) {
	var account model.LinkedAccount
	err := r.db.GetContext(ctx, &account, `
		SELECT * FROM linked_accounts
		WHERE user_id = $1 AND account_id = $2
	`, userID, accountID)
	return HandleNotFound(&account, err)
}

func (r *linkedAccountRepo) FindByUser(ctx context.Context, userID string) ([]model.LinkedAccount, error) {
	var accounts []model.LinkedAccount
	err := r.db.SelectContext(ctx, &accounts, `
		SELECT * FROM linked_accounts
		WHERE user_id = $1
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	return accounts, nil
}
