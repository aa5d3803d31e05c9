package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/payloom/link-server-go/internal/model"
	"github.com/payloom/link-server-go/internal/repository"
)

// ReconcileJob periodically scans the step log for attempts that created a
// funding source but never reached a persisted record. Those funding sources
// exist at the payment rail with no local owner; the job surfaces them to
// operators rather than deleting anything upstream.
type ReconcileJob struct {
	attemptRepo  repository.LinkAttemptRepository
	accountRepo  repository.LinkedAccountRepository
	interval     time.Duration
	stalledAfter time.Duration
	done         chan struct{}
}

func NewReconcileJob(
	attemptRepo repository.LinkAttemptRepository,
	accountRepo repository.LinkedAccountRepository,
	interval time.Duration,
	stalledAfter time.Duration,
) *ReconcileJob {
	return &ReconcileJob{
		attemptRepo:  attemptRepo,
		accountRepo:  accountRepo,
		interval:     interval,
		stalledAfter: stalledAfter,
		done:         make(chan struct{}),
	}
}

func (j *ReconcileJob) Start() {
	go j.run()
	log.Info().Dur("interval", j.interval).Msg("reconcile job started")
}

func (j *ReconcileJob) Stop() {
	close(j.done)
	log.Info().Msg("reconcile job stopped")
}

func (j *ReconcileJob) run() {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.reconcile()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.reconcile()
		}
	}
}

func (j *ReconcileJob) reconcile() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	orphans, err := j.RunOnce(ctx)
	if err != nil {
		log.Error().Err(err).Msg("reconcile scan failed")
		return
	}
	if len(orphans) > 0 {
		log.Warn().Int("count", len(orphans)).Msg("orphaned funding sources found")
	}
}

// RunOnce performs a single scan and returns the attempts whose funding
// source has no matching linked account.
func (j *ReconcileJob) RunOnce(ctx context.Context) ([]model.LinkAttempt, error) {
	stalled, err := j.attemptRepo.FindStalled(ctx, j.stalledAfter)
	if err != nil {
		return nil, err
	}

	var orphans []model.LinkAttempt
	for _, attempt := range stalled {
		if attempt.AccountID == nil || attempt.FundingSourceURL == nil {
			continue
		}

		linked, err := j.accountRepo.FindByUserAndAccount(ctx, attempt.UserID, *attempt.AccountID)
		if err != nil {
			log.Error().Err(err).Str("attemptId", attempt.ID).Msg("reconcile lookup failed")
			continue
		}
		if linked != nil {
			// The record landed after the failure was written; nothing to do.
			continue
		}

		log.Warn().
			Str("attemptId", attempt.ID).
			Str("userId", attempt.UserID).
			Str("fundingSourceUrl", *attempt.FundingSourceURL).
			Msg("funding source has no linked account")
		orphans = append(orphans, attempt)
	}
	return orphans, nil
}
