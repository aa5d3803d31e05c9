// Package linking drives the bank-account linking saga: a strictly linear
// chain of dependent remote calls across the aggregator, the payment rail and
// the backend, with no cross-service transaction to lean on. Every attempt is
// written to a persisted step log so a partial failure is observable instead
// of silent.
package linking

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/payloom/link-server-go/internal/codec"
	apperrors "github.com/payloom/link-server-go/internal/errors"
	"github.com/payloom/link-server-go/internal/gateway"
	"github.com/payloom/link-server-go/internal/model"
	"github.com/payloom/link-server-go/internal/repository"
	"github.com/payloom/link-server-go/internal/util"
)

// Step names one link of the chain. A terminal failure always carries the
// step it broke at.
type Step string

const (
	StepIssueLinkToken       Step = "issue_link_token"
	StepExchangePublicToken  Step = "exchange_public_token"
	StepFetchAccount         Step = "fetch_account"
	StepUniquenessCheck      Step = "uniqueness_check"
	StepCreateProcessorToken Step = "create_processor_token"
	StepCreateFundingSource  Step = "create_funding_source"
	StepPersistRecord        Step = "persist_record"
)

// StepError wraps a step failure with the step it happened at. The wrapped
// error keeps its taxonomy code.
type StepError struct {
	Step Step
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Aggregator is the slice of the token gateway the saga consumes.
type Aggregator interface {
	IssueLinkToken(ctx context.Context, user *model.User) (*gateway.LinkToken, error)
	ExchangePublicToken(ctx context.Context, publicToken string) (*gateway.AccessGrant, error)
	FetchPrimaryAccount(ctx context.Context, grant *gateway.AccessGrant) (*gateway.AccountSnapshot, error)
	CreateProcessorToken(ctx context.Context, grant *gateway.AccessGrant, account *gateway.AccountSnapshot, processor string) (gateway.ProcessorToken, error)
}

// Rail creates funding sources on the payment rail.
type Rail interface {
	CreateFundingSource(ctx context.Context, customerID string, processorToken gateway.ProcessorToken, name string) (fundingSourceURL string, existed bool, err error)
}

// Registrar registers the terminal record with the backend.
type Registrar interface {
	RegisterBankAccount(ctx context.Context, record model.BankAccountRecord) error
}

// Locker serializes completions per user. Two concurrent CompleteLink calls
// for the same user must not both run the chain.
type Locker interface {
	AcquireLink(ctx context.Context, userID string) (bool, error)
	ReleaseLink(ctx context.Context, userID string) error
}

type Orchestrator struct {
	agg         Aggregator
	rail        Rail
	registrar   Registrar
	attempts    repository.LinkAttemptRepository
	accounts    repository.LinkedAccountRepository
	codec       *codec.Codec
	locker      Locker
	processor   string
	callTimeout time.Duration
}

func NewOrchestrator(
	agg Aggregator,
	rail Rail,
	registrar Registrar,
	attempts repository.LinkAttemptRepository,
	accounts repository.LinkedAccountRepository,
	idCodec *codec.Codec,
	locker Locker,
	processor string,
	callTimeout time.Duration,
) *Orchestrator {
	return &Orchestrator{
		agg:         agg,
		rail:        rail,
		registrar:   registrar,
		attempts:    attempts,
		accounts:    accounts,
		codec:       idCodec,
		locker:      locker,
		processor:   processor,
		callTimeout: callTimeout,
	}
}

// StartLink issues a fresh link token for the consent UI. It may run many
// times before the user ever completes consent and has no side effects
// beyond the remote issuance.
func (o *Orchestrator) StartLink(ctx context.Context, user *model.User) (*gateway.LinkToken, error) {
	if user == nil || user.ID == "" {
		return nil, apperrors.Unauthorized("No authenticated user")
	}

	callCtx, cancel := context.WithTimeout(ctx, o.callTimeout)
	defer cancel()

	token, err := o.agg.IssueLinkToken(callCtx, user)
	if err != nil {
		return nil, &StepError{Step: StepIssueLinkToken, Err: err}
	}
	return token, nil
}

// CompleteLink runs the dependent chain in strict order: exchange the public
// token, fetch the primary account, mint a processor token, create the
// funding source, register the record. Each step's output feeds only the next
// step; nothing is re-fetched and nothing is retried. Failures are terminal
// and leave no compensation behind: a funding source created before a persist
// failure stays on the rail side and is picked up by the reconcile job.
func (o *Orchestrator) CompleteLink(ctx context.Context, user *model.User, publicToken string) (*model.BankAccountRecord, error) {
	if user == nil || user.ID == "" {
		return nil, apperrors.Unauthorized("No authenticated user")
	}
	if publicToken == "" {
		return nil, apperrors.MissingRequired("publicToken")
	}
	if user.RailCustomerID == "" {
		return nil, apperrors.InvalidInput("user", "no payment rail customer")
	}

	acquired, err := o.locker.AcquireLink(ctx, user.ID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeInternal, "Could not acquire completion lock", err)
	}
	if !acquired {
		return nil, apperrors.LinkInProgress()
	}
	defer func() {
		if err := o.locker.ReleaseLink(context.WithoutCancel(ctx), user.ID); err != nil {
			log.Warn().Err(err).Str("userId", user.ID).Msg("failed to release completion lock")
		}
	}()

	attempt, err := o.attempts.Create(ctx, user.ID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	logger := log.With().Str("attemptId", attempt.ID).Str("userId", user.ID).Logger()

	// Exchange the single-use public token for an access grant.
	grant, err := o.exchange(ctx, publicToken)
	if err != nil {
		return nil, o.fail(ctx, attempt.ID, StepExchangePublicToken, err)
	}
	o.transition(ctx, attempt.ID, model.LinkStateExchanged)
	logger.Info().
		Str("itemId", grant.ItemID).
		Str("accessToken", util.MaskToken(grant.AccessToken)).
		Msg("public token exchanged")

	account, err := o.fetchAccount(ctx, grant)
	if err != nil {
		return nil, o.fail(ctx, attempt.ID, StepFetchAccount, err)
	}
	if err := o.attempts.SetAccount(ctx, attempt.ID, account.AccountID); err != nil {
		logger.Warn().Err(err).Msg("failed to record account on attempt")
	}
	o.transition(ctx, attempt.ID, model.LinkStateAccountFetched)
	logger.Info().Str("accountId", account.AccountID).Str("accountName", account.Name).Msg("account fetched")

	// The account id is known now: an existing (user, account) link must not
	// grow a second funding source or record.
	existing, err := o.accounts.FindByUserAndAccount(ctx, user.ID, account.AccountID)
	if err != nil {
		return nil, o.fail(ctx, attempt.ID, StepUniquenessCheck, apperrors.Database(err))
	}
	if existing != nil {
		return nil, o.fail(ctx, attempt.ID, StepUniquenessCheck, apperrors.AlreadyLinked(account.AccountID))
	}

	processorToken, err := o.mintProcessorToken(ctx, grant, account)
	if err != nil {
		return nil, o.fail(ctx, attempt.ID, StepCreateProcessorToken, err)
	}
	o.transition(ctx, attempt.ID, model.LinkStateProcessorTokenCreated)

	// From here the chain detaches from the caller. The rail may create the
	// funding source whether or not the caller is still listening, and an
	// aborted request would leave that resource unobserved, so the call runs
	// to completion (bounded by its own timeout) and everything after it does
	// too.
	persistCtx := context.WithoutCancel(ctx)

	// Display name for the funding source comes from the account snapshot,
	// not from the user.
	fundingSourceURL, existed, err := o.createFundingSource(persistCtx, user.RailCustomerID, processorToken, account.Name)
	if err != nil {
		return nil, o.fail(persistCtx, attempt.ID, StepCreateFundingSource, err)
	}
	if err := o.attempts.SetFundingSource(persistCtx, attempt.ID, fundingSourceURL); err != nil {
		logger.Warn().Err(err).Msg("failed to record funding source on attempt")
	}
	o.transition(persistCtx, attempt.ID, model.LinkStateFundingSourceCreated)
	logger.Info().Str("fundingSourceUrl", fundingSourceURL).Bool("existed", existed).Msg("funding source ready")

	shareableID, err := o.codec.Encode(account.AccountID)
	if err != nil {
		return nil, o.fail(persistCtx, attempt.ID, StepPersistRecord, apperrors.Internal("could not derive shareable id").WithCause(err))
	}

	record := model.BankAccountRecord{
		UserID:           user.ID,
		BankID:           grant.ItemID,
		AccountID:        account.AccountID,
		AccessToken:      grant.AccessToken,
		FundingSourceURL: fundingSourceURL,
		ShareableID:      shareableID,
	}

	if err := o.register(persistCtx, record); err != nil {
		// No compensation: the funding source stays. The reconcile job
		// reports it as orphaned until an operator resolves it.
		return nil, o.fail(persistCtx, attempt.ID, StepPersistRecord, err)
	}
	o.transition(persistCtx, attempt.ID, model.LinkStatePersisted)

	created, err := o.accounts.Insert(persistCtx, model.CreateLinkedAccountParams{
		UserID:           user.ID,
		AccountID:        account.AccountID,
		BankID:           grant.ItemID,
		FundingSourceURL: fundingSourceURL,
		ShareableID:      shareableID,
	})
	if err != nil {
		logger.Error().Err(err).Msg("failed to write local link mirror; backend record exists")
	} else if !created {
		logger.Warn().Str("accountId", account.AccountID).Msg("local link mirror already present")
	}

	if err := o.attempts.MarkComplete(persistCtx, attempt.ID); err != nil {
		logger.Warn().Err(err).Msg("failed to mark attempt complete")
	}
	logger.Info().Str("accountId", account.AccountID).Msg("bank account linked")

	return &record, nil
}

func (o *Orchestrator) exchange(ctx context.Context, publicToken string) (*gateway.AccessGrant, error) {
	callCtx, cancel := context.WithTimeout(ctx, o.callTimeout)
	defer cancel()
	return o.agg.ExchangePublicToken(callCtx, publicToken)
}

func (o *Orchestrator) fetchAccount(ctx context.Context, grant *gateway.AccessGrant) (*gateway.AccountSnapshot, error) {
	callCtx, cancel := context.WithTimeout(ctx, o.callTimeout)
	defer cancel()
	return o.agg.FetchPrimaryAccount(callCtx, grant)
}

func (o *Orchestrator) mintProcessorToken(ctx context.Context, grant *gateway.AccessGrant, account *gateway.AccountSnapshot) (gateway.ProcessorToken, error) {
	callCtx, cancel := context.WithTimeout(ctx, o.callTimeout)
	defer cancel()
	return o.agg.CreateProcessorToken(callCtx, grant, account, o.processor)
}

func (o *Orchestrator) createFundingSource(ctx context.Context, customerID string, token gateway.ProcessorToken, name string) (string, bool, error) {
	callCtx, cancel := context.WithTimeout(ctx, o.callTimeout)
	defer cancel()
	return o.rail.CreateFundingSource(callCtx, customerID, token, name)
}

func (o *Orchestrator) register(ctx context.Context, record model.BankAccountRecord) error {
	callCtx, cancel := context.WithTimeout(ctx, o.callTimeout)
	defer cancel()
	return o.registrar.RegisterBankAccount(callCtx, record)
}

// fail records the terminal failure on the step log and wraps the cause with
// the step name. Recording uses an uncancellable context so a caller that
// already went away still leaves a readable trail.
func (o *Orchestrator) fail(ctx context.Context, attemptID string, step Step, cause error) error {
	code := string(apperrors.GetCode(cause))
	if err := o.attempts.MarkFailed(context.WithoutCancel(ctx), attemptID, string(step), code); err != nil {
		log.Error().Err(err).Str("attemptId", attemptID).Msg("failed to record attempt failure")
	}
	log.Error().
		Str("attemptId", attemptID).
		Str("step", string(step)).
		Str("code", code).
		Err(cause).
		Msg("linking chain broke")
	return &StepError{Step: step, Err: cause}
}

func (o *Orchestrator) transition(ctx context.Context, attemptID string, state model.LinkState) {
	if err := o.attempts.SetState(ctx, attemptID, state); err != nil {
		log.Warn().Err(err).Str("attemptId", attemptID).Str("state", string(state)).Msg("failed to record state transition")
	}
}
