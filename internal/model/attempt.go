package model

import (
	"time"
)

// LinkState is a state of the linking chain. Transitions are strictly linear;
// any failure lands in LinkStateFailed, which is terminal.
type LinkState string

const (
	LinkStateInit                  LinkState = "init"
	LinkStateExchanged             LinkState = "public_token_exchanged"
	LinkStateAccountFetched        LinkState = "account_fetched"
	LinkStateProcessorTokenCreated LinkState = "processor_token_created"
	LinkStateFundingSourceCreated  LinkState = "funding_source_created"
	LinkStatePersisted             LinkState = "bank_account_persisted"
	LinkStateComplete              LinkState = "complete"
	LinkStateFailed                LinkState = "failed"
)

// LinkAttempt is one persisted saga execution. Every state transition updates
// the row, so operators can see exactly where a chain stopped and the
// reconcile job can find funding sources that never got a local record.
type LinkAttempt struct {
	ID               string     `db:"id" json:"id"`
	UserID           string     `db:"user_id" json:"userId"`
	State            LinkState  `db:"state" json:"state"`
	FailedStep       *string    `db:"failed_step" json:"failedStep,omitempty"`
	ErrorCode        *string    `db:"error_code" json:"errorCode,omitempty"`
	AccountID        *string    `db:"account_id" json:"accountId,omitempty"`
	FundingSourceURL *string    `db:"funding_source_url" json:"fundingSourceUrl,omitempty"`
	CreatedAt        time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt        time.Time  `db:"updated_at" json:"updatedAt"`
	CompletedAt      *time.Time `db:"completed_at" json:"completedAt,omitempty"`
}
