package model

import (
	"time"
)

// BankAccountRecord is the saga's terminal artifact: the durable link between
// a User and a funding source, registered with the backend. The access token
// travels to the backend only; it is never written to local storage or logs.
type BankAccountRecord struct {
	UserID           string `json:"userId"`
	BankID           string `json:"bankId"`
	AccountID        string `json:"accountId"`
	AccessToken      string `json:"accessToken"`
	FundingSourceURL string `json:"fundingSourceUrl"`
	ShareableID      string `json:"shareableId"`
}

// LinkedAccount is the local uniqueness mirror of a completed link, keyed by
// (user_id, account_id). It carries no token material.
type LinkedAccount struct {
	ID               string    `db:"id" json:"id"`
	UserID           string    `db:"user_id" json:"userId"`
	AccountID        string    `db:"account_id" json:"accountId"`
	BankID           string    `db:"bank_id" json:"bankId"`
	FundingSourceURL string    `db:"funding_source_url" json:"fundingSourceUrl"`
	ShareableID      string    `db:"shareable_id" json:"shareableId"`
	CreatedAt        time.Time `db:"created_at" json:"createdAt"`
}

type CreateLinkedAccountParams struct {
	UserID           string
	AccountID        string
	BankID           string
	FundingSourceURL string
	ShareableID      string
}
