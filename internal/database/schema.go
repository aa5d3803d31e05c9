package database

import (
	"context"
	"fmt"
)

// schema is applied at startup. linked_accounts carries the uniqueness the
// linking chain depends on: exactly one row per (user_id, account_id).
const schema = `
CREATE TABLE IF NOT EXISTS link_attempts (
	id                 UUID PRIMARY KEY,
	user_id            TEXT NOT NULL,
	state              TEXT NOT NULL,
	failed_step        TEXT,
	error_code         TEXT,
	account_id         TEXT,
	funding_source_url TEXT,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at       TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_link_attempts_user ON link_attempts (user_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_link_attempts_state ON link_attempts (state, updated_at);

CREATE TABLE IF NOT EXISTS linked_accounts (
	id                 UUID PRIMARY KEY,
	user_id            TEXT NOT NULL,
	account_id         TEXT NOT NULL,
	bank_id            TEXT NOT NULL,
	funding_source_url TEXT NOT NULL,
	shareable_id       TEXT NOT NULL,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (user_id, account_id)
);
`

// Bootstrap creates the service's tables if they do not exist yet.
func (db *DB) Bootstrap(ctx context.Context) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("bootstrap schema: %w", err)
	}
	return nil
}
