package repository

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/payloom/link-server-go/internal/database"
)

// setupTestDB connects to the database named by TEST_DATABASE_URL and resets
// the linking tables. Tests that need it are skipped when the variable is
// unset, so the suite still runs without a local Postgres.
func setupTestDB(t *testing.T) *database.DB {
	t.Helper()

	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set; skipping repository test")
	}

	db, err := database.Connect(url)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, db.Bootstrap(ctx))

	_, err = db.ExecContext(ctx, `TRUNCATE link_attempts, linked_accounts`)
	require.NoError(t, err)

	return db
}
