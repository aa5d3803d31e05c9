// Package backend is the narrow client to the backend collaborator: the
// create-only bank-account registration endpoint and the session user lookup.
// The backend owns persistence and session validation; this client only
// translates its responses onto the local error taxonomy.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"

	apperrors "github.com/payloom/link-server-go/internal/errors"
	"github.com/payloom/link-server-go/internal/model"
)

const backendService = "backend"

type Client struct {
	client  *http.Client
	baseURL string
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// CurrentUser resolves the bearer credential to the authenticated user. An
// invalid or missing session is UNAUTHORIZED; the caller must fail fast
// rather than proceed with a null identity.
func (c *Client) CurrentUser(ctx context.Context, bearerToken string) (*model.User, error) {
	if bearerToken == "" {
		return nil, apperrors.Unauthorized("Missing session credential")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/users/me/", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+bearerToken)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, classify(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, apperrors.Unauthorized("Session is invalid or expired")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apperrors.UpstreamRejected(backendService, fmt.Errorf("status %d", resp.StatusCode))
	}

	var user model.User
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, apperrors.UpstreamRejected(backendService, fmt.Errorf("malformed user response: %w", err))
	}
	if user.ID == "" {
		return nil, apperrors.Unauthorized("Session resolved to no user")
	}

	return &user, nil
}

// RegisterBankAccount registers the terminal record with the backend.
// Create-only: the backend is the source of truth for uniqueness, and a
// duplicate-key outcome is distinguished from generic failure so the
// orchestrator can treat it specially.
func (c *Client) RegisterBankAccount(ctx context.Context, record model.BankAccountRecord) error {
	body, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/banks/register/", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return apperrors.Persist(classify(err))
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		log.Info().
			Str("userId", record.UserID).
			Str("accountId", record.AccountID).
			Msg("bank account registered")
		return nil
	case resp.StatusCode == http.StatusConflict:
		return apperrors.AlreadyLinked(record.AccountID)
	default:
		log.Error().
			Str("userId", record.UserID).
			Int("status", resp.StatusCode).
			Msg("bank account registration rejected")
		return apperrors.Persist(fmt.Errorf("status %d: %s", resp.StatusCode, truncate(respBody, 200)))
	}
}

func classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return apperrors.Timeout(backendService)
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return apperrors.Timeout(backendService)
	}
	return apperrors.NetworkFailure(backendService, err)
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
