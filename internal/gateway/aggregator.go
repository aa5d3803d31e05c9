package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	apperrors "github.com/payloom/link-server-go/internal/errors"
	"github.com/payloom/link-server-go/internal/model"
	"github.com/payloom/link-server-go/internal/util"
)

const aggregatorService = "aggregator"

// Link sessions are scoped to a fixed product set and locale.
var (
	linkProducts     = []string{"auth"}
	linkCountryCodes = []string{"US"}
)

const linkLanguage = "en"

// LinkToken is the short-lived credential that authorizes a consent UI
// session. Single use; expires upstream.
type LinkToken struct {
	Token    string    `json:"linkToken"`
	IssuedAt time.Time `json:"issuedAt"`
}

// AccessGrant is the durable result of exchanging a public token. The access
// token is a secret: it must never appear in logs in cleartext.
type AccessGrant struct {
	AccessToken string
	ItemID      string
}

// AccountSnapshot is the aggregator's read-only view of one bank account.
type AccountSnapshot struct {
	AccountID   string `json:"accountId"`
	Name        string `json:"name"`
	Institution string `json:"institution"`
}

// ProcessorToken is a payment-rail-scoped proxy for an access grant plus one
// account. Single use.
type ProcessorToken string

type AggregatorClient struct {
	client   *http.Client
	baseURL  string
	clientID string
	secret   string
}

func NewAggregatorClient(baseURL, clientID, secret string, timeout time.Duration) *AggregatorClient {
	return &AggregatorClient{
		client:   &http.Client{Timeout: timeout},
		baseURL:  baseURL,
		clientID: clientID,
		secret:   secret,
	}
}

type aggregatorError struct {
	ErrorType    string `json:"error_type"`
	ErrorCode    string `json:"error_code"`
	ErrorMessage string `json:"error_message"`
}

// IssueLinkToken requests a fresh link token for the given user. No local
// side effects; callers may invoke it as often as they need a new token.
func (c *AggregatorClient) IssueLinkToken(ctx context.Context, user *model.User) (*LinkToken, error) {
	if user == nil || user.ID == "" {
		return nil, apperrors.MissingRequired("user id")
	}

	payload := map[string]any{
		"client_id":     c.clientID,
		"secret":        c.secret,
		"user":          map[string]string{"client_user_id": user.ID},
		"client_name":   user.DisplayName(),
		"products":      linkProducts,
		"language":      linkLanguage,
		"country_codes": linkCountryCodes,
	}

	var out struct {
		LinkToken string `json:"link_token"`
	}
	if err := c.post(ctx, "/link/token/create", payload, &out); err != nil {
		return nil, err
	}

	log.Debug().Str("userId", user.ID).Msg("link token issued")
	return &LinkToken{Token: out.LinkToken, IssuedAt: time.Now()}, nil
}

// ExchangePublicToken trades a single-use public token for an access grant.
// A reused token fails upstream; that failure is surfaced, never treated as
// idempotent success.
func (c *AggregatorClient) ExchangePublicToken(ctx context.Context, publicToken string) (*AccessGrant, error) {
	if publicToken == "" {
		return nil, apperrors.MissingRequired("publicToken")
	}

	payload := map[string]any{
		"client_id":    c.clientID,
		"secret":       c.secret,
		"public_token": publicToken,
	}

	var out struct {
		AccessToken string `json:"access_token"`
		ItemID      string `json:"item_id"`
	}
	if err := c.post(ctx, "/item/public_token/exchange", payload, &out); err != nil {
		return nil, err
	}

	log.Debug().
		Str("itemId", out.ItemID).
		Str("accessToken", util.MaskToken(out.AccessToken)).
		Msg("public token exchanged")
	return &AccessGrant{AccessToken: out.AccessToken, ItemID: out.ItemID}, nil
}

// FetchPrimaryAccount returns the first account covered by the grant, in
// upstream order. First account wins; a grant covering zero accounts is a
// contract violation and fails with NO_ACCOUNTS.
func (c *AggregatorClient) FetchPrimaryAccount(ctx context.Context, grant *AccessGrant) (*AccountSnapshot, error) {
	payload := map[string]any{
		"client_id":    c.clientID,
		"secret":       c.secret,
		"access_token": grant.AccessToken,
	}

	var out struct {
		Accounts []struct {
			AccountID    string `json:"account_id"`
			Name         string `json:"name"`
			OfficialName string `json:"official_name"`
		} `json:"accounts"`
		Item struct {
			InstitutionID string `json:"institution_id"`
		} `json:"item"`
	}
	if err := c.post(ctx, "/accounts/get", payload, &out); err != nil {
		return nil, err
	}

	if len(out.Accounts) == 0 {
		return nil, apperrors.NoAccounts()
	}
	if len(out.Accounts) > 1 {
		log.Debug().Int("count", len(out.Accounts)).Msg("grant covers multiple accounts; linking the first")
	}

	first := out.Accounts[0]
	return &AccountSnapshot{
		AccountID:   first.AccountID,
		Name:        first.Name,
		Institution: out.Item.InstitutionID,
	}, nil
}

// CreateProcessorToken mints a rail-scoped token for one account under the
// grant. The processor name is fixed per deployment.
func (c *AggregatorClient) CreateProcessorToken(ctx context.Context, grant *AccessGrant, account *AccountSnapshot, processor string) (ProcessorToken, error) {
	payload := map[string]any{
		"client_id":    c.clientID,
		"secret":       c.secret,
		"access_token": grant.AccessToken,
		"account_id":   account.AccountID,
		"processor":    processor,
	}

	var out struct {
		ProcessorToken string `json:"processor_token"`
	}
	if err := c.post(ctx, "/processor/token/create", payload, &out); err != nil {
		return "", err
	}

	return ProcessorToken(out.ProcessorToken), nil
}

func (c *AggregatorClient) post(ctx context.Context, path string, payload, out any) error {
	resp, body, err := postJSON(ctx, c.client, c.baseURL+path, nil, payload)
	if err != nil {
		return classifyTransport(aggregatorService, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var upstream aggregatorError
		detail := fmt.Errorf("status %d", resp.StatusCode)
		if json.Unmarshal(body, &upstream) == nil && upstream.ErrorCode != "" {
			detail = fmt.Errorf("status %d: %s (%s)", resp.StatusCode, upstream.ErrorCode, upstream.ErrorType)
		}
		log.Error().
			Str("path", path).
			Int("status", resp.StatusCode).
			Str("upstreamCode", upstream.ErrorCode).
			Msg("aggregator request rejected")
		return apperrors.UpstreamRejected(aggregatorService, detail)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return apperrors.UpstreamRejected(aggregatorService, fmt.Errorf("malformed response: %w", err))
	}
	return nil
}
