package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	apperrors "github.com/payloom/link-server-go/internal/errors"
)

const railService = "payment rail"

type RailClient struct {
	client  *http.Client
	baseURL string
	token   string
}

func NewRailClient(baseURL, token string, timeout time.Duration) *RailClient {
	return &RailClient{
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
		token:   token,
	}
}

type railError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Links   struct {
		About struct {
			Href string `json:"href"`
		} `json:"about"`
	} `json:"_links"`
}

// CreateFundingSource registers the account as a funding source under the
// rail customer. On success the funding source URL comes from the Location
// header. When the rail reports the source already exists for this processor
// token, the existing URL is returned with existed=true so the caller can
// treat it as success.
func (c *RailClient) CreateFundingSource(ctx context.Context, customerID string, processorToken ProcessorToken, name string) (fundingSourceURL string, existed bool, err error) {
	if customerID == "" {
		return "", false, apperrors.MissingRequired("customer id")
	}

	endpoint := fmt.Sprintf("%s/customers/%s/funding-sources", c.baseURL, customerID)
	payload := map[string]string{
		"plaidToken": string(processorToken),
		"name":       name,
	}
	headers := map[string]string{
		"Authorization": "Bearer " + c.token,
		"Accept":        "application/vnd.dwolla.v1.hal+json",
	}

	resp, body, reqErr := postJSON(ctx, c.client, endpoint, headers, payload)
	if reqErr != nil {
		return "", false, classifyTransport(railService, reqErr)
	}

	if resp.StatusCode == http.StatusCreated {
		location := resp.Header.Get("Location")
		if location == "" {
			return "", false, apperrors.UpstreamRejected(railService, fmt.Errorf("created without Location header"))
		}
		log.Info().Str("customerId", customerID).Msg("funding source created")
		return location, false, nil
	}

	var upstream railError
	_ = json.Unmarshal(body, &upstream)

	if upstream.Code == "DuplicateResource" {
		existing := upstream.Links.About.Href
		if existing == "" {
			// Duplicate but no pointer to the existing resource: surface it
			// as a distinguishable condition rather than a generic rejection.
			return "", false, apperrors.AlreadyExists("funding source")
		}
		log.Info().Str("customerId", customerID).Msg("funding source already exists; reusing")
		return existing, true, nil
	}

	detail := fmt.Errorf("status %d", resp.StatusCode)
	if upstream.Code != "" {
		detail = fmt.Errorf("status %d: %s", resp.StatusCode, upstream.Code)
	}
	log.Error().
		Str("customerId", customerID).
		Int("status", resp.StatusCode).
		Str("upstreamCode", upstream.Code).
		Msg("funding source creation rejected")
	return "", false, apperrors.UpstreamRejected(railService, detail)
}
