// Package gateway binds the two third-party platforms the linking chain
// depends on: the bank-data aggregator (link tokens, token exchange, account
// metadata, processor tokens) and the payment rail (funding sources). Clients
// never retry; the orchestrator owns that decision.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	apperrors "github.com/payloom/link-server-go/internal/errors"
)

// classifyTransport maps a transport-level failure onto the error taxonomy:
// deadline expiry is TIMEOUT, everything else is NETWORK_FAILURE.
func classifyTransport(service string, err error) *apperrors.AppError {
	if errors.Is(err, context.DeadlineExceeded) {
		return apperrors.Timeout(service)
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return apperrors.Timeout(service)
	}
	return apperrors.NetworkFailure(service, err)
}

func postJSON(ctx context.Context, client *http.Client, endpoint string, headers map[string]string, payload any) (*http.Response, []byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("read response: %w", err)
	}

	return resp, respBody, nil
}
