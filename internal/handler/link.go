package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/payloom/link-server-go/internal/audit"
	apperrors "github.com/payloom/link-server-go/internal/errors"
	"github.com/payloom/link-server-go/internal/gateway"
	"github.com/payloom/link-server-go/internal/httputil"
	"github.com/payloom/link-server-go/internal/middleware"
	"github.com/payloom/link-server-go/internal/model"
	"github.com/payloom/link-server-go/internal/repository"
)

// LinkService is the slice of the orchestrator the HTTP layer consumes.
type LinkService interface {
	StartLink(ctx context.Context, user *model.User) (*gateway.LinkToken, error)
	CompleteLink(ctx context.Context, user *model.User, publicToken string) (*model.BankAccountRecord, error)
}

type LinkHandler struct {
	service  LinkService
	attempts repository.LinkAttemptRepository
	accounts repository.LinkedAccountRepository
}

func NewLinkHandler(
	service LinkService,
	attempts repository.LinkAttemptRepository,
	accounts repository.LinkedAccountRepository,
) *LinkHandler {
	return &LinkHandler{
		service:  service,
		attempts: attempts,
		accounts: accounts,
	}
}

func (h *LinkHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/token", h.StartLink)
	r.Post("/complete", h.CompleteLink)
	r.Get("/attempts", h.ListAttempts)
	r.Get("/accounts", h.ListAccounts)
	return r
}

// StartLink issues a fresh link token for the consent UI.
func (h *LinkHandler) StartLink(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	if user == nil {
		httputil.WriteError(w, apperrors.Unauthorized("No authenticated user"))
		return
	}

	token, err := h.service.StartLink(r.Context(), user)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{
		Type:   audit.EventLinkStarted,
		UserID: user.ID,
	})
	writeJSON(w, http.StatusOK, token)
}

type completeLinkRequest struct {
	PublicToken string `json:"publicToken"`
}

// CompleteLink runs the exchange chain and returns the terminal record. The
// access token is stripped from the response; it belongs to the backend only.
func (h *LinkHandler) CompleteLink(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	if user == nil {
		httputil.WriteError(w, apperrors.Unauthorized("No authenticated user"))
		return
	}

	var req completeLinkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, apperrors.ValidationError("Malformed request body"))
		return
	}
	if req.PublicToken == "" {
		httputil.WriteError(w, apperrors.MissingRequired("publicToken"))
		return
	}

	record, err := h.service.CompleteLink(r.Context(), user, req.PublicToken)
	if err != nil {
		eventType := audit.EventLinkFailed
		if apperrors.GetCode(err) == apperrors.ErrCodeAlreadyLinked {
			eventType = audit.EventDuplicateRejected
		}
		audit.LogFromRequest(r, audit.Event{
			Type:    eventType,
			UserID:  user.ID,
			Details: map[string]interface{}{"errorCode": string(apperrors.GetCode(err))},
		})
		httputil.WriteError(w, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{
		Type:      audit.EventLinkCompleted,
		UserID:    user.ID,
		AccountID: record.AccountID,
	})
	writeJSON(w, http.StatusCreated, formatRecord(record))
}

// ListAttempts exposes the step log for the authenticated user, newest first.
func (h *LinkHandler) ListAttempts(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	if user == nil {
		httputil.WriteError(w, apperrors.Unauthorized("No authenticated user"))
		return
	}

	params := ParsePagination(r)
	attempts, err := h.attempts.FindByUser(r.Context(), user.ID, params.Limit, params.Offset)
	if err != nil {
		httputil.WriteError(w, apperrors.Database(err))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"attempts": attempts,
		"limit":    params.Limit,
		"offset":   params.Offset,
	})
}

// ListAccounts returns the user's linked accounts from the local mirror.
func (h *LinkHandler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	if user == nil {
		httputil.WriteError(w, apperrors.Unauthorized("No authenticated user"))
		return
	}

	accounts, err := h.accounts.FindByUser(r.Context(), user.ID)
	if err != nil {
		httputil.WriteError(w, apperrors.Database(err))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"accounts": accounts,
	})
}
