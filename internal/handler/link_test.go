package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/payloom/link-server-go/internal/errors"
	"github.com/payloom/link-server-go/internal/gateway"
	"github.com/payloom/link-server-go/internal/middleware"
	"github.com/payloom/link-server-go/internal/model"
	"github.com/payloom/link-server-go/internal/repository"
)

type stubLinkService struct {
	token       *gateway.LinkToken
	record      *model.BankAccountRecord
	startErr    error
	completeErr error

	gotPublicToken string
}

func (s *stubLinkService) StartLink(ctx context.Context, user *model.User) (*gateway.LinkToken, error) {
	if s.startErr != nil {
		return nil, s.startErr
	}
	return s.token, nil
}

func (s *stubLinkService) CompleteLink(ctx context.Context, user *model.User, publicToken string) (*model.BankAccountRecord, error) {
	s.gotPublicToken = publicToken
	if s.completeErr != nil {
		return nil, s.completeErr
	}
	return s.record, nil
}

type stubAttemptRepo struct {
	attempts []model.LinkAttempt
	err      error

	gotUserID string
	gotLimit  int
	gotOffset int
}

func (s *stubAttemptRepo) Create(ctx context.Context, userID string) (*model.LinkAttempt, error) {
	return nil, errors.New("not implemented")
}

func (s *stubAttemptRepo) FindByID(ctx context.Context, id string) (*model.LinkAttempt, error) {
	return nil, nil
}

func (s *stubAttemptRepo) FindByUser(ctx context.Context, userID string, limit, offset int) ([]model.LinkAttempt, error) {
	s.gotUserID = userID
	s.gotLimit = limit
	s.gotOffset = offset
	return s.attempts, s.err
}

func (s *stubAttemptRepo) SetState(ctx context.Context, id string, state model.LinkState) error {
	return nil
}

func (s *stubAttemptRepo) SetAccount(ctx context.Context, id, accountID string) error { return nil }

func (s *stubAttemptRepo) SetFundingSource(ctx context.Context, id, fundingSourceURL string) error {
	return nil
}

func (s *stubAttemptRepo) MarkFailed(ctx context.Context, id, step, errorCode string) error {
	return nil
}

func (s *stubAttemptRepo) MarkComplete(ctx context.Context, id string) error { return nil }

func (s *stubAttemptRepo) FindStalled(ctx context.Context, olderThan time.Duration) ([]model.LinkAttempt, error) {
	return nil, nil
}

func (s *stubAttemptRepo) WithTx(tx *sqlx.Tx) repository.LinkAttemptRepository { return s }

type stubAccountRepo struct {
	accounts []model.LinkedAccount
	err      error
}

func (s *stubAccountRepo) Insert(ctx context.Context, params model.CreateLinkedAccountParams) (bool, error) {
	return false, errors.New("not implemented")
}

func (s *stubAccountRepo) FindByUserAndAccount(ctx context.Context, userID, accountID string) (*model.LinkedAccount, error) {
	return nil, nil
}

func (s *stubAccountRepo) FindByUser(ctx context.Context, userID string) ([]model.LinkedAccount, error) {
	return s.accounts, s.err
}

func (s *stubAccountRepo) WithTx(tx *sqlx.Tx) repository.LinkedAccountRepository { return s }

func testUser() *model.User {
	return &model.User{
		ID:             "user-1",
		FirstName:      "Ada",
		LastName:       "Lovelace",
		Email:          "ada@example.com",
		RailCustomerID: "cust-1",
	}
}

func doRequest(h http.Handler, method, path string, body []byte, user *model.User) *httptest.ResponseRecorder {
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, path, bytes.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if user != nil {
		ctx := context.WithValue(req.Context(), middleware.UserContextKey, user)
		req = req.WithContext(ctx)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestStartLink(t *testing.T) {
	t.Run("returns link token", func(t *testing.T) {
		service := &stubLinkService{
			token: &gateway.LinkToken{Token: "link-sandbox-abc", IssuedAt: time.Now().UTC()},
		}
		h := NewLinkHandler(service, &stubAttemptRepo{}, &stubAccountRepo{})

		rec := doRequest(h.Routes(), http.MethodPost, "/token", nil, testUser())

		require.Equal(t, http.StatusOK, rec.Code)
		var resp gateway.LinkToken
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "link-sandbox-abc", resp.Token)
	})

	t.Run("rejects unauthenticated request", func(t *testing.T) {
		h := NewLinkHandler(&stubLinkService{}, &stubAttemptRepo{}, &stubAccountRepo{})

		rec := doRequest(h.Routes(), http.MethodPost, "/token", nil, nil)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("maps upstream failure", func(t *testing.T) {
		service := &stubLinkService{startErr: apperrors.UpstreamRejected("aggregator", errors.New("INVALID_CREDENTIALS"))}
		h := NewLinkHandler(service, &stubAttemptRepo{}, &stubAccountRepo{})

		rec := doRequest(h.Routes(), http.MethodPost, "/token", nil, testUser())

		assert.Equal(t, http.StatusBadGateway, rec.Code)
	})
}

func TestCompleteLink(t *testing.T) {
	t.Run("returns record without access token", func(t *testing.T) {
		service := &stubLinkService{
			record: &model.BankAccountRecord{
				UserID:           "user-1",
				BankID:           "item-1",
				AccountID:        "acc-1",
				AccessToken:      "access-sandbox-secret",
				FundingSourceURL: "https://api.example.com/funding-sources/fs-1",
				ShareableID:      "opaque-id",
			},
		}
		h := NewLinkHandler(service, &stubAttemptRepo{}, &stubAccountRepo{})

		body := []byte(`{"publicToken":"public-sandbox-xyz"}`)
		rec := doRequest(h.Routes(), http.MethodPost, "/complete", body, testUser())

		require.Equal(t, http.StatusCreated, rec.Code)
		assert.Equal(t, "public-sandbox-xyz", service.gotPublicToken)

		var resp map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "acc-1", resp["accountId"])
		assert.Equal(t, "opaque-id", resp["shareableId"])
		assert.NotContains(t, rec.Body.String(), "access-sandbox-secret")
		assert.NotContains(t, resp, "accessToken")
	})

	t.Run("rejects missing public token", func(t *testing.T) {
		h := NewLinkHandler(&stubLinkService{}, &stubAttemptRepo{}, &stubAccountRepo{})

		rec := doRequest(h.Routes(), http.MethodPost, "/complete", []byte(`{}`), testUser())

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("rejects malformed body", func(t *testing.T) {
		h := NewLinkHandler(&stubLinkService{}, &stubAttemptRepo{}, &stubAccountRepo{})

		rec := doRequest(h.Routes(), http.MethodPost, "/complete", []byte(`{not json`), testUser())

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("maps already linked to conflict", func(t *testing.T) {
		service := &stubLinkService{completeErr: apperrors.AlreadyLinked("acc-1")}
		h := NewLinkHandler(service, &stubAttemptRepo{}, &stubAccountRepo{})

		body := []byte(`{"publicToken":"public-sandbox-xyz"}`)
		rec := doRequest(h.Routes(), http.MethodPost, "/complete", body, testUser())

		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("maps no accounts to unprocessable", func(t *testing.T) {
		service := &stubLinkService{completeErr: apperrors.NoAccounts()}
		h := NewLinkHandler(service, &stubAttemptRepo{}, &stubAccountRepo{})

		body := []byte(`{"publicToken":"public-sandbox-xyz"}`)
		rec := doRequest(h.Routes(), http.MethodPost, "/complete", body, testUser())

		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})
}

func TestListAttempts(t *testing.T) {
	t.Run("returns attempts with pagination", func(t *testing.T) {
		step := "exchange_public_token"
		code := "NETWORK_FAILURE"
		attempts := &stubAttemptRepo{attempts: []model.LinkAttempt{
			{ID: "att-1", UserID: "user-1", State: model.LinkStateComplete},
			{ID: "att-2", UserID: "user-1", State: model.LinkStateFailed, FailedStep: &step, ErrorCode: &code},
		}}
		h := NewLinkHandler(&stubLinkService{}, attempts, &stubAccountRepo{})

		rec := doRequest(h.Routes(), http.MethodGet, "/attempts?limit=10&offset=5", nil, testUser())

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "user-1", attempts.gotUserID)
		assert.Equal(t, 10, attempts.gotLimit)
		assert.Equal(t, 5, attempts.gotOffset)

		var resp struct {
			Attempts []model.LinkAttempt `json:"attempts"`
			Limit    int                 `json:"limit"`
			Offset   int                 `json:"offset"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Len(t, resp.Attempts, 2)
		assert.Equal(t, model.LinkStateFailed, resp.Attempts[1].State)
	})

	t.Run("database error maps to 500", func(t *testing.T) {
		attempts := &stubAttemptRepo{err: errors.New("connection refused")}
		h := NewLinkHandler(&stubLinkService{}, attempts, &stubAccountRepo{})

		rec := doRequest(h.Routes(), http.MethodGet, "/attempts", nil, testUser())

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}

func TestListAccounts(t *testing.T) {
	accounts := &stubAccountRepo{accounts: []model.LinkedAccount{
		{ID: "la-1", UserID: "user-1", AccountID: "acc-1", BankID: "item-1"},
	}}
	h := NewLinkHandler(&stubLinkService{}, &stubAttemptRepo{}, accounts)

	rec := doRequest(h.Routes(), http.MethodGet, "/accounts", nil, testUser())

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "acc-1")
}
