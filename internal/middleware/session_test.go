package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/payloom/link-server-go/internal/errors"
	"github.com/payloom/link-server-go/internal/model"
)

type stubResolver struct {
	user *model.User
	err  error
	got  string
}

func (s *stubResolver) CurrentUser(ctx context.Context, bearerToken string) (*model.User, error) {
	s.got = bearerToken
	if s.err != nil {
		return nil, s.err
	}
	return s.user, nil
}

func TestSessionMiddleware(t *testing.T) {
	echo := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := GetUser(r.Context())
		require.NotNil(t, user)
		w.Write([]byte(user.ID))
	})

	t.Run("resolves bearer token to a user", func(t *testing.T) {
		resolver := &stubResolver{user: &model.User{ID: "u1"}}
		mw := NewSessionMiddleware(resolver)

		req := httptest.NewRequest(http.MethodGet, "/v1/link/token", nil)
		req.Header.Set("Authorization", "Bearer session-token")
		rec := httptest.NewRecorder()

		mw.Handler(echo).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "u1", rec.Body.String())
		assert.Equal(t, "session-token", resolver.got)
	})

	t.Run("missing header fails fast without resolving", func(t *testing.T) {
		resolver := &stubResolver{user: &model.User{ID: "u1"}}
		mw := NewSessionMiddleware(resolver)

		req := httptest.NewRequest(http.MethodGet, "/v1/link/token", nil)
		rec := httptest.NewRecorder()

		mw.Handler(echo).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Empty(t, resolver.got)
	})

	t.Run("non-bearer scheme is rejected", func(t *testing.T) {
		mw := NewSessionMiddleware(&stubResolver{user: &model.User{ID: "u1"}})

		req := httptest.NewRequest(http.MethodGet, "/v1/link/token", nil)
		req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
		rec := httptest.NewRecorder()

		mw.Handler(echo).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("resolver rejection propagates as unauthorized", func(t *testing.T) {
		mw := NewSessionMiddleware(&stubResolver{err: apperrors.Unauthorized("expired")})

		req := httptest.NewRequest(http.MethodGet, "/v1/link/token", nil)
		req.Header.Set("Authorization", "Bearer stale")
		rec := httptest.NewRecorder()

		mw.Handler(echo).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}
