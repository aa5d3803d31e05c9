package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/payloom/link-server-go/internal/audit"
	apperrors "github.com/payloom/link-server-go/internal/errors"
	"github.com/payloom/link-server-go/internal/httputil"
	"github.com/payloom/link-server-go/internal/model"
)

type contextKey string

const UserContextKey contextKey = "user"

// GetUser returns the authenticated user from the request context, or nil.
func GetUser(ctx context.Context) *model.User {
	if user, ok := ctx.Value(UserContextKey).(*model.User); ok {
		return user
	}
	return nil
}

// UserResolver resolves a bearer credential to the authenticated user.
type UserResolver interface {
	CurrentUser(ctx context.Context, bearerToken string) (*model.User, error)
}

// SessionMiddleware reads the opaque bearer credential from the request and
// resolves it through the backend. It does not mint or validate credentials
// itself; requests without a resolvable user fail fast with UNAUTHORIZED.
type SessionMiddleware struct {
	resolver UserResolver
}

func NewSessionMiddleware(resolver UserResolver) *SessionMiddleware {
	return &SessionMiddleware{resolver: resolver}
}

func (m *SessionMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractBearer(r)
		if token == "" {
			httputil.WriteError(w, apperrors.Unauthorized("Missing session credential"))
			return
		}

		user, err := m.resolver.CurrentUser(r.Context(), token)
		if err != nil {
			if apperrors.GetCode(err) != apperrors.ErrCodeUnauthorized {
				log.Error().Err(err).Msg("session middleware: user resolution failed")
			}
			audit.LogFromRequest(r, audit.Event{Type: audit.EventAuthFailure})
			httputil.WriteError(w, err)
			return
		}

		ctx := context.WithValue(r.Context(), UserContextKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func extractBearer(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return ""
}
