package httpserver

import (
	"context"
	"net/http"
	"strings"

	"hostchat/internal/domain"
)

type Authenticator interface {
	Authenticate(token string) (domain.Identity, error)
}

type contextKey string

const identityContextKey contextKey = "identity"

// WithIdentity returns a new context carrying the caller.
func WithIdentity(ctx context.Context, id domain.Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, id)
}

// CurrentIdentity extracts the caller from context, if any.
func CurrentIdentity(r *http.Request) (domain.Identity, bool) {
	id, ok := r.Context().Value(identityContextKey).(domain.Identity)
	return id, ok
}

// AuthMiddleware validates the Bearer token and attaches the identity to the context.
func AuthMiddleware(auth Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" || !strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
				writeJSON(w, http.StatusUnauthorized, envelope{Message: "No token provided"})
				return
			}
			tokenStr := strings.TrimSpace(authHeader[len("Bearer "):])

			id, err := auth.Authenticate(tokenStr)
			if err != nil {
				writeJSON(w, http.StatusUnauthorized, envelope{Message: domain.AsError(err).Message})
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}
