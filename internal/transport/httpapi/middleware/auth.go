package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/prk-Jr/payments-service/internal/credential"
	"github.com/prk-Jr/payments-service/pkg/logger"
)

// ContextKey is the type for context keys set by this package.
type ContextKey string

// PrincipalKey is the context key for the authenticated principal.
const PrincipalKey ContextKey = "principal"

// Verifier resolves a raw API key to a principal.
type Verifier interface {
	Verify(ctx context.Context, raw string) (*credential.Principal, error)
}

// Auth creates a middleware that authenticates requests with a bearer API
// key. The resolved principal lands in the request context, and the key id
// is attached to the logging context for every line logged downstream.
func Auth(creds Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				respondError(w, http.StatusUnauthorized, "missing authorization header")
				return
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				respondError(w, http.StatusUnauthorized, "invalid authorization header format")
				return
			}

			principal, err := creds.Verify(r.Context(), parts[1])
			if err != nil {
				respondError(w, http.StatusUnauthorized, "invalid API key")
				return
			}

			ctx := context.WithValue(r.Context(), PrincipalKey, principal)
			ctx = context.WithValue(ctx, logger.APIKeyIDKey, principal.APIKeyID.String())

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// PrincipalFromContext extracts the authenticated principal from the request
// context.
func PrincipalFromContext(ctx context.Context) (*credential.Principal, bool) {
	principal, ok := ctx.Value(PrincipalKey).(*credential.Principal)
	return principal, ok
}
