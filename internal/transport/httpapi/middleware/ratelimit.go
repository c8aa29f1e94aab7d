package middleware

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/prk-Jr/payments-service/internal/ratelimit"
	"github.com/prk-Jr/payments-service/pkg/logger"
)

// throttledResponse is the 429 body. retry_after_seconds mirrors the
// Retry-After header for clients that never look at headers.
type throttledResponse struct {
	Error             string `json:"error"`
	RetryAfterSeconds int    `json:"retry_after_seconds"`
}

// RateLimit creates a middleware that throttles requests per authenticated
// principal. It must run after Auth. Limiter errors fail open: a broken
// limiter backend should degrade throttling, not take the API down.
func RateLimit(limiter ratelimit.Limiter, log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := PrincipalFromContext(r.Context())
			if !ok {
				respondError(w, http.StatusUnauthorized, "unauthorized")
				return
			}

			decision, err := limiter.Allow(r.Context(), principal.APIKeyID.String())
			if err != nil {
				log.WithContext(r.Context()).WithError(err).Warn("rate limiter unavailable, allowing request")
				next.ServeHTTP(w, r)
				return
			}

			if !decision.Allowed {
				seconds := int(decision.RetryAfter.Seconds())
				w.Header().Set("Retry-After", strconv.Itoa(seconds))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(throttledResponse{
					Error:             "rate limit exceeded, please try again later",
					RetryAfterSeconds: seconds,
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
