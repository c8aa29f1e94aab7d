package middleware_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prk-Jr/payments-service/internal/credential"
	"github.com/prk-Jr/payments-service/internal/ratelimit"
	"github.com/prk-Jr/payments-service/internal/transport/httpapi/middleware"
)

type fakeLimiter struct {
	decision ratelimit.Decision
	err      error

	gotKey string
}

func (f *fakeLimiter) Allow(ctx context.Context, key string) (ratelimit.Decision, error) {
	f.gotKey = key
	if f.err != nil {
		return ratelimit.Decision{}, f.err
	}
	return f.decision, nil
}

func authedReq(principal *credential.Principal) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/api/accounts", nil)
	return req.WithContext(context.WithValue(req.Context(), middleware.PrincipalKey, principal))
}

func TestRateLimit_Allowed(t *testing.T) {
	principal := &credential.Principal{APIKeyID: uuid.New()}
	limiter := &fakeLimiter{decision: ratelimit.Decision{Allowed: true}}
	next := &okHandler{}
	mw := middleware.RateLimit(limiter, testLogger())(next)

	w := httptest.NewRecorder()
	mw.ServeHTTP(w, authedReq(principal))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, next.called)
	assert.Equal(t, principal.APIKeyID.String(), limiter.gotKey)
}

func TestRateLimit_Throttled(t *testing.T) {
	principal := &credential.Principal{APIKeyID: uuid.New()}
	limiter := &fakeLimiter{decision: ratelimit.Decision{Allowed: false, RetryAfter: 60 * time.Second}}
	next := &okHandler{}
	mw := middleware.RateLimit(limiter, testLogger())(next)

	w := httptest.NewRecorder()
	mw.ServeHTTP(w, authedReq(principal))

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "60", w.Header().Get("Retry-After"))
	assert.False(t, next.called)

	var body struct {
		Error             string `json:"error"`
		RetryAfterSeconds int    `json:"retry_after_seconds"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 60, body.RetryAfterSeconds)
	assert.NotEmpty(t, body.Error)
}

func TestRateLimit_FailsOpenOnLimiterError(t *testing.T) {
	principal := &credential.Principal{APIKeyID: uuid.New()}
	limiter := &fakeLimiter{err: errors.New("redis: connection refused")}
	next := &okHandler{}
	mw := middleware.RateLimit(limiter, testLogger())(next)

	w := httptest.NewRecorder()
	mw.ServeHTTP(w, authedReq(principal))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, next.called)
}

func TestRateLimit_MissingPrincipal(t *testing.T) {
	limiter := &fakeLimiter{decision: ratelimit.Decision{Allowed: true}}
	next := &okHandler{}
	mw := middleware.RateLimit(limiter, testLogger())(next)

	req := httptest.NewRequest(http.MethodGet, "/api/accounts", nil)
	w := httptest.NewRecorder()
	mw.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.False(t, next.called)
}

func TestPublicRateLimit_ThrottlesBursts(t *testing.T) {
	next := &okHandler{}
	mw := middleware.PublicRateLimit()(next)

	// Burst capacity is 20, so a back-to-back run of 30 requests from one
	// address must hit the limit.
	var first, throttled int
	for i := 0; i < 30; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/bootstrap", nil)
		req.RemoteAddr = "203.0.113.7:9999"
		w := httptest.NewRecorder()
		mw.ServeHTTP(w, req)
		if i == 0 {
			first = w.Code
		}
		if w.Code == http.StatusTooManyRequests {
			throttled++
		}
	}
	assert.Equal(t, http.StatusOK, first)
	assert.Greater(t, throttled, 0)
}

func TestPublicRateLimit_SeparatesClients(t *testing.T) {
	next := &okHandler{}
	mw := middleware.PublicRateLimit()(next)

	// Exhaust one address.
	for i := 0; i < 25; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/bootstrap", nil)
		req.RemoteAddr = "203.0.113.8:9999"
		w := httptest.NewRecorder()
		mw.ServeHTTP(w, req)
	}

	// A different address is unaffected.
	req := httptest.NewRequest(http.MethodPost, "/api/bootstrap", nil)
	req.RemoteAddr = "203.0.113.9:9999"
	w := httptest.NewRecorder()
	mw.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}
