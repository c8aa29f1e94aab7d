// Package ratelimit throttles authenticated principals to a fixed number of
// requests per minute. Every API key gets its own counter, so one noisy
// integration cannot starve the rest.
package ratelimit

import (
	"context"
	"time"
)

const (
	// Window is the fixed counting window.
	Window = time.Minute

	// RetryAfter is what throttled callers are told to wait. The window is
	// fixed rather than sliding, so a full window is always a safe answer.
	RetryAfter = 60 * time.Second
)

// Decision is the outcome of a single rate-limit check.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// Limiter decides whether a request attributed to key may proceed.
// Implementations must be safe for concurrent use.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}
