package ratelimit

import (
	"context"
	"sync"
	"time"
)

type window struct {
	start time.Time
	count int
}

// MemoryLimiter is a fixed-window counter held in process memory. It is the
// default backend for single-instance deployments; multi-instance setups
// should use the Redis-backed limiter so the budget is shared.
type MemoryLimiter struct {
	mu       sync.Mutex
	windows  map[string]*window
	capacity int
	now      func() time.Time
}

// NewMemoryLimiter creates a limiter allowing capacity requests per key per
// window.
func NewMemoryLimiter(capacity int) *MemoryLimiter {
	return &MemoryLimiter{
		windows:  make(map[string]*window),
		capacity: capacity,
		now:      time.Now,
	}
}

// Allow counts a request against key's current window. The first request past
// the capacity is rejected; the counter resets once the window expires.
func (l *MemoryLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[key]
	if !ok || now.Sub(w.start) >= Window {
		l.windows[key] = &window{start: now, count: 1}
		return Decision{Allowed: true}, nil
	}

	if w.count >= l.capacity {
		return Decision{Allowed: false, RetryAfter: RetryAfter}, nil
	}

	w.count++
	return Decision{Allowed: true}, nil
}

// StartJanitor launches a background sweep that drops counters idle for two
// full windows. It stops when ctx is cancelled.
func (l *MemoryLimiter) StartJanitor(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				l.evictStale()
			}
		}
	}()
}

func (l *MemoryLimiter) evictStale() {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	for key, w := range l.windows {
		if now.Sub(w.start) >= 2*Window {
			delete(l.windows, key)
		}
	}
}
