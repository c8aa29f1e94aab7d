package middleware

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// visitor pairs a token bucket with the time it was last used so idle
// entries can be evicted.
type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// PublicRateLimiter throttles unauthenticated routes by client IP. The
// bootstrap endpoint in particular must not be brute-forceable.
type PublicRateLimiter struct {
	visitors map[string]*visitor
	mu       sync.Mutex
	r        rate.Limit
	b        int
}

// NewPublicRateLimiter creates an IP-based limiter allowing r requests per
// second with bursts of b, and starts its eviction goroutine.
func NewPublicRateLimiter(r rate.Limit, b int) *PublicRateLimiter {
	rl := &PublicRateLimiter{
		visitors: make(map[string]*visitor),
		r:        r,
		b:        b,
	}
	go rl.evictIdle()
	return rl
}

// getVisitor retrieves or creates the bucket for an IP address.
func (rl *PublicRateLimiter) getVisitor(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	v, exists := rl.visitors[ip]
	if !exists {
		v = &visitor{limiter: rate.NewLimiter(rl.r, rl.b)}
		rl.visitors[ip] = v
	}
	v.lastSeen = time.Now()

	return v.limiter
}

// evictIdle drops visitors not seen for three minutes.
func (rl *PublicRateLimiter) evictIdle() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		rl.mu.Lock()
		for ip, v := range rl.visitors {
			if time.Since(v.lastSeen) > 3*time.Minute {
				delete(rl.visitors, ip)
			}
		}
		rl.mu.Unlock()
	}
}

// Middleware returns the rate limiting middleware.
func (rl *PublicRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Honor X-Forwarded-For when a proxy fronts the service.
		ip := r.Header.Get("X-Forwarded-For")
		if ip == "" {
			ip = r.RemoteAddr
		}

		if !rl.getVisitor(ip).Allow() {
			respondError(w, http.StatusTooManyRequests, "rate limit exceeded, please try again later")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// PublicRateLimit returns a limiter middleware for unauthenticated routes:
// 10 requests per second with a burst of 20 per client IP.
func PublicRateLimit() func(http.Handler) http.Handler {
	limiter := NewPublicRateLimiter(10, 20)
	return limiter.Middleware
}
