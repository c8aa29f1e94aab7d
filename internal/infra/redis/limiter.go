// Package redis provides the Redis-backed rate-limit counter used when
// several replicas must share one request budget per API key.
package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/prk-Jr/payments-service/internal/ratelimit"
	"github.com/prk-Jr/payments-service/pkg/logger"
)

// KeyPrefix namespaces rate-limit counters in Redis.
const KeyPrefix = "ratelimit:"

// Limiter counts requests with a fixed window per key. INCR plus EXPIRE on
// the first hit of a window keeps all replicas on a shared budget.
type Limiter struct {
	client   *redis.Client
	capacity int
	logger   *logger.Logger
}

// NewLimiter creates a limiter allowing capacity requests per key per window.
func NewLimiter(client *redis.Client, capacity int, log *logger.Logger) *Limiter {
	return &Limiter{
		client:   client,
		capacity: capacity,
		logger:   log.WithField("component", "ratelimit"),
	}
}

var _ ratelimit.Limiter = (*Limiter)(nil)

// Allow counts one request against key. Redis being unreachable fails open:
// throttling protects capacity, and rejecting all traffic because the counter
// store is down would hurt more than a minute without limits.
func (l *Limiter) Allow(ctx context.Context, key string) (ratelimit.Decision, error) {
	redisKey := fmt.Sprintf("%s%s", KeyPrefix, key)

	count, err := l.client.Incr(ctx, redisKey).Result()
	if err != nil {
		l.logger.Error("rate limit check failed, allowing request", "key", key, "error", err)
		return ratelimit.Decision{Allowed: true}, nil
	}

	// First hit of a fresh window owns setting its expiry.
	if count == 1 {
		if err := l.client.Expire(ctx, redisKey, ratelimit.Window).Err(); err != nil {
			l.logger.Error("failed to set rate limit window", "key", key, "error", err)
		}
	}

	if count > int64(l.capacity) {
		return ratelimit.Decision{Allowed: false, RetryAfter: ratelimit.RetryAfter}, nil
	}

	return ratelimit.Decision{Allowed: true}, nil
}
