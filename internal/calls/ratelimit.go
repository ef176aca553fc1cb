package calls

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/voicepass/backend/internal/models"
)

// RateLimiter bounds how many calls one account may place per window.
type RateLimiter interface {
	Check(ctx context.Context, accountID int64) error
	Record(ctx context.Context, accountID int64)
}

// RedisRateLimiter keeps a fixed-window counter per account. Redis errors let the call
// through; the balance check still applies.
type RedisRateLimiter struct {
	client *redis.Client
	max    int
	window time.Duration
}

func NewRedisRateLimiter(client *redis.Client, max int, window time.Duration) *RedisRateLimiter {
	return &RedisRateLimiter{client: client, max: max, window: window}
}

func rateLimitKey(accountID int64) string {
	return fmt.Sprintf("calls:ratelimit:%d", accountID)
}

func (r *RedisRateLimiter) Check(ctx context.Context, accountID int64) error {
	if r.max <= 0 {
		return nil
	}
	count, err := r.client.Get(ctx, rateLimitKey(accountID)).Int()
	if err != nil && err != redis.Nil {
		slog.Warn("rate limit check failed", "account_id", accountID, "error", err)
		return nil
	}

	if count >= r.max {
		return models.ErrRateLimited
	}
	return nil
}

func (r *RedisRateLimiter) Record(ctx context.Context, accountID int64) {
	key := rateLimitKey(accountID)
	pipe := r.client.Pipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, r.window)
	if _, err := pipe.Exec(ctx); err != nil {
		slog.Warn("rate limit record failed", "account_id", accountID, "error", err)
	}
}
