// Package ratelimit implements the per-account fixed-window counter the
// execution engine consults once at the top of every attempt.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix = "rate_limit:"
)

// Result mirrors the shape the execution engine needs to decide whether to
// pause a job.
type Result struct {
	Allowed           bool
	RetryAfterSeconds int
}

// Limiter is consulted once at the top of every attempt, atomically.
type Limiter interface {
	Check(ctx context.Context, accountID string) (Result, error)
}

// RedisLimiter is a fixed-window counter backed by Redis: INCR the key, set
// a TTL only on the window's first event, and read the TTL back on refusal.
type RedisLimiter struct {
	client       *redis.Client
	window       time.Duration
	maxPerWindow int64
}

// NewRedisLimiter builds a limiter with the given window and per-window cap,
// used as passed; the 60s/90-event defaults come from config.Config.
func NewRedisLimiter(client *redis.Client, window time.Duration, maxPerWindow int64) *RedisLimiter {
	return &RedisLimiter{client: client, window: window, maxPerWindow: maxPerWindow}
}

func (l *RedisLimiter) Check(ctx context.Context, accountID string) (Result, error) {
	key := keyPrefix + accountID

	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		return Result{}, fmt.Errorf("incr rate limit counter: %w", err)
	}

	if count == 1 {
		if err := l.client.Expire(ctx, key, l.window).Err(); err != nil {
			return Result{}, fmt.Errorf("set rate limit ttl: %w", err)
		}
	}

	if count <= l.maxPerWindow {
		return Result{Allowed: true}, nil
	}

	ttl, err := l.client.TTL(ctx, key).Result()
	if err != nil {
		return Result{}, fmt.Errorf("read rate limit ttl: %w", err)
	}
	return Result{Allowed: false, RetryAfterSeconds: clampRetryAfter(ttl)}, nil
}

// clampRetryAfter floors the TTL read-back at 1 second — a key can expire
// between the INCR and the TTL call, and a 0 or negative wait would tell the
// caller to retry immediately into the same refusal.
func clampRetryAfter(ttl time.Duration) int {
	seconds := int(ttl.Seconds())
	if seconds < 1 {
		return 1
	}
	return seconds
}
