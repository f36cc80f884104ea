// Package ratelimit implements the fixed-window rate-limit engine (spec.md
// §4.2): an atomic Redis counter keyed by credential id and window start,
// expiring only on the increment that creates it.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Result is the outcome of a single rate-limit check, mirrored onto the
// X-RateLimit-* response headers by the gateway middleware.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	Reset     int64 // epoch seconds
}

// Limiter enforces a fixed-window counter per credential against Redis.
type Limiter struct {
	redis *redis.Client
}

// New creates a Limiter backed by the given Redis client.
func New(rdb *redis.Client) *Limiter {
	return &Limiter{redis: rdb}
}

// Allow increments the counter for credentialID's current window and
// reports whether the request is within limit. The TTL on the backing key
// is set only on the increment that takes the count to 1 — setting it again
// on every call would keep sliding the window open and never let it expire,
// which is the one thing the fixed-window contract must not do.
func (l *Limiter) Allow(ctx context.Context, credentialID uuid.UUID, limit, window int) (Result, error) {
	if window <= 0 {
		window = 1
	}

	now := time.Now().Unix()
	windowSeconds := int64(window)
	windowStart := now - (now % windowSeconds)

	key := fmt.Sprintf("rl:%s:%d", credentialID, windowStart)

	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return Result{}, fmt.Errorf("incrementing rate-limit counter: %w", err)
	}

	if count == 1 {
		if err := l.redis.Expire(ctx, key, time.Duration(windowSeconds)*time.Second).Err(); err != nil {
			return Result{}, fmt.Errorf("setting rate-limit counter expiry: %w", err)
		}
	}

	remaining := limit - int(count)
	if remaining < 0 {
		remaining = 0
	}

	return Result{
		Allowed:   count <= int64(limit),
		Limit:     limit,
		Remaining: remaining,
		Reset:     windowStart + windowSeconds,
	}, nil
}
