package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RateLimiter caps attempts per subscription over a rolling window. Each
// admitted attempt is a member of a Redis sorted set scored by its admission
// time in milliseconds. It satisfies worker.Limiter.
type RateLimiter struct {
	client *redis.Client
	logger *slog.Logger
	window time.Duration
	now    func() time.Time
}

// admitScript returns 0 and records the attempt when the window has room.
// Otherwise it returns the milliseconds until the oldest admission leaves
// the window, which is never less than 1.
var admitScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', now - window)

if redis.call('ZCARD', KEYS[1]) < limit then
    redis.call('ZADD', KEYS[1], now, ARGV[4])
    redis.call('PEXPIRE', KEYS[1], window)
    return 0
end

local oldest = redis.call('ZRANGE', KEYS[1], 0, 0, 'WITHSCORES')
local wait = tonumber(oldest[2]) + window - now
if wait < 1 then
    wait = 1
end
return wait
`)

func NewRateLimiter(client *redis.Client, logger *slog.Logger) *RateLimiter {
	return &RateLimiter{
		client: client,
		logger: logger,
		window: time.Second,
		now:    time.Now,
	}
}

func windowKey(subscriptionID string) string {
	return fmt.Sprintf("rl:subscription:%s", subscriptionID)
}

// Admit records an attempt to subscriptionID if fewer than limit attempts
// were admitted in the last second, and returns zero. When the window is
// full nothing is recorded and the result is how long until a slot frees.
// A limit of zero or less disables limiting. Redis errors fail open.
func (rl *RateLimiter) Admit(ctx context.Context, subscriptionID string, limit int) time.Duration {
	if limit <= 0 {
		return 0
	}

	now := rl.now()
	wait, err := admitScript.Run(ctx, rl.client, []string{windowKey(subscriptionID)},
		now.UnixMilli(), rl.window.Milliseconds(), limit, uuid.NewString(),
	).Int64()
	if err != nil {
		rl.logger.Error("rate limiter script failed", "error", err, "subscription_id", subscriptionID)
		return 0
	}
	if wait > 0 {
		rl.logger.Debug("subscription window full",
			"subscription_id", subscriptionID,
			"limit", limit,
			"wait_ms", wait,
		)
	}
	return time.Duration(wait) * time.Millisecond
}
