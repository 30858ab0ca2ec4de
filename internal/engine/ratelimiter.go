package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RateLimiter is a per-key sliding window limiter backed by a Redis sorted set.
// A Lua script trims expired entries, counts and admits in one step, so every
// process sending for the same shop shares the same budget.
type RateLimiter struct {
	redisClient  *redis.Client
	logger       *slog.Logger
	script       *redis.Script
	window       time.Duration
	pollInterval time.Duration
}

var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)

local count = redis.call('ZCARD', key)

if count < limit then
    redis.call('ZADD', key, now, member)
    redis.call('EXPIRE', key, math.floor(window / 1000) + 1)
    return 1
else
    return 0
end
`)

func NewRateLimiter(redisClient *redis.Client, logger *slog.Logger) *RateLimiter {
	return &RateLimiter{
		redisClient:  redisClient,
		logger:       logger,
		script:       slidingWindowScript,
		window:       time.Second,
		pollInterval: 50 * time.Millisecond,
	}
}

func rlKey(key string) string {
	return fmt.Sprintf("rl:%s", key)
}

// Allow reports whether one more send for key fits in the current window.
// A limit of zero or less disables limiting.
func (rl *RateLimiter) Allow(ctx context.Context, key string, limit int) bool {
	if limit <= 0 {
		return true
	}

	now := time.Now().UnixMilli()
	result, err := rl.script.Run(ctx, rl.redisClient, []string{rlKey(key)},
		now, rl.window.Milliseconds(), limit, uuid.NewString(),
	).Int64()
	if err != nil {
		// Fail open
		rl.logger.Error("rate limiter script failed", "error", err, "key", key)
		return true
	}

	if result == 0 {
		rl.logger.Debug("rate limited", "key", key, "limit", limit)
		return false
	}
	return true
}

// Wait blocks until a slot for key is free or ctx is done.
func (rl *RateLimiter) Wait(ctx context.Context, key string, limit int) error {
	for {
		if rl.Allow(ctx, key, limit) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(rl.pollInterval):
		}
	}
}
