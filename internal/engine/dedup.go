package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Deduper remembers webhook delivery ids so that redeliveries are dropped
// before any work happens.
type Deduper struct {
	redisClient *redis.Client
	logger      *slog.Logger
	ttl         time.Duration
}

func NewDeduper(redisClient *redis.Client, ttl time.Duration, logger *slog.Logger) *Deduper {
	return &Deduper{redisClient: redisClient, logger: logger, ttl: ttl}
}

func dedupKey(id string) string {
	return "webhook:seen:" + id
}

// FirstSeen records id and reports whether this is its first delivery.
// An empty id or a Redis failure counts as first seen; the store's
// conditional writes still keep a redelivery harmless.
func (d *Deduper) FirstSeen(ctx context.Context, id string) bool {
	if id == "" {
		return true
	}

	ok, err := d.redisClient.SetNX(ctx, dedupKey(id), 1, d.ttl).Result()
	if err != nil {
		d.logger.Warn("webhook dedup unavailable", "error", err, "webhook_id", id)
		return true
	}
	return ok
}

// Forget drops id so that a delivery that failed downstream can be retried.
func (d *Deduper) Forget(ctx context.Context, id string) {
	if id == "" {
		return
	}
	if err := d.redisClient.Del(ctx, dedupKey(id)).Err(); err != nil {
		d.logger.Warn("failed to forget webhook id", "error", err, "webhook_id", id)
	}
}
