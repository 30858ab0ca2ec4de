package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"github.com/Priya8975/restock-notifier/internal/engine"
	"github.com/redis/go-redis/v9"
)

// Poller continuously polls the Redis restock queue and hands due jobs to the
// worker pool.
type Poller struct {
	redisClient  *redis.Client
	pool         *Pool
	logger       *slog.Logger
	pollInterval time.Duration
	batchSize    int64
}

func NewPoller(redisClient *redis.Client, pool *Pool, logger *slog.Logger) *Poller {
	return &Poller{
		redisClient:  redisClient,
		pool:         pool,
		logger:       logger,
		pollInterval: 100 * time.Millisecond,
		batchSize:    10,
	}
}

// Start begins the polling loop. It runs until the context is cancelled.
func (d *Poller) Start(ctx context.Context) {
	d.logger.Info("restock poller started")

	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("restock poller stopping")
			return
		case <-ticker.C:
			d.poll(ctx)
		}
	}
}

// poll claims a batch of due jobs and submits them. It returns how many
// jobs this instance claimed.
func (d *Poller) poll(ctx context.Context) int {
	now := strconv.FormatInt(time.Now().UnixMicro(), 10)

	results, err := d.redisClient.ZRangeByScore(ctx, engine.RestockQueueKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   now,
		Count: d.batchSize,
	}).Result()
	if err != nil {
		if ctx.Err() == nil {
			d.logger.Error("failed to poll restock queue", "error", err)
		}
		return 0
	}

	claimed := 0
	for _, member := range results {
		// ZRem returns 0 when another instance claimed the job first.
		removed, err := d.redisClient.ZRem(ctx, engine.RestockQueueKey, member).Result()
		if err != nil {
			d.logger.Error("failed to remove job from queue", "error", err)
			continue
		}
		if removed == 0 {
			continue
		}

		var job engine.RestockJob
		if err := json.Unmarshal([]byte(member), &job); err != nil {
			d.logger.Error("dropping malformed restock job", "error", err, "member", member)
			continue
		}

		if !d.pool.Submit(ctx, job) {
			// Shutting down; give the job back so another instance picks it up.
			d.redisClient.ZAdd(context.WithoutCancel(ctx), engine.RestockQueueKey, redis.Z{
				Score:  float64(time.Now().UnixMicro()),
				Member: member,
			})
			return claimed
		}
		claimed++
	}
	return claimed
}
