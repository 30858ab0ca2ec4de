package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/Priya8975/restock-notifier/internal/domain"
	"github.com/redis/go-redis/v9"
)

const RestockQueueKey = "restock_queue"

// RestockJob asks a worker to dispatch the pending cohort of one variant.
// The quantity is deliberately absent: two signals for the same variant and
// product context encode to the same member and collapse into one job.
type RestockJob struct {
	Shop      string                `json:"shop"`
	VariantID string                `json:"variant_id"`
	Product   domain.ProductContext `json:"product"`
	Attempt   int                   `json:"attempt,omitempty"`
}

// Event converts the job back into the restock event a dispatcher consumes.
func (j RestockJob) Event() domain.RestockEvent {
	return domain.RestockEvent{Shop: j.Shop, VariantID: j.VariantID, Product: j.Product}
}

// RestockQueue is a Redis sorted set of restock jobs scored by enqueue time.
type RestockQueue struct {
	redisClient *redis.Client
	logger      *slog.Logger
}

func NewRestockQueue(redisClient *redis.Client, logger *slog.Logger) *RestockQueue {
	return &RestockQueue{redisClient: redisClient, logger: logger}
}

// Enqueue adds a job for the event. It returns false when an identical job is
// already waiting; the earlier score is kept so the job is not starved.
func (q *RestockQueue) Enqueue(ctx context.Context, event domain.RestockEvent) (bool, error) {
	job := RestockJob{Shop: event.Shop, VariantID: event.VariantID, Product: event.Product}
	member, err := json.Marshal(job)
	if err != nil {
		return false, fmt.Errorf("marshaling restock job: %w", err)
	}

	added, err := q.redisClient.ZAddNX(ctx, RestockQueueKey, redis.Z{
		Score:  float64(time.Now().UnixMicro()),
		Member: string(member),
	}).Result()
	if err != nil {
		return false, domain.Transient(fmt.Errorf("queuing restock job: %w", err))
	}

	q.logger.Info("restock queued",
		"shop", event.Shop,
		"variant_id", event.VariantID,
		"quantity", event.Quantity,
		"collapsed", added == 0,
	)
	return added > 0, nil
}

// Requeue schedules job to become due after delay. Retries carry their attempt
// number, so they do not collapse into a fresh signal for the same variant.
func (q *RestockQueue) Requeue(ctx context.Context, job RestockJob, delay time.Duration) error {
	member, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshaling restock job: %w", err)
	}
	err = q.redisClient.ZAdd(ctx, RestockQueueKey, redis.Z{
		Score:  float64(time.Now().Add(delay).UnixMicro()),
		Member: string(member),
	}).Err()
	if err != nil {
		return domain.Transient(fmt.Errorf("requeuing restock job: %w", err))
	}
	return nil
}

// Depth returns the number of jobs waiting.
func (q *RestockQueue) Depth(ctx context.Context) (int64, error) {
	return q.redisClient.ZCard(ctx, RestockQueueKey).Result()
}
