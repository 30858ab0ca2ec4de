package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/Priya8975/restock-notifier/internal/domain"
	"github.com/Priya8975/restock-notifier/internal/engine"
)

// RestockDispatcher runs the claim-then-send cycle for one restock event.
type RestockDispatcher interface {
	Dispatch(ctx context.Context, event domain.RestockEvent) (domain.DispatchReport, error)
}

// Requeuer puts a job back on the queue after a delay.
type Requeuer interface {
	Requeue(ctx context.Context, job engine.RestockJob, delay time.Duration) error
}

// Runner dispatches queued restock jobs. A dispatch that fails before any
// claim is retried with exponential backoff; send failures are not, because
// the dispatcher already released those claims for the next signal.
type Runner struct {
	dispatcher  RestockDispatcher
	queue       Requeuer
	logger      *slog.Logger
	maxAttempts int
	baseDelay   time.Duration
}

func NewRunner(dispatcher RestockDispatcher, queue Requeuer, logger *slog.Logger) *Runner {
	return &Runner{
		dispatcher:  dispatcher,
		queue:       queue,
		logger:      logger,
		maxAttempts: 5,
		baseDelay:   2 * time.Second,
	}
}

func (r *Runner) Handle(ctx context.Context, job engine.RestockJob) {
	start := time.Now()

	report, err := r.dispatcher.Dispatch(ctx, job.Event())
	if err != nil {
		r.retry(ctx, job, err)
		return
	}

	elapsed := time.Since(start).Milliseconds()
	if report.PartialFailure() {
		r.logger.Warn("restock dispatched with failures",
			"shop", job.Shop,
			"variant_id", job.VariantID,
			"attempted", report.Attempted,
			"succeeded", report.Succeeded,
			"failed", report.Failed,
			"duration_ms", elapsed,
		)
		return
	}
	r.logger.Debug("restock job done",
		"shop", job.Shop,
		"variant_id", job.VariantID,
		"attempt", job.Attempt,
		"duration_ms", elapsed,
	)
}

func (r *Runner) retry(ctx context.Context, job engine.RestockJob, cause error) {
	job.Attempt++
	if job.Attempt >= r.maxAttempts || r.queue == nil {
		r.logger.Error("restock dispatch abandoned",
			"error", cause,
			"shop", job.Shop,
			"variant_id", job.VariantID,
			"attempts", job.Attempt,
		)
		return
	}

	delay := r.backoff(job.Attempt)
	// The job left the queue already; losing it to a cancelled ctx would drop
	// the signal.
	if err := r.queue.Requeue(context.WithoutCancel(ctx), job, delay); err != nil {
		r.logger.Error("failed to requeue restock job",
			"error", err,
			"cause", cause,
			"shop", job.Shop,
			"variant_id", job.VariantID,
		)
		return
	}
	r.logger.Warn("restock dispatch failed, retrying",
		"error", cause,
		"shop", job.Shop,
		"variant_id", job.VariantID,
		"attempt", job.Attempt,
		"retry_in", delay.String(),
	)
}

// backoff doubles per attempt: 2s, 4s, 8s, 16s.
func (r *Runner) backoff(attempt int) time.Duration {
	return r.baseDelay << (attempt - 1)
}
