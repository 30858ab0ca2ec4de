package worker

import (
	"context"
	"log/slog"
	"sync"

	"github.com/Priya8975/restock-notifier/internal/engine"
)

// JobHandler processes one restock job.
type JobHandler interface {
	Handle(ctx context.Context, job engine.RestockJob)
}

// Pool manages a fixed number of worker goroutines that process restock jobs.
type Pool struct {
	numWorkers int
	jobs       chan engine.RestockJob
	handler    JobHandler
	logger     *slog.Logger
	wg         sync.WaitGroup
}

// NewPool creates a worker pool with the given number of workers.
func NewPool(numWorkers int, handler JobHandler, logger *slog.Logger) *Pool {
	if numWorkers <= 0 {
		numWorkers = 1
	}
	return &Pool{
		numWorkers: numWorkers,
		jobs:       make(chan engine.RestockJob, numWorkers*2),
		handler:    handler,
		logger:     logger,
	}
}

// Start launches all worker goroutines. They read from the jobs channel
// until it is closed, so every submitted job is handled; ctx is only passed
// through to the handler. Callers that want a drain on shutdown pass a
// context that outlives the signal and call Stop.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.numWorkers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
	p.logger.Info("worker pool started", "num_workers", p.numWorkers)
}

// Submit hands a job to the pool. It blocks while every worker is busy and
// the buffer is full, and gives up when ctx is cancelled.
func (p *Pool) Submit(ctx context.Context, job engine.RestockJob) bool {
	select {
	case p.jobs <- job:
		return true
	case <-ctx.Done():
		return false
	}
}

// Stop closes the jobs channel and waits for in-flight jobs to finish.
func (p *Pool) Stop() {
	close(p.jobs)
	p.wg.Wait()
	p.logger.Info("worker pool stopped")
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	for job := range p.jobs {
		p.logger.Debug("handling restock job", "worker", id, "shop", job.Shop, "variant_id", job.VariantID)
		p.handler.Handle(ctx, job)
	}
}
