package mail

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Priya8975/restock-notifier/internal/domain"
	"github.com/Priya8975/restock-notifier/internal/engine"
)

const recordTimeout = 2 * time.Second

// Guarded wraps a transport with a per-shop send rate limit and a circuit
// breaker for the transport itself. Every error it returns is transient.
type Guarded struct {
	next          Mailer
	name          string
	limiter       *engine.RateLimiter
	breaker       *engine.CircuitBreaker
	ratePerSecond int
	logger        *slog.Logger
}

func NewGuarded(next Mailer, name string, limiter *engine.RateLimiter, breaker *engine.CircuitBreaker, ratePerSecond int, logger *slog.Logger) *Guarded {
	return &Guarded{
		next:          next,
		name:          name,
		limiter:       limiter,
		breaker:       breaker,
		ratePerSecond: ratePerSecond,
		logger:        logger,
	}
}

func (g *Guarded) Send(ctx context.Context, msg Message) (SendResult, error) {
	if err := g.limiter.Wait(ctx, "mail:"+msg.Shop, g.ratePerSecond); err != nil {
		return SendResult{}, domain.Transient(fmt.Errorf("waiting for send slot: %w", err))
	}

	if state, allowed := g.breaker.AllowRequest(ctx, g.name); !allowed {
		g.logger.Debug("send rejected by circuit breaker", "transport", g.name, "state", state, "shop", msg.Shop)
		return SendResult{}, domain.Transient(fmt.Errorf("%w: %s is %s", ErrCircuitOpen, g.name, state))
	}

	result, err := g.next.Send(ctx, msg)

	// The send context may have expired with the send itself; the outcome
	// still has to reach the breaker.
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()

	if err != nil {
		g.breaker.RecordFailure(recordCtx, g.name)
		return SendResult{}, domain.Transient(fmt.Errorf("sending via %s: %w", g.name, err))
	}

	g.breaker.RecordSuccess(recordCtx, g.name)
	return result, nil
}

// State reports the transport's circuit.
func (g *Guarded) State(ctx context.Context) engine.CircuitBreakerState {
	return g.breaker.GetState(ctx, g.name)
}
