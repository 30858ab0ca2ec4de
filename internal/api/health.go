package api

import (
	"context"
	"net/http"
	"time"

	"github.com/Priya8975/restock-notifier/internal/engine"
)

const version = "1.0.0"

type Pinger interface {
	Ping(ctx context.Context) error
}

type QueueDepther interface {
	Depth(ctx context.Context) (int64, error)
}

type MailState interface {
	State(ctx context.Context) engine.CircuitBreakerState
}

// HealthChecks are the dependencies reported by the health endpoint. Nil
// members are skipped.
type HealthChecks struct {
	Store Pinger
	Redis Pinger
	Queue QueueDepther
	Mail  MailState
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status      string                      `json:"status"`
	Version     string                      `json:"version"`
	Checks      map[string]string           `json:"checks,omitempty"`
	QueueDepth  *int64                      `json:"queue_depth,omitempty"`
	MailCircuit *engine.CircuitBreakerState `json:"mail_circuit,omitempty"`
}

// HealthHandler reports 503 when the store or Redis is unreachable. An open
// mail circuit degrades sends but not intake, so it is reported only.
func HealthHandler(checks HealthChecks) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		resp := HealthResponse{
			Status:  "healthy",
			Version: version,
			Checks:  map[string]string{},
		}
		status := http.StatusOK

		ping := func(name string, p Pinger) {
			if p == nil {
				return
			}
			if err := p.Ping(ctx); err != nil {
				resp.Checks[name] = err.Error()
				resp.Status = "unhealthy"
				status = http.StatusServiceUnavailable
				return
			}
			resp.Checks[name] = "ok"
		}
		ping("store", checks.Store)
		ping("redis", checks.Redis)

		if checks.Queue != nil {
			if depth, err := checks.Queue.Depth(ctx); err == nil {
				resp.QueueDepth = &depth
			}
		}
		if checks.Mail != nil {
			state := checks.Mail.State(ctx)
			resp.MailCircuit = &state
		}

		respondJSON(w, status, resp)
	}
}
