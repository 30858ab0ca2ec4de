package api

import (
	"log/slog"
	"net/http"

	"github.com/Priya8975/restock-notifier/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Deps are the components the HTTP surface routes to.
type Deps struct {
	Repo      store.Repository
	Processor WebhookProcessor
	Beacon    Beacon
	Health    HealthChecks
	Secret    string
	MaxBody   int64
	Logger    *slog.Logger
}

// NewRouter creates and configures the HTTP router.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))

	webhooks := NewWebhookHandler(deps.Processor, deps.Secret, deps.MaxBody, deps.Logger)
	tracking := NewTrackingHandler(deps.Beacon)
	subs := NewSubscriptionHandler(deps.Repo, deps.Secret, deps.MaxBody, deps.Logger)

	r.Post("/webhooks/shopify", webhooks.Receive)

	// Shopify app proxy
	r.Post("/apps/restock/subscribe", subs.Subscribe)

	r.Route("/t", func(r chi.Router) {
		r.Get("/open", tracking.Open)
		r.Get("/click", tracking.Click)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", HealthHandler(deps.Health))
		r.Get("/funnel", subs.Funnel)

		r.Route("/subscriptions", func(r chi.Router) {
			r.Get("/", subs.List)
			r.Get("/{id}", subs.Get)
		})
	})

	return r
}
