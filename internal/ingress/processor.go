// Package ingress validates and normalizes inbound Shopify webhooks and routes
// them to dispatch and attribution.
package ingress

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Priya8975/restock-notifier/internal/domain"
)

// Webhook is a delivery that has already passed authentication.
type Webhook struct {
	ID    string
	Topic string
	Shop  string
	Body  []byte
}

// RestockQueue accepts restock events for asynchronous dispatch.
type RestockQueue interface {
	Enqueue(ctx context.Context, event domain.RestockEvent) (bool, error)
}

// RestockDispatcher dispatches a restock event synchronously.
type RestockDispatcher interface {
	Dispatch(ctx context.Context, event domain.RestockEvent) (domain.DispatchReport, error)
}

type PurchaseAttributor interface {
	Attribute(ctx context.Context, order domain.OrderEvent) domain.AttributionReport
}

type VariantResolver interface {
	VariantsForInventoryItem(ctx context.Context, shop, inventoryItemID string) ([]domain.VariantRef, error)
}

// Deduper short-circuits exact redeliveries.
type Deduper interface {
	FirstSeen(ctx context.Context, id string) bool
	Forget(ctx context.Context, id string)
}

// Outcome summarizes what a webhook caused.
type Outcome struct {
	Topic       string                    `json:"topic"`
	Duplicate   bool                      `json:"duplicate,omitempty"`
	Ignored     bool                      `json:"ignored,omitempty"`
	Restocks    int                       `json:"restocks"`
	Queued      int                       `json:"queued"`
	Dispatched  []domain.DispatchReport   `json:"dispatched,omitempty"`
	Attribution *domain.AttributionReport `json:"attribution,omitempty"`
}

// Processor routes authenticated webhooks by topic.
type Processor struct {
	schemas    *Schemas
	queue      RestockQueue
	dispatcher RestockDispatcher
	attributor PurchaseAttributor
	resolver   VariantResolver
	deduper    Deduper
	logger     *slog.Logger
}

type ProcessorDeps struct {
	Schemas    *Schemas
	Queue      RestockQueue // optional; restocks dispatch inline without it
	Dispatcher RestockDispatcher
	Attributor PurchaseAttributor
	Resolver   VariantResolver
	Deduper    Deduper // optional
}

func NewProcessor(deps ProcessorDeps, logger *slog.Logger) *Processor {
	return &Processor{
		schemas:    deps.Schemas,
		queue:      deps.Queue,
		dispatcher: deps.Dispatcher,
		attributor: deps.Attributor,
		resolver:   deps.Resolver,
		deduper:    deps.Deduper,
		logger:     logger,
	}
}

// Process handles one webhook. Validation errors mean the payload will never
// succeed. Transient errors mean nothing was done and a redelivery should be
// accepted, so the delivery id is forgotten.
func (p *Processor) Process(ctx context.Context, w Webhook) (Outcome, error) {
	out := Outcome{Topic: w.Topic}

	switch w.Topic {
	case domain.TopicProductsUpdate, domain.TopicOrdersCreate, domain.TopicInventoryLevelsUpdate:
	default:
		out.Ignored = true
		p.logger.Info("webhook topic ignored", "topic", w.Topic, "shop", w.Shop)
		return out, nil
	}

	if p.deduper != nil && !p.deduper.FirstSeen(ctx, w.ID) {
		out.Duplicate = true
		p.logger.Info("duplicate webhook skipped", "webhook_id", w.ID, "topic", w.Topic, "shop", w.Shop)
		return out, nil
	}

	err := p.route(ctx, w, &out)
	if err != nil && p.deduper != nil {
		p.deduper.Forget(ctx, w.ID)
	}
	return out, err
}

func (p *Processor) route(ctx context.Context, w Webhook, out *Outcome) error {
	if p.schemas != nil {
		if err := p.schemas.Validate(w.Topic, w.Body); err != nil {
			return err
		}
	}

	switch w.Topic {
	case domain.TopicProductsUpdate:
		events, err := ParseProductUpdate(w.Shop, w.Body)
		if err != nil {
			return err
		}
		for _, event := range events {
			p.restock(ctx, event, out)
		}
		return nil

	case domain.TopicInventoryLevelsUpdate:
		level, err := ParseInventoryLevel(w.Shop, w.Body)
		if err != nil {
			return err
		}
		if level.Available <= 0 {
			return nil
		}
		refs, err := p.resolver.VariantsForInventoryItem(ctx, level.Shop, level.InventoryItemID)
		if err != nil {
			return domain.Transient(fmt.Errorf("resolving inventory item %s: %w", level.InventoryItemID, err))
		}
		for _, ref := range refs {
			p.restock(ctx, domain.RestockEvent{
				Shop:      level.Shop,
				VariantID: ref.VariantID,
				Quantity:  level.Available,
				Product:   ref.Product,
			}, out)
		}
		return nil

	case domain.TopicOrdersCreate:
		order, err := ParseOrder(w.Shop, w.Body)
		if err != nil {
			return err
		}
		report := p.attributor.Attribute(ctx, order)
		out.Attribution = &report
		return nil
	}
	return nil
}

// restock queues the event, or dispatches it inline when the queue is absent
// or unavailable.
func (p *Processor) restock(ctx context.Context, event domain.RestockEvent, out *Outcome) {
	out.Restocks++

	if p.queue != nil {
		_, err := p.queue.Enqueue(ctx, event)
		if err == nil {
			out.Queued++
			return
		}
		p.logger.Warn("restock queue unavailable, dispatching inline",
			"error", err,
			"shop", event.Shop,
			"variant_id", event.VariantID,
		)
	}

	report, err := p.dispatcher.Dispatch(ctx, event)
	if err != nil {
		// Nothing was claimed; the next restock signal retries.
		p.logger.Error("inline dispatch failed",
			"error", err,
			"shop", event.Shop,
			"variant_id", event.VariantID,
		)
	}
	out.Dispatched = append(out.Dispatched, report)
}
