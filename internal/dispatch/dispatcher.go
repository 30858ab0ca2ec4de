// Package dispatch turns a restock signal into at most one email per pending
// subscriber.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Priya8975/restock-notifier/internal/domain"
	"github.com/Priya8975/restock-notifier/internal/mail"
	"github.com/Priya8975/restock-notifier/internal/store"
)

// Dispatcher owns the claim-then-send lifecycle. It keeps no state between
// calls: the store's conditional claim is the only mutual exclusion.
type Dispatcher struct {
	repo        store.Repository
	mailer      mail.Mailer
	renderer    *Renderer
	logger      *slog.Logger
	concurrency int
	sendTimeout time.Duration
}

type Options struct {
	Concurrency int
	SendTimeout time.Duration
}

func New(repo store.Repository, mailer mail.Mailer, renderer *Renderer, opts Options, logger *slog.Logger) *Dispatcher {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 15 * time.Second
	}
	return &Dispatcher{
		repo:        repo,
		mailer:      mailer,
		renderer:    renderer,
		logger:      logger,
		concurrency: opts.Concurrency,
		sendTimeout: opts.SendTimeout,
	}
}

type sendOutcome struct {
	sub       domain.Subscription
	messageID string
	err       error
}

// Dispatch claims the pending cohort for the variant and notifies each member.
// Individual send failures are compensated and reported, never returned; the
// error is non-nil only when the cohort could not be claimed.
func (d *Dispatcher) Dispatch(ctx context.Context, event domain.RestockEvent) (domain.DispatchReport, error) {
	report := domain.DispatchReport{Shop: event.Shop, VariantID: event.VariantID}

	claimed, err := d.repo.ClaimPending(ctx, event.Shop, event.VariantID)
	if err != nil {
		return report, domain.Transient(fmt.Errorf("claiming cohort: %w", err))
	}
	if len(claimed) == 0 {
		d.logger.Debug("no pending subscriptions", "shop", event.Shop, "variant_id", event.VariantID)
		return report, nil
	}

	report.Attempted = len(claimed)
	outcomes := make([]sendOutcome, len(claimed))

	sem := make(chan struct{}, d.concurrency)
	var wg sync.WaitGroup
	for i, sub := range claimed {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, sub domain.Subscription) {
			defer wg.Done()
			defer func() { <-sem }()
			messageID, err := d.send(ctx, sub, event.Product)
			outcomes[i] = sendOutcome{sub: sub, messageID: messageID, err: err}
		}(i, sub)
	}
	wg.Wait()

	// Bookkeeping must finish even if the caller has gone away, otherwise a
	// claimed row could be stranded as notified without an email.
	settle := context.WithoutCancel(ctx)
	for _, out := range outcomes {
		if out.err == nil {
			report.Succeeded++
			if err := d.repo.RecordSent(settle, out.sub.ID, out.messageID); err != nil {
				d.logger.Error("failed to record sent message", "error", err, "subscription_id", out.sub.ID)
			}
			continue
		}

		report.Failed++
		released, err := d.repo.ReleaseClaim(settle, out.sub.ID)
		if err != nil {
			d.logger.Error("failed to release claim", "error", err, "subscription_id", out.sub.ID)
		}
		report.Failures = append(report.Failures, domain.SendFailure{
			SubscriptionID: out.sub.ID,
			Error:          out.err.Error(),
			Released:       released,
		})
		d.logger.Warn("notification failed",
			"shop", event.Shop,
			"variant_id", event.VariantID,
			"subscription_id", out.sub.ID,
			"released", released,
			"error", out.err,
		)
	}

	d.logger.Info("restock dispatched",
		"shop", event.Shop,
		"variant_id", event.VariantID,
		"attempted", report.Attempted,
		"succeeded", report.Succeeded,
		"failed", report.Failed,
	)
	return report, nil
}

func (d *Dispatcher) send(ctx context.Context, sub domain.Subscription, product domain.ProductContext) (string, error) {
	email, err := d.renderer.Render(sub, product)
	if err != nil {
		return "", err
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	defer cancel()

	result, err := d.mailer.Send(sendCtx, mail.Message{
		Shop:    sub.Shop,
		To:      sub.Email,
		Subject: email.Subject,
		HTML:    email.HTML,
		Text:    email.Text,
		Headers: map[string]string{"X-Restock-Subscription": sub.ID},
	})
	if err != nil {
		return "", err
	}
	return result.MessageID, nil
}
