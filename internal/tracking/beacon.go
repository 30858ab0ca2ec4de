// Package tracking records opens and clicks from notification emails.
package tracking

import (
	"context"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/Priya8975/restock-notifier/internal/domain"
	"github.com/Priya8975/restock-notifier/internal/store"
)

// Beacon applies engagement signals. Writes run after the pixel or redirect
// has been served; store failures are logged and swallowed.
type Beacon struct {
	repo    store.Repository
	logger  *slog.Logger
	timeout time.Duration
	wg      sync.WaitGroup
}

func NewBeacon(repo store.Repository, logger *slog.Logger) *Beacon {
	return &Beacon{repo: repo, logger: logger, timeout: 2 * time.Second}
}

// RecordOpen marks the subscription opened in the background. Unknown ids
// are ignored.
func (b *Beacon) RecordOpen(ctx context.Context, subscriptionID string) {
	b.record(ctx, "opened", subscriptionID, b.repo.MarkOpened)
}

// RecordClick validates the redirect target and marks the subscription
// opened and clicked in the background. Only a malformed target is an
// error; it leaves state alone.
func (b *Beacon) RecordClick(ctx context.Context, subscriptionID, rawTarget string) (string, error) {
	target, ok := RedirectTarget(rawTarget)
	if !ok {
		return "", domain.NewValidationError(domain.FieldError{Field: "url", Msg: "must be an absolute http(s) URL"})
	}

	b.record(ctx, "clicked", subscriptionID, b.repo.MarkClicked)
	return target, nil
}

// Wait blocks until every pending write has finished.
func (b *Beacon) Wait() {
	b.wg.Wait()
}

func (b *Beacon) record(ctx context.Context, signal, subscriptionID string, mark func(context.Context, string) (bool, error)) {
	// Detached from the request: clients hang up as soon as the headers arrive.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.timeout)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer cancel()

		changed, err := mark(ctx, subscriptionID)
		if err != nil {
			b.logger.Error("failed to record engagement", "error", err, "signal", signal, "subscription_id", subscriptionID)
			return
		}
		if changed {
			b.logger.Info("notification "+signal, "subscription_id", subscriptionID)
		}
	}()
}

// RedirectTarget accepts absolute http and https URLs only.
func RedirectTarget(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", false
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return u.String(), true
	default:
		return "", false
	}
}
