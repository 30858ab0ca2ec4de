// Package attribution links orders back to notified subscriptions.
package attribution

import (
	"context"
	"log/slog"
	"strings"

	"github.com/Priya8975/restock-notifier/internal/domain"
	"github.com/Priya8975/restock-notifier/internal/store"
)

type Attributor struct {
	repo   store.Repository
	logger *slog.Logger
}

func NewAttributor(repo store.Repository, logger *slog.Logger) *Attributor {
	return &Attributor{repo: repo, logger: logger}
}

// Attribute finalizes every notified subscription whose variant appears in the
// order and whose email matches the order email. Each variant is an
// independent write; a failing write is counted and the rest still apply.
// Replaying the same order changes nothing.
func (a *Attributor) Attribute(ctx context.Context, order domain.OrderEvent) domain.AttributionReport {
	report := domain.AttributionReport{Shop: order.Shop, OrderID: order.OrderID}

	email := strings.ToLower(strings.TrimSpace(order.Email))
	if email == "" || order.Shop == "" {
		return report
	}

	seen := make(map[string]bool, len(order.VariantIDs))
	for _, variantID := range order.VariantIDs {
		if variantID == "" || seen[variantID] {
			continue
		}
		seen[variantID] = true
		report.Checked++

		ids, err := a.repo.MarkPurchased(ctx, order.Shop, variantID, email)
		if err != nil {
			report.Failures++
			a.logger.Error("failed to attribute purchase",
				"error", err,
				"shop", order.Shop,
				"order_id", order.OrderID,
				"variant_id", variantID,
			)
			continue
		}
		report.Matched += len(ids)
		for _, id := range ids {
			a.logger.Info("purchase attributed",
				"shop", order.Shop,
				"order_id", order.OrderID,
				"variant_id", variantID,
				"subscription_id", id,
			)
		}
	}
	return report
}
