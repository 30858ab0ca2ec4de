package store

import (
	"context"
	"fmt"

	"github.com/Priya8975/restock-notifier/internal/domain"
)

// FunnelStats returns aggregated funnel counts for a shop.
func (s *PostgresStore) FunnelStats(ctx context.Context, shop string) (*domain.FunnelStats, error) {
	stats := domain.FunnelStats{Shop: shop}

	err := s.pool.QueryRow(ctx, `
		SELECT
			COUNT(*) AS total,
			COUNT(*) FILTER (WHERE notified) AS notified,
			COUNT(*) FILTER (WHERE opened) AS opened,
			COUNT(*) FILTER (WHERE clicked) AS clicked,
			COUNT(*) FILTER (WHERE purchased) AS purchased
		FROM subscriptions
		WHERE shop = $1
	`, shop).Scan(&stats.Subscriptions, &stats.Notified, &stats.Opened, &stats.Clicked, &stats.Purchased)
	if err != nil {
		return nil, fmt.Errorf("querying funnel stats: %w", err)
	}

	stats.Finalize()
	return &stats, nil
}
