package store

import (
	"context"
	"embed"
	"fmt"

	"github.com/Priya8975/restock-notifier/internal/domain"
	"github.com/google/uuid"
)

//go:embed migrations
var migrationsFS embed.FS

// Repository is the persistent record store for subscriptions.
//
// Every funnel transition is a single conditional write: a row only moves when
// its current flags allow it, so concurrent callers never undo each other.
type Repository interface {
	// CreateSubscription inserts a pending subscription. When one already exists
	// for (shop, email, variant) it is returned with created=false.
	CreateSubscription(ctx context.Context, req domain.CreateSubscriptionRequest) (sub *domain.Subscription, created bool, err error)
	// GetSubscription returns nil, nil when no subscription has the id.
	GetSubscription(ctx context.Context, id string) (*domain.Subscription, error)
	ListSubscriptions(ctx context.Context, filter domain.SubscriptionFilter) ([]domain.Subscription, error)

	// ClaimPending atomically flips every pending subscription for the variant
	// to notified and returns the rows this caller won.
	ClaimPending(ctx context.Context, shop, variantID string) ([]domain.Subscription, error)
	// ReleaseClaim returns a claimed subscription to pending if it has no engagement.
	ReleaseClaim(ctx context.Context, id string) (bool, error)
	RecordSent(ctx context.Context, id, messageID string) error

	MarkOpened(ctx context.Context, id string) (bool, error)
	MarkClicked(ctx context.Context, id string) (bool, error)
	// MarkPurchased finalizes every notified, unpurchased subscription for the
	// variant whose email matches case-insensitively. It returns the ids updated.
	MarkPurchased(ctx context.Context, shop, variantID, email string) ([]string, error)

	VariantsForInventoryItem(ctx context.Context, shop, inventoryItemID string) ([]domain.VariantRef, error)
	FunnelStats(ctx context.Context, shop string) (*domain.FunnelStats, error)

	Ping(ctx context.Context) error
	Close() error
}

// Open builds the repository for a configured driver.
func Open(ctx context.Context, driver, dsn string) (Repository, error) {
	switch driver {
	case "postgres":
		return NewPostgres(ctx, dsn)
	case "sqlite":
		return NewSQLite(dsn)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}

// validID reports whether id can name a subscription. Beacon ids come from
// untrusted query strings.
func validID(id string) bool {
	return uuid.Validate(id) == nil
}
