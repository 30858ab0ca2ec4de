package store

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/Priya8975/restock-notifier/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// repositories returns every backend the contract runs against. Postgres
// joins only when RESTOCK_TEST_POSTGRES_DSN points at a scratch database.
func repositories(t *testing.T) map[string]func(t *testing.T) Repository {
	t.Helper()
	backends := map[string]func(t *testing.T) Repository{
		"memory": func(t *testing.T) Repository {
			return NewMemory()
		},
		"sqlite": func(t *testing.T) Repository {
			s, err := NewSQLite(filepath.Join(t.TempDir(), "restock.db"))
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		},
	}

	if dsn := os.Getenv("RESTOCK_TEST_POSTGRES_DSN"); dsn != "" {
		backends["postgres"] = func(t *testing.T) Repository {
			ctx := context.Background()
			s, err := NewPostgres(ctx, dsn)
			require.NoError(t, err)
			require.NoError(t, s.RunMigrations(ctx))
			_, err = s.Pool().Exec(ctx, "TRUNCATE subscriptions")
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		}
	}
	return backends
}

func forEachRepository(t *testing.T, fn func(t *testing.T, repo Repository)) {
	for name, open := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			fn(t, open(t))
		})
	}
}

func subscribe(t *testing.T, repo Repository, shop, email, variantID string) *domain.Subscription {
	t.Helper()
	sub, _, err := repo.CreateSubscription(context.Background(), domain.CreateSubscriptionRequest{
		Shop:            shop,
		Email:           email,
		VariantID:       variantID,
		ProductTitle:    "Linen Shirt",
		ProductHandle:   "linen-shirt",
		VariantTitle:    "M / Blue",
		Price:           "49.00",
		InventoryItemID: "inv-" + variantID,
	})
	require.NoError(t, err)
	return sub
}

func TestRepository_CreateSubscription(t *testing.T) {
	forEachRepository(t, func(t *testing.T, repo Repository) {
		ctx := context.Background()
		req := domain.CreateSubscriptionRequest{Shop: "demo.myshopify.com", Email: "ana@example.com", VariantID: "111"}

		first, created, err := repo.CreateSubscription(ctx, req)
		require.NoError(t, err)
		assert.True(t, created)
		assert.NoError(t, uuid.Validate(first.ID))
		assert.True(t, first.Funnel.Pending())
		assert.Nil(t, first.NotifiedAt)

		again, created, err := repo.CreateSubscription(ctx, req)
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, first.ID, again.ID)

		got, err := repo.GetSubscription(ctx, first.ID)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "ana@example.com", got.Email)
	})
}

func TestRepository_GetSubscription_Unknown(t *testing.T) {
	forEachRepository(t, func(t *testing.T, repo Repository) {
		ctx := context.Background()

		got, err := repo.GetSubscription(ctx, uuid.NewString())
		require.NoError(t, err)
		assert.Nil(t, got)

		got, err = repo.GetSubscription(ctx, "not-a-uuid")
		require.NoError(t, err)
		assert.Nil(t, got)
	})
}

func TestRepository_ClaimPending_OnlyOnce(t *testing.T) {
	forEachRepository(t, func(t *testing.T, repo Repository) {
		ctx := context.Background()
		shop := "demo.myshopify.com"
		subscribe(t, repo, shop, "a@example.com", "111")
		subscribe(t, repo, shop, "b@example.com", "111")
		subscribe(t, repo, shop, "c@example.com", "222")
		subscribe(t, repo, "other.myshopify.com", "d@example.com", "111")

		claimed, err := repo.ClaimPending(ctx, shop, "111")
		require.NoError(t, err)
		require.Len(t, claimed, 2)
		for _, sub := range claimed {
			assert.True(t, sub.Funnel.Notified())
			assert.NotNil(t, sub.NotifiedAt)
			assert.Equal(t, "Linen Shirt", sub.ProductTitle)
		}

		again, err := repo.ClaimPending(ctx, shop, "111")
		require.NoError(t, err)
		assert.Empty(t, again)

		pending, err := repo.ListSubscriptions(ctx, domain.SubscriptionFilter{Stage: domain.StagePending})
		require.NoError(t, err)
		assert.Len(t, pending, 2)
	})
}

func TestRepository_ClaimPending_Concurrent(t *testing.T) {
	forEachRepository(t, func(t *testing.T, repo Repository) {
		ctx := context.Background()
		shop := "demo.myshopify.com"
		for i := 0; i < 20; i++ {
			subscribe(t, repo, shop, uuid.NewString()+"@example.com", "111")
		}

		var mu sync.Mutex
		seen := map[string]int{}
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				claimed, err := repo.ClaimPending(ctx, shop, "111")
				assert.NoError(t, err)
				mu.Lock()
				defer mu.Unlock()
				for _, sub := range claimed {
					seen[sub.ID]++
				}
			}()
		}
		wg.Wait()

		assert.Len(t, seen, 20)
		for id, n := range seen {
			assert.Equal(t, 1, n, "subscription %s claimed %d times", id, n)
		}
	})
}

func TestRepository_ReleaseClaim(t *testing.T) {
	forEachRepository(t, func(t *testing.T, repo Repository) {
		ctx := context.Background()
		shop := "demo.myshopify.com"
		sub := subscribe(t, repo, shop, "a@example.com", "111")

		released, err := repo.ReleaseClaim(ctx, sub.ID)
		require.NoError(t, err)
		assert.False(t, released, "pending rows have nothing to release")

		_, err = repo.ClaimPending(ctx, shop, "111")
		require.NoError(t, err)
		require.NoError(t, repo.RecordSent(ctx, sub.ID, "<m1@restock>"))

		released, err = repo.ReleaseClaim(ctx, sub.ID)
		require.NoError(t, err)
		assert.True(t, released)

		got, err := repo.GetSubscription(ctx, sub.ID)
		require.NoError(t, err)
		assert.True(t, got.Funnel.Pending())
		assert.Nil(t, got.NotifiedAt)
		assert.Empty(t, got.MessageID)

		// Engagement pins the claim.
		_, err = repo.ClaimPending(ctx, shop, "111")
		require.NoError(t, err)
		_, err = repo.MarkOpened(ctx, sub.ID)
		require.NoError(t, err)
		released, err = repo.ReleaseClaim(ctx, sub.ID)
		require.NoError(t, err)
		assert.False(t, released)
	})
}

func TestRepository_RecordSent(t *testing.T) {
	forEachRepository(t, func(t *testing.T, repo Repository) {
		ctx := context.Background()
		sub := subscribe(t, repo, "demo.myshopify.com", "a@example.com", "111")

		require.NoError(t, repo.RecordSent(ctx, sub.ID, "<ignored@restock>"))
		got, err := repo.GetSubscription(ctx, sub.ID)
		require.NoError(t, err)
		assert.Empty(t, got.MessageID, "pending rows do not take a message id")

		_, err = repo.ClaimPending(ctx, "demo.myshopify.com", "111")
		require.NoError(t, err)
		require.NoError(t, repo.RecordSent(ctx, sub.ID, "<m1@restock>"))
		got, err = repo.GetSubscription(ctx, sub.ID)
		require.NoError(t, err)
		assert.Equal(t, "<m1@restock>", got.MessageID)
	})
}

func TestRepository_Engagement(t *testing.T) {
	forEachRepository(t, func(t *testing.T, repo Repository) {
		ctx := context.Background()
		shop := "demo.myshopify.com"
		sub := subscribe(t, repo, shop, "a@example.com", "111")

		// Not notified yet: nothing moves.
		changed, err := repo.MarkOpened(ctx, sub.ID)
		require.NoError(t, err)
		assert.False(t, changed)
		changed, err = repo.MarkClicked(ctx, sub.ID)
		require.NoError(t, err)
		assert.False(t, changed)

		_, err = repo.ClaimPending(ctx, shop, "111")
		require.NoError(t, err)

		changed, err = repo.MarkClicked(ctx, sub.ID)
		require.NoError(t, err)
		assert.True(t, changed)

		got, err := repo.GetSubscription(ctx, sub.ID)
		require.NoError(t, err)
		assert.True(t, got.Funnel.Opened(), "a click implies an open")
		assert.True(t, got.Funnel.Clicked())

		changed, err = repo.MarkOpened(ctx, sub.ID)
		require.NoError(t, err)
		assert.False(t, changed)
		changed, err = repo.MarkClicked(ctx, sub.ID)
		require.NoError(t, err)
		assert.False(t, changed)

		changed, err = repo.MarkOpened(ctx, "garbage")
		require.NoError(t, err)
		assert.False(t, changed)
	})
}

func TestRepository_MarkPurchased(t *testing.T) {
	forEachRepository(t, func(t *testing.T, repo Repository) {
		ctx := context.Background()
		shop := "demo.myshopify.com"
		notified := subscribe(t, repo, shop, "buyer@example.com", "111")
		_, err := repo.ClaimPending(ctx, shop, "111")
		require.NoError(t, err)
		pending := subscribe(t, repo, shop, "buyer@example.com", "222")

		ids, err := repo.MarkPurchased(ctx, shop, "111", "Buyer@Example.COM")
		require.NoError(t, err)
		assert.Equal(t, []string{notified.ID}, ids)

		got, err := repo.GetSubscription(ctx, notified.ID)
		require.NoError(t, err)
		assert.True(t, got.Funnel.Opened())
		assert.True(t, got.Funnel.Clicked())
		assert.True(t, got.Funnel.Purchased())

		ids, err = repo.MarkPurchased(ctx, shop, "111", "buyer@example.com")
		require.NoError(t, err)
		assert.Empty(t, ids, "repeat attribution is a no-op")

		ids, err = repo.MarkPurchased(ctx, shop, "222", "buyer@example.com")
		require.NoError(t, err)
		assert.Empty(t, ids, "pending subscriptions are never attributed")

		got, err = repo.GetSubscription(ctx, pending.ID)
		require.NoError(t, err)
		assert.True(t, got.Funnel.Pending())
	})
}

func TestRepository_ListSubscriptions(t *testing.T) {
	forEachRepository(t, func(t *testing.T, repo Repository) {
		ctx := context.Background()
		shop := "demo.myshopify.com"
		subscribe(t, repo, shop, "a@example.com", "111")
		subscribe(t, repo, shop, "b@example.com", "222")
		subscribe(t, repo, "other.myshopify.com", "a@example.com", "111")

		all, err := repo.ListSubscriptions(ctx, domain.SubscriptionFilter{})
		require.NoError(t, err)
		assert.Len(t, all, 3)

		byShop, err := repo.ListSubscriptions(ctx, domain.SubscriptionFilter{Shop: shop})
		require.NoError(t, err)
		assert.Len(t, byShop, 2)

		byEmail, err := repo.ListSubscriptions(ctx, domain.SubscriptionFilter{Email: "A@example.com"})
		require.NoError(t, err)
		assert.Len(t, byEmail, 2)

		limited, err := repo.ListSubscriptions(ctx, domain.SubscriptionFilter{Limit: 1})
		require.NoError(t, err)
		assert.Len(t, limited, 1)

		_, err = repo.ListSubscriptions(ctx, domain.SubscriptionFilter{Stage: "shipped"})
		assert.ErrorIs(t, err, domain.ErrValidation)
	})
}

func TestRepository_VariantsForInventoryItem(t *testing.T) {
	forEachRepository(t, func(t *testing.T, repo Repository) {
		ctx := context.Background()
		shop := "demo.myshopify.com"
		subscribe(t, repo, shop, "a@example.com", "111")
		subscribe(t, repo, shop, "b@example.com", "111")
		subscribe(t, repo, shop, "c@example.com", "222")

		refs, err := repo.VariantsForInventoryItem(ctx, shop, "inv-111")
		require.NoError(t, err)
		require.Len(t, refs, 1)
		assert.Equal(t, "111", refs[0].VariantID)
		assert.Equal(t, "Linen Shirt", refs[0].Product.ProductTitle)
		assert.Equal(t, "linen-shirt", refs[0].Product.ProductHandle)

		refs, err = repo.VariantsForInventoryItem(ctx, shop, "inv-unknown")
		require.NoError(t, err)
		assert.Empty(t, refs)
	})
}

func TestRepository_FunnelStats(t *testing.T) {
	forEachRepository(t, func(t *testing.T, repo Repository) {
		ctx := context.Background()
		shop := "demo.myshopify.com"
		a := subscribe(t, repo, shop, "a@example.com", "111")
		b := subscribe(t, repo, shop, "b@example.com", "111")
		subscribe(t, repo, shop, "c@example.com", "111")
		subscribe(t, repo, shop, "d@example.com", "222")

		_, err := repo.ClaimPending(ctx, shop, "111")
		require.NoError(t, err)
		_, err = repo.MarkOpened(ctx, a.ID)
		require.NoError(t, err)
		_, err = repo.MarkPurchased(ctx, shop, "111", b.Email)
		require.NoError(t, err)

		stats, err := repo.FunnelStats(ctx, shop)
		require.NoError(t, err)
		assert.Equal(t, 4, stats.Subscriptions)
		assert.Equal(t, 1, stats.Pending)
		assert.Equal(t, 3, stats.Notified)
		assert.Equal(t, 2, stats.Opened)
		assert.Equal(t, 1, stats.Clicked)
		assert.Equal(t, 1, stats.Purchased)
		assert.InDelta(t, 33.33, stats.ConversionRate, 0.01)

		empty, err := repo.FunnelStats(ctx, "nobody.myshopify.com")
		require.NoError(t, err)
		assert.Zero(t, empty.Subscriptions)
		assert.Zero(t, empty.ConversionRate)
	})
}

func TestRepository_FunnelOrderingHolds(t *testing.T) {
	forEachRepository(t, func(t *testing.T, repo Repository) {
		ctx := context.Background()
		shop := "demo.myshopify.com"
		for _, email := range []string{"a@example.com", "b@example.com", "c@example.com"} {
			subscribe(t, repo, shop, email, "111")
		}
		_, err := repo.ClaimPending(ctx, shop, "111")
		require.NoError(t, err)

		all, err := repo.ListSubscriptions(ctx, domain.SubscriptionFilter{Shop: shop})
		require.NoError(t, err)
		ids := make([]string, 0, len(all))
		for _, sub := range all {
			ids = append(ids, sub.ID)
		}
		sort.Strings(ids)

		_, err = repo.MarkClicked(ctx, ids[0])
		require.NoError(t, err)
		_, err = repo.MarkPurchased(ctx, shop, "111", "b@example.com")
		require.NoError(t, err)
		_, err = repo.ReleaseClaim(ctx, ids[2])
		require.NoError(t, err)

		all, err = repo.ListSubscriptions(ctx, domain.SubscriptionFilter{Shop: shop})
		require.NoError(t, err)
		for _, sub := range all {
			f := sub.Funnel
			if f.Opened() || f.Clicked() || f.Purchased() {
				assert.True(t, f.Notified(), "engagement without notification on %s", sub.ID)
			}
			if f.Clicked() {
				assert.True(t, f.Opened())
			}
			if f.Purchased() {
				assert.True(t, f.Opened() && f.Clicked())
			}
		}
	})
}
