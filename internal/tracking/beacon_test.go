package tracking

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"

	"github.com/Priya8975/restock-notifier/internal/domain"
	"github.com/Priya8975/restock-notifier/internal/store"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type brokenRepo struct {
	store.Repository
}

func (brokenRepo) MarkOpened(context.Context, string) (bool, error) {
	return false, errors.New("connection reset")
}

func (brokenRepo) MarkClicked(context.Context, string) (bool, error) {
	return false, errors.New("connection reset")
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func notifiedSubscription(t *testing.T, repo store.Repository) string {
	t.Helper()
	ctx := context.Background()
	sub, _, err := repo.CreateSubscription(ctx, domain.CreateSubscriptionRequest{
		Shop: "demo.myshopify.com", Email: "ana@example.com", VariantID: "111",
	})
	require.NoError(t, err)
	_, err = repo.ClaimPending(ctx, "demo.myshopify.com", "111")
	require.NoError(t, err)
	return sub.ID
}

func TestBeacon_RecordOpen(t *testing.T) {
	repo := store.NewMemory()
	id := notifiedSubscription(t, repo)
	b := NewBeacon(repo, discard())

	b.RecordOpen(context.Background(), id)
	b.RecordOpen(context.Background(), id)
	b.Wait()

	sub, err := repo.GetSubscription(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, sub.Funnel.Opened())
	assert.False(t, sub.Funnel.Clicked())
}

func TestBeacon_RecordClickImpliesOpen(t *testing.T) {
	repo := store.NewMemory()
	id := notifiedSubscription(t, repo)
	b := NewBeacon(repo, discard())

	target, err := b.RecordClick(context.Background(), id, "https://demo.myshopify.com/products/linen-shirt?variant=111")
	require.NoError(t, err)
	assert.Equal(t, "https://demo.myshopify.com/products/linen-shirt?variant=111", target)
	b.Wait()

	sub, err := repo.GetSubscription(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, sub.Funnel.Opened())
	assert.True(t, sub.Funnel.Clicked())
}

func TestBeacon_UnknownIDsAreIgnored(t *testing.T) {
	b := NewBeacon(store.NewMemory(), discard())

	b.RecordOpen(context.Background(), uuid.NewString())
	b.RecordOpen(context.Background(), "../../etc/passwd")

	target, err := b.RecordClick(context.Background(), "nope", "https://example.com/")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/", target)
	b.Wait()
}

// Engagement needs a prior notification, so even a click on a subscription
// with every flag false leaves it pending.
func TestBeacon_ClickBeforeNotifyLeavesFunnelPending(t *testing.T) {
	repo := store.NewMemory()
	sub, _, err := repo.CreateSubscription(context.Background(), domain.CreateSubscriptionRequest{
		Shop: "demo.myshopify.com", Email: "ana@example.com", VariantID: "111",
	})
	require.NoError(t, err)
	b := NewBeacon(repo, discard())

	b.RecordOpen(context.Background(), sub.ID)
	_, err = b.RecordClick(context.Background(), sub.ID, "https://example.com/")
	require.NoError(t, err)
	b.Wait()

	got, err := repo.GetSubscription(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StagePending, got.Funnel.Stage())
	assert.False(t, got.Funnel.Opened())
	assert.False(t, got.Funnel.Clicked())
}

func TestBeacon_StoreFailureStillRedirects(t *testing.T) {
	b := NewBeacon(brokenRepo{}, discard())

	b.RecordOpen(context.Background(), uuid.NewString())
	target, err := b.RecordClick(context.Background(), uuid.NewString(), "https://example.com/x")
	b.Wait()

	require.NoError(t, err)
	assert.Equal(t, "https://example.com/x", target)
}

type slowRepo struct {
	store.Repository
	release chan struct{}
	marked  atomic.Bool
}

func (r *slowRepo) MarkOpened(context.Context, string) (bool, error) {
	<-r.release
	r.marked.Store(true)
	return true, nil
}

func TestBeacon_RecordOpenDoesNotWaitForStore(t *testing.T) {
	repo := &slowRepo{release: make(chan struct{})}
	b := NewBeacon(repo, discard())

	ctx, cancel := context.WithCancel(context.Background())
	b.RecordOpen(ctx, uuid.NewString())
	cancel()
	assert.False(t, repo.marked.Load())

	close(repo.release)
	b.Wait()
	assert.True(t, repo.marked.Load(), "write must survive the request ending")
}

func TestBeacon_InvalidTarget(t *testing.T) {
	repo := store.NewMemory()
	id := notifiedSubscription(t, repo)
	b := NewBeacon(repo, discard())

	_, err := b.RecordClick(context.Background(), id, "javascript:alert(1)")
	assert.ErrorIs(t, err, domain.ErrValidation)
	b.Wait()

	sub, err := repo.GetSubscription(context.Background(), id)
	require.NoError(t, err)
	assert.False(t, sub.Funnel.Clicked())
}

func TestRedirectTarget(t *testing.T) {
	tests := []struct {
		raw  string
		want bool
	}{
		{"https://demo.myshopify.com/products/x", true},
		{"http://demo.myshopify.com", true},
		{"  https://demo.myshopify.com/  ", true},
		{"", false},
		{"/products/x", false},
		{"//evil.example.com", false},
		{"javascript:alert(1)", false},
		{"ftp://example.com/file", false},
		{"https://", false},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			_, ok := RedirectTarget(tt.raw)
			assert.Equal(t, tt.want, ok)
		})
	}
}
