package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Priya8975/restock-notifier/internal/domain"
	"github.com/Priya8975/restock-notifier/internal/mail"
	"github.com/Priya8975/restock-notifier/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const shop = "demo.myshopify.com"

// recordingMailer counts deliveries per recipient and fails for listed ones.
type recordingMailer struct {
	mu    sync.Mutex
	sent  map[string]int
	fail  map[string]bool
	delay time.Duration
}

func newRecordingMailer(failFor ...string) *recordingMailer {
	m := &recordingMailer{sent: map[string]int{}, fail: map[string]bool{}}
	for _, email := range failFor {
		m.fail[email] = true
	}
	return m
}

func (m *recordingMailer) Send(ctx context.Context, msg mail.Message) (mail.SendResult, error) {
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return mail.SendResult{}, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail[msg.To] {
		return mail.SendResult{}, errors.New("550 mailbox unavailable")
	}
	m.sent[msg.To]++
	return mail.SendResult{MessageID: fmt.Sprintf("<%s@test>", msg.To), SentAt: time.Now()}, nil
}

func (m *recordingMailer) count(email string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sent[email]
}

func newDispatcher(t *testing.T, repo store.Repository, mailer mail.Mailer) *Dispatcher {
	t.Helper()
	renderer, err := NewRenderer("https://restock.example.com")
	require.NoError(t, err)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(repo, mailer, renderer, Options{Concurrency: 4, SendTimeout: time.Second}, logger)
}

func repos(t *testing.T) map[string]store.Repository {
	t.Helper()
	sqlite, err := store.NewSQLite(filepath.Join(t.TempDir(), "restock.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })
	return map[string]store.Repository{
		"memory": store.NewMemory(),
		"sqlite": sqlite,
	}
}

func seed(t *testing.T, repo store.Repository, variantID string, emails ...string) map[string]string {
	t.Helper()
	ids := map[string]string{}
	for _, email := range emails {
		sub, _, err := repo.CreateSubscription(context.Background(), domain.CreateSubscriptionRequest{
			Shop:          shop,
			Email:         email,
			VariantID:     variantID,
			ProductTitle:  "Linen Shirt",
			ProductHandle: "linen-shirt",
		})
		require.NoError(t, err)
		ids[email] = sub.ID
	}
	return ids
}

func restock(variantID string) domain.RestockEvent {
	return domain.RestockEvent{Shop: shop, VariantID: variantID, Quantity: 5}
}

func TestDispatch_NotifiesCohort(t *testing.T) {
	for name, repo := range repos(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			ids := seed(t, repo, "111", "a@example.com", "b@example.com")
			seed(t, repo, "222", "c@example.com")
			mailer := newRecordingMailer()

			report, err := newDispatcher(t, repo, mailer).Dispatch(ctx, restock("111"))
			require.NoError(t, err)

			assert.Equal(t, 2, report.Attempted)
			assert.Equal(t, 2, report.Succeeded)
			assert.Zero(t, report.Failed)
			assert.Equal(t, 1, mailer.count("a@example.com"))
			assert.Equal(t, 1, mailer.count("b@example.com"))
			assert.Zero(t, mailer.count("c@example.com"))

			sub, err := repo.GetSubscription(ctx, ids["a@example.com"])
			require.NoError(t, err)
			assert.True(t, sub.Funnel.Notified())
			assert.Equal(t, "<a@example.com@test>", sub.MessageID)
		})
	}
}

func TestDispatch_SecondSignalSendsNothing(t *testing.T) {
	for name, repo := range repos(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			seed(t, repo, "111", "a@example.com")
			mailer := newRecordingMailer()
			d := newDispatcher(t, repo, mailer)

			_, err := d.Dispatch(ctx, restock("111"))
			require.NoError(t, err)
			report, err := d.Dispatch(ctx, restock("111"))
			require.NoError(t, err)

			assert.Zero(t, report.Attempted)
			assert.Equal(t, 1, mailer.count("a@example.com"))
		})
	}
}

func TestDispatch_ConcurrentSignalsSendOnce(t *testing.T) {
	for name, repo := range repos(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			var emails []string
			for i := 0; i < 25; i++ {
				emails = append(emails, fmt.Sprintf("customer%02d@example.com", i))
			}
			seed(t, repo, "111", emails...)
			mailer := newRecordingMailer()
			mailer.delay = 5 * time.Millisecond
			d := newDispatcher(t, repo, mailer)

			var wg sync.WaitGroup
			reports := make([]domain.DispatchReport, 2)
			for i := range reports {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					report, err := d.Dispatch(ctx, restock("111"))
					assert.NoError(t, err)
					reports[i] = report
				}(i)
			}
			wg.Wait()

			for _, email := range emails {
				assert.Equal(t, 1, mailer.count(email), "%s should get exactly one email", email)
			}
			assert.Equal(t, 25, reports[0].Succeeded+reports[1].Succeeded)
		})
	}
}

func TestDispatch_PartialFailureReleasesOnlyFailed(t *testing.T) {
	for name, repo := range repos(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			ids := seed(t, repo, "111", "a@example.com", "b@example.com", "c@example.com")
			mailer := newRecordingMailer("b@example.com")

			report, err := newDispatcher(t, repo, mailer).Dispatch(ctx, restock("111"))
			require.NoError(t, err)

			assert.Equal(t, 3, report.Attempted)
			assert.Equal(t, 2, report.Succeeded)
			assert.Equal(t, 1, report.Failed)
			assert.True(t, report.PartialFailure())
			require.Len(t, report.Failures, 1)
			assert.Equal(t, ids["b@example.com"], report.Failures[0].SubscriptionID)
			assert.True(t, report.Failures[0].Released)

			for email, id := range ids {
				sub, err := repo.GetSubscription(ctx, id)
				require.NoError(t, err)
				assert.Equal(t, email != "b@example.com", sub.Funnel.Notified(), email)
			}

			// The released subscriber re-enters the next cohort.
			mailer.mu.Lock()
			delete(mailer.fail, "b@example.com")
			mailer.mu.Unlock()
			report, err = newDispatcher(t, repo, mailer).Dispatch(ctx, restock("111"))
			require.NoError(t, err)
			assert.Equal(t, 1, report.Succeeded)
			assert.Equal(t, 1, mailer.count("a@example.com"))
			assert.Equal(t, 1, mailer.count("b@example.com"))
		})
	}
}

func TestDispatch_TimeoutIsCompensated(t *testing.T) {
	repo := store.NewMemory()
	ctx := context.Background()
	ids := seed(t, repo, "111", "slow@example.com")

	mailer := newRecordingMailer()
	mailer.delay = time.Second
	renderer, err := NewRenderer("https://restock.example.com")
	require.NoError(t, err)
	d := New(repo, mailer, renderer, Options{Concurrency: 1, SendTimeout: 20 * time.Millisecond},
		slog.New(slog.NewTextHandler(io.Discard, nil)))

	report, err := d.Dispatch(ctx, restock("111"))
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)

	sub, err := repo.GetSubscription(ctx, ids["slow@example.com"])
	require.NoError(t, err)
	assert.True(t, sub.Funnel.Pending())
}

func TestDispatch_NoPendingIsEmptyReport(t *testing.T) {
	report, err := newDispatcher(t, store.NewMemory(), newRecordingMailer()).Dispatch(context.Background(), restock("999"))
	require.NoError(t, err)
	assert.Equal(t, domain.DispatchReport{Shop: shop, VariantID: "999"}, report)
}
