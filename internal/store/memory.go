package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Priya8975/restock-notifier/internal/domain"
	"github.com/google/uuid"
)

// MemoryStore is an in-process Repository for tests and local runs.
// All transitions go through domain.Funnel under one lock.
type MemoryStore struct {
	mu   sync.Mutex
	subs map[string]*domain.Subscription
	now  func() time.Time
}

func NewMemory() *MemoryStore {
	return &MemoryStore{
		subs: make(map[string]*domain.Subscription),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) CreateSubscription(_ context.Context, req domain.CreateSubscriptionRequest) (*domain.Subscription, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, sub := range m.subs {
		if sub.Shop == req.Shop && sub.Email == req.Email && sub.VariantID == req.VariantID {
			out := *sub
			return &out, false, nil
		}
	}

	now := m.now()
	sub := &domain.Subscription{
		ID:              uuid.NewString(),
		Shop:            req.Shop,
		Email:           req.Email,
		VariantID:       req.VariantID,
		ProductTitle:    req.ProductTitle,
		ProductHandle:   req.ProductHandle,
		VariantTitle:    req.VariantTitle,
		SubscribedPrice: req.Price,
		InventoryItemID: req.InventoryItemID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	m.subs[sub.ID] = sub
	out := *sub
	return &out, true, nil
}

func (m *MemoryStore) GetSubscription(_ context.Context, id string) (*domain.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sub, ok := m.subs[id]
	if !ok {
		return nil, nil
	}
	out := *sub
	return &out, nil
}

func (m *MemoryStore) ListSubscriptions(_ context.Context, filter domain.SubscriptionFilter) ([]domain.Subscription, error) {
	switch filter.Stage {
	case "", domain.StagePending, domain.StageNotified, domain.StageOpened, domain.StageClicked, domain.StagePurchased:
	default:
		return nil, domain.NewValidationError(domain.FieldError{Field: "stage", Msg: "unknown stage"})
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	out := []domain.Subscription{}
	for _, sub := range m.subs {
		if filter.Shop != "" && sub.Shop != filter.Shop {
			continue
		}
		if filter.VariantID != "" && sub.VariantID != filter.VariantID {
			continue
		}
		if filter.Email != "" && !strings.EqualFold(sub.Email, filter.Email) {
			continue
		}
		if filter.Stage != "" && sub.Funnel.Stage() != filter.Stage {
			continue
		}
		out = append(out, *sub)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *MemoryStore) ClaimPending(_ context.Context, shop, variantID string) ([]domain.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	claimed := []domain.Subscription{}
	for _, sub := range m.subs {
		if sub.Shop != shop || sub.VariantID != variantID {
			continue
		}
		funnel, ok := sub.Funnel.MarkNotified()
		if !ok {
			continue
		}
		sub.Funnel = funnel
		at := now
		sub.NotifiedAt = &at
		sub.UpdatedAt = now
		claimed = append(claimed, *sub)
	}
	return claimed, nil
}

// transition applies fn to one subscription under the lock.
func (m *MemoryStore) transition(id string, fn func(domain.Funnel) (domain.Funnel, bool)) *domain.Subscription {
	sub, ok := m.subs[id]
	if !ok {
		return nil
	}
	funnel, changed := fn(sub.Funnel)
	if !changed {
		return nil
	}
	sub.Funnel = funnel
	sub.UpdatedAt = m.now()
	return sub
}

func (m *MemoryStore) ReleaseClaim(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sub := m.transition(id, domain.Funnel.ReleaseClaim)
	if sub == nil {
		return false, nil
	}
	sub.NotifiedAt = nil
	sub.MessageID = ""
	return true, nil
}

func (m *MemoryStore) RecordSent(_ context.Context, id, messageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sub, ok := m.subs[id]; ok && sub.Funnel.Notified() {
		sub.MessageID = messageID
		sub.UpdatedAt = m.now()
	}
	return nil
}

func (m *MemoryStore) MarkOpened(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transition(id, domain.Funnel.MarkOpened) != nil, nil
}

func (m *MemoryStore) MarkClicked(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transition(id, domain.Funnel.MarkClicked) != nil, nil
}

func (m *MemoryStore) MarkPurchased(_ context.Context, shop, variantID, email string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := []string{}
	for id, sub := range m.subs {
		if sub.Shop != shop || sub.VariantID != variantID || !strings.EqualFold(sub.Email, email) {
			continue
		}
		if m.transition(id, domain.Funnel.MarkPurchased) != nil {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (m *MemoryStore) VariantsForInventoryItem(_ context.Context, shop, inventoryItemID string) ([]domain.VariantRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	latest := map[string]*domain.Subscription{}
	for _, sub := range m.subs {
		if sub.Shop != shop || sub.InventoryItemID == "" || sub.InventoryItemID != inventoryItemID {
			continue
		}
		if cur, ok := latest[sub.VariantID]; !ok || sub.CreatedAt.After(cur.CreatedAt) {
			latest[sub.VariantID] = sub
		}
	}

	refs := make([]domain.VariantRef, 0, len(latest))
	for variantID, sub := range latest {
		refs = append(refs, domain.VariantRef{VariantID: variantID, Product: sub.Product()})
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].VariantID < refs[j].VariantID })
	return refs, nil
}

func (m *MemoryStore) FunnelStats(_ context.Context, shop string) (*domain.FunnelStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := domain.FunnelStats{Shop: shop}
	for _, sub := range m.subs {
		if sub.Shop != shop {
			continue
		}
		stats.Subscriptions++
		if sub.Funnel.Notified() {
			stats.Notified++
		}
		if sub.Funnel.Opened() {
			stats.Opened++
		}
		if sub.Funnel.Clicked() {
			stats.Clicked++
		}
		if sub.Funnel.Purchased() {
			stats.Purchased++
		}
	}
	stats.Finalize()
	return &stats, nil
}
