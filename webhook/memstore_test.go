package webhook_test

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/marcelsud/webhook-dispatch/webhook"
)

// memStore is an in-memory webhook.Repository and webhook.PolicyReader for scenario tests
type memStore struct {
	mu            sync.Mutex
	deliveries    map[string]webhook.Delivery
	subscriptions map[string]webhook.Subscription
	policies      map[string]webhook.RetryPolicy
	claims        map[string]string
	clock         func() time.Time
}

func newMemStore(clock func() time.Time) *memStore {
	return &memStore{
		deliveries:    make(map[string]webhook.Delivery),
		subscriptions: make(map[string]webhook.Subscription),
		policies:      make(map[string]webhook.RetryPolicy),
		claims:        make(map[string]string),
		clock:         clock,
	}
}

func (m *memStore) GetDelivery(_ context.Context, id string) (webhook.Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deliveries[id]
	if !ok {
		return webhook.Delivery{}, fmt.Errorf("%w: %s", webhook.ErrDeliveryNotFound, id)
	}
	return d, nil
}

func (m *memStore) ListDue(_ context.Context, now time.Time, limit int) ([]webhook.Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var due []webhook.Delivery
	for _, d := range m.deliveries {
		if d.Status.IsDue() && !d.NextRetryAt.After(now) {
			due = append(due, d)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].NextRetryAt.Before(due[j].NextRetryAt) })
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (m *memStore) ListDeadLetters(_ context.Context, orgID string, limit int) ([]webhook.Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var items []webhook.Delivery
	for _, d := range m.deliveries {
		if d.OrgID == orgID && d.Status == webhook.DLQ {
			items = append(items, d)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ResolvedAt.Before(items[j].ResolvedAt) })
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (m *memStore) DeadLetterStats(_ context.Context, orgID string) (webhook.DeadLetterStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var stats webhook.DeadLetterStats
	webhooks := make(map[string]struct{})
	for _, d := range m.deliveries {
		if d.OrgID != orgID || d.Status != webhook.DLQ {
			continue
		}
		stats.Count++
		webhooks[d.WebhookID] = struct{}{}
		if stats.Oldest.IsZero() || d.ResolvedAt.Before(stats.Oldest) {
			stats.Oldest = d.ResolvedAt
		}
	}
	stats.UniqueWebhooks = len(webhooks)
	return stats, nil
}

func (m *memStore) CreateDelivery(_ context.Context, d webhook.Delivery) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deliveries[d.ID] = d
	return d.ID, nil
}

func (m *memStore) UpdateDelivery(_ context.Context, d webhook.Delivery) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.deliveries[d.ID]
	if !ok {
		return webhook.ErrDeliveryNotFound
	}
	if stored.Status.IsFinal() {
		return webhook.ErrDeliveryFinal
	}
	m.deliveries[d.ID] = d
	return nil
}

func (m *memStore) GetSubscription(_ context.Context, id string) (webhook.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subscriptions[id]
	if !ok {
		return webhook.Subscription{}, fmt.Errorf("%w: %s", webhook.ErrSubscriptionNotFound, id)
	}
	return s, nil
}

func (m *memStore) SaveSubscription(_ context.Context, s webhook.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriptions[s.ID] = s
	return nil
}

func (m *memStore) MarkSubscriptionSuccess(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.subscriptions[id]
	s.ConsecutiveFailures = 0
	s.LastSuccessAt = at
	s.LastTriggeredAt = at
	m.subscriptions[id] = s
	return nil
}

func (m *memStore) MarkSubscriptionFailure(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.subscriptions[id]
	s.ConsecutiveFailures++
	s.LastFailureAt = at
	s.LastTriggeredAt = at
	m.subscriptions[id] = s
	return nil
}

func (m *memStore) Claim(_ context.Context, id, token string, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, held := m.claims[id]; held {
		return false, nil
	}
	m.claims[id] = token
	return true, nil
}

func (m *memStore) Release(_ context.Context, id, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.claims[id] == token {
		delete(m.claims, id)
	}
	return nil
}

func (m *memStore) Close(context.Context) error { return nil }

func (m *memStore) GetRetryPolicy(_ context.Context, orgID string) (webhook.RetryPolicy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.policies[orgID]
	if !ok {
		return webhook.DefaultRetryPolicy(), nil
	}
	return p, nil
}

func (m *memStore) delivery(id string) webhook.Delivery {
	d, _ := m.GetDelivery(context.Background(), id)
	return d
}

func (m *memStore) subscription(id string) webhook.Subscription {
	s, _ := m.GetSubscription(context.Background(), id)
	return s
}
