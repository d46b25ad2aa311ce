package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Priya8975/recruit-webhooks/internal/domain"
)

// memRegistry mirrors the store's atomic counter semantics in memory.
type memRegistry struct {
	mu   sync.Mutex
	subs map[string]*domain.Subscription
}

func newMemRegistry(subs ...domain.Subscription) *memRegistry {
	r := &memRegistry{subs: map[string]*domain.Subscription{}}
	for i := range subs {
		s := subs[i]
		r.subs[s.ID] = &s
	}
	return r
}

func (r *memRegistry) ListActiveForEvent(ctx context.Context, tenantID string, eventType domain.EventType) ([]domain.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []domain.Subscription
	for _, s := range r.subs {
		if s.TenantID == tenantID && s.Accepts(eventType) {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memRegistry) Get(ctx context.Context, id string) (*domain.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.subs[id]
	if !ok {
		return nil, domain.ErrSubscriptionNotFound
	}
	cp := *s
	return &cp, nil
}

func (r *memRegistry) RecordSuccess(ctx context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.subs[id]
	if !ok {
		return domain.ErrSubscriptionNotFound
	}
	s.LastSuccessAt = &at
	s.ConsecutiveFailures = 0
	s.SuccessCount++
	return nil
}

func (r *memRegistry) RecordFailure(ctx context.Context, id string, at time.Time, reason string, threshold int) (domain.SubscriptionStatus, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.subs[id]
	if !ok {
		return "", 0, domain.ErrSubscriptionNotFound
	}
	s.LastFailureAt = &at
	s.LastError = &reason
	s.ConsecutiveFailures++
	s.FailureCount++
	if s.ConsecutiveFailures >= threshold {
		s.Status = domain.SubscriptionFailed
	}
	return s.Status, s.ConsecutiveFailures, nil
}

func (r *memRegistry) snapshot(id string) domain.Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.subs[id]
}

// memLogs keeps attempt rows and refuses to change terminal ones.
type memLogs struct {
	mu      sync.Mutex
	seq     int
	entries map[string]*domain.DeliveryAttemptLog
	order   []string
	failOn  string
}

func newMemLogs() *memLogs {
	return &memLogs{entries: map[string]*domain.DeliveryAttemptLog{}}
}

func (l *memLogs) CreateAttempt(ctx context.Context, entry *domain.DeliveryAttemptLog) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.failOn == "create" {
		return fmt.Errorf("database unavailable")
	}
	l.seq++
	entry.ID = fmt.Sprintf("log-%d", l.seq)
	entry.CreatedAt = time.Now()
	cp := *entry
	l.entries[entry.ID] = &cp
	l.order = append(l.order, entry.ID)
	return nil
}

func (l *memLogs) CompleteAttempt(ctx context.Context, id string, c domain.AttemptCompletion) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.failOn == "complete" {
		return fmt.Errorf("database unavailable")
	}
	e, ok := l.entries[id]
	if !ok {
		return domain.ErrLogNotFound
	}
	if e.Status.Terminal() {
		return fmt.Errorf("attempt %s already %s", id, e.Status)
	}
	c.Apply(e)
	return nil
}

func (l *memLogs) GetAttempt(ctx context.Context, id string) (*domain.DeliveryAttemptLog, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[id]
	if !ok {
		return nil, domain.ErrLogNotFound
	}
	cp := *e
	return &cp, nil
}

// forSubscription returns rows in creation order.
func (l *memLogs) forSubscription(id string) []domain.DeliveryAttemptLog {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []domain.DeliveryAttemptLog
	for _, logID := range l.order {
		if e := l.entries[logID]; e.SubscriptionID == id {
			out = append(out, *e)
		}
	}
	return out
}

type recordingNotifier struct {
	mu      sync.Mutex
	entries []domain.DeliveryAttemptLog
}

func (n *recordingNotifier) NotifyAttempt(entry domain.DeliveryAttemptLog) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.entries = append(n.entries, entry)
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.entries)
}
