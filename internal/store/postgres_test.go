package store

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/Priya8975/recruit-webhooks/internal/domain"
	"github.com/google/uuid"
)

// These tests run against a real database and are skipped unless
// TEST_DATABASE_URL points at one. Every test uses its own tenant.
func testPostgres(t *testing.T) (*PostgresStore, string) {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	if _, err := RunMigrations(url); err != nil {
		t.Fatalf("RunMigrations: %v", err)
	}
	s, err := NewPostgres(context.Background(), url)
	if err != nil {
		t.Fatalf("NewPostgres: %v", err)
	}
	t.Cleanup(s.Close)
	return s, "tenant-" + uuid.NewString()
}

func createTestSubscription(t *testing.T, s *PostgresStore, tenantID string, events ...domain.EventType) *domain.Subscription {
	t.Helper()
	sub, err := s.CreateSubscription(context.Background(), NewSubscription{
		TenantID:      tenantID,
		URL:           "https://example.com/hook",
		EventTypes:    events,
		RetryAttempts: 3,
		TimeoutMs:     10000,
	})
	if err != nil {
		t.Fatalf("CreateSubscription: %v", err)
	}
	return sub
}

func TestPostgres_RecordFailureDisablesAtThreshold(t *testing.T) {
	s, tenant := testPostgres(t)
	ctx := context.Background()
	sub := createTestSubscription(t, s, tenant, domain.EventOfferSent)

	want := []domain.SubscriptionStatus{domain.SubscriptionActive, domain.SubscriptionActive, domain.SubscriptionFailed, domain.SubscriptionFailed}
	for i, w := range want {
		status, consecutive, err := s.RecordFailure(ctx, sub.ID, time.Now(), "HTTP 500", 3)
		if err != nil {
			t.Fatalf("RecordFailure %d: %v", i+1, err)
		}
		if status != w || consecutive != i+1 {
			t.Errorf("failure %d: status %s consecutive %d, want %s %d", i+1, status, consecutive, w, i+1)
		}
	}

	if err := s.RecordSuccess(ctx, sub.ID, time.Now()); err != nil {
		t.Fatalf("RecordSuccess: %v", err)
	}
	got, _ := s.Get(ctx, sub.ID)
	if got.Status != domain.SubscriptionFailed {
		t.Errorf("status = %s, a success must not re-enable", got.Status)
	}
	if got.ConsecutiveFailures != 0 || got.SuccessCount != 1 || got.FailureCount != 4 {
		t.Errorf("counters = %d/%d/%d", got.ConsecutiveFailures, got.SuccessCount, got.FailureCount)
	}

	reset, err := s.ResetSubscription(ctx, tenant, sub.ID)
	if err != nil {
		t.Fatalf("ResetSubscription: %v", err)
	}
	if reset.Status != domain.SubscriptionActive {
		t.Errorf("status after reset = %s", reset.Status)
	}
}

func TestPostgres_ConcurrentFailuresAreNotLost(t *testing.T) {
	s, tenant := testPostgres(t)
	ctx := context.Background()
	sub := createTestSubscription(t, s, tenant, domain.EventJobCreated)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, _, err := s.RecordFailure(ctx, sub.ID, time.Now(), "timeout", 1000); err != nil {
				t.Errorf("RecordFailure: %v", err)
			}
		}()
	}
	wg.Wait()

	got, _ := s.Get(ctx, sub.ID)
	if got.FailureCount != 20 || got.ConsecutiveFailures != 20 {
		t.Errorf("failure count %d, consecutive %d, want 20/20", got.FailureCount, got.ConsecutiveFailures)
	}
}

func TestPostgres_ListActiveForEvent(t *testing.T) {
	s, tenant := testPostgres(t)
	ctx := context.Background()

	match := createTestSubscription(t, s, tenant, domain.EventApplicationCreated, domain.EventOfferSent)
	createTestSubscription(t, s, tenant, domain.EventJobCreated)
	disabled := createTestSubscription(t, s, tenant, domain.EventApplicationCreated)
	s.RecordFailure(ctx, disabled.ID, time.Now(), "down", 1)
	createTestSubscription(t, s, "tenant-"+uuid.NewString(), domain.EventApplicationCreated)

	subs, err := s.ListActiveForEvent(ctx, tenant, domain.EventApplicationCreated)
	if err != nil {
		t.Fatalf("ListActiveForEvent: %v", err)
	}
	if len(subs) != 1 || subs[0].ID != match.ID {
		t.Errorf("got %d subscriptions, want only %s", len(subs), match.ID)
	}
}

func TestPostgres_TerminalAttemptIsImmutable(t *testing.T) {
	s, tenant := testPostgres(t)
	ctx := context.Background()

	entry := &domain.DeliveryAttemptLog{
		SubscriptionID: uuid.NewString(),
		TenantID:       tenant,
		EventType:      domain.EventOfferSent,
		Payload:        []byte(`{"offer_id":"o-1"}`),
	}
	if err := s.CreateAttempt(ctx, entry); err != nil {
		t.Fatalf("CreateAttempt: %v", err)
	}

	code := 200
	body := domain.TruncateBody("\x00\xffok")
	if err := s.CompleteAttempt(ctx, entry.ID, domain.AttemptCompletion{
		Status: domain.AttemptSuccess, ResponseStatus: &code, ResponseBody: &body, CompletedAt: time.Now(),
	}); err != nil {
		t.Fatalf("CompleteAttempt: %v", err)
	}

	err := s.CompleteAttempt(ctx, entry.ID, domain.AttemptCompletion{Status: domain.AttemptFailed, CompletedAt: time.Now()})
	if !errors.Is(err, domain.ErrLogNotFound) {
		t.Errorf("second completion: %v, want ErrLogNotFound", err)
	}

	got, err := s.GetAttempt(ctx, entry.ID)
	if err != nil {
		t.Fatalf("GetAttempt: %v", err)
	}
	if got.Status != domain.AttemptSuccess {
		t.Errorf("status = %s, terminal row was changed", got.Status)
	}

	if _, err := s.GetAttempt(ctx, "not-a-uuid"); !errors.Is(err, domain.ErrLogNotFound) {
		t.Errorf("malformed id: %v, want ErrLogNotFound", err)
	}
}

func TestPostgres_DeliveryStatsSeparatesRetriedFromPending(t *testing.T) {
	s, tenant := testPostgres(t)
	ctx := context.Background()
	subID := uuid.NewString()

	for i, status := range []domain.AttemptStatus{
		domain.AttemptRetrying, domain.AttemptRetrying, domain.AttemptFailed,
		domain.AttemptSuccess, domain.AttemptPending,
	} {
		entry := &domain.DeliveryAttemptLog{
			SubscriptionID: subID,
			TenantID:       tenant,
			EventType:      domain.EventJobClosed,
			Payload:        []byte(`{}`),
			AttemptNumber:  i + 1,
		}
		if err := s.CreateAttempt(ctx, entry); err != nil {
			t.Fatalf("CreateAttempt: %v", err)
		}
		if status != domain.AttemptPending {
			if err := s.CompleteAttempt(ctx, entry.ID, domain.AttemptCompletion{Status: status, DurationMs: 10, CompletedAt: time.Now()}); err != nil {
				t.Fatalf("CompleteAttempt: %v", err)
			}
		}
	}

	stats, err := s.DeliveryStats(ctx, subID)
	if err != nil {
		t.Fatalf("DeliveryStats: %v", err)
	}
	if stats.Total != 5 || stats.Success != 1 || stats.Failed != 1 || stats.Retried != 2 || stats.Pending != 1 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.SuccessRate != 20 {
		t.Errorf("success rate = %v, want 20", stats.SuccessRate)
	}

	logs, err := s.ListAttempts(ctx, subID, 2, 0)
	if err != nil {
		t.Fatalf("ListAttempts: %v", err)
	}
	if len(logs) != 2 || logs[0].AttemptNumber != 5 || logs[1].AttemptNumber != 4 {
		t.Errorf("expected newest two attempts first, got %+v", logs)
	}
}
