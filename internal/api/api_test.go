package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/Priya8975/recruit-webhooks/internal/domain"
	"github.com/Priya8975/recruit-webhooks/internal/engine"
	"github.com/Priya8975/recruit-webhooks/internal/metrics"
	"github.com/Priya8975/recruit-webhooks/internal/store"
	"github.com/Priya8975/recruit-webhooks/internal/worker"
	"github.com/prometheus/client_golang/prometheus"
)

type fakeStore struct {
	mu     sync.Mutex
	subs   map[string]*domain.Subscription
	nextID int

	listLimit, listOffset int
	entries               []domain.DeliveryAttemptLog
}

func newFakeStore() *fakeStore {
	return &fakeStore{subs: make(map[string]*domain.Subscription)}
}

func (f *fakeStore) CreateSubscription(_ context.Context, in store.NewSubscription) (*domain.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	secret := in.Secret
	if secret == "" {
		secret = "whsec_generated"
	}
	sub := &domain.Subscription{
		ID:                 fmt.Sprintf("sub-%d", f.nextID),
		TenantID:           in.TenantID,
		URL:                in.URL,
		Secret:             secret,
		Description:        in.Description,
		EventTypes:         in.EventTypes,
		Headers:            in.Headers,
		Status:             domain.SubscriptionActive,
		RetryAttempts:      in.RetryAttempts,
		TimeoutMs:          in.TimeoutMs,
		RateLimitPerSecond: in.RateLimitPerSecond,
	}
	f.subs[sub.ID] = sub
	return sub, nil
}

func (f *fakeStore) GetForTenant(_ context.Context, tenantID, id string) (*domain.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub, ok := f.subs[id]
	if !ok || sub.TenantID != tenantID {
		return nil, domain.ErrSubscriptionNotFound
	}
	cp := *sub
	return &cp, nil
}

func (f *fakeStore) ListSubscriptions(_ context.Context, tenantID string) ([]domain.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Subscription
	for _, sub := range f.subs {
		if sub.TenantID == tenantID {
			out = append(out, *sub)
		}
	}
	return out, nil
}

func (f *fakeStore) UpdateSubscription(ctx context.Context, tenantID, id string, p store.SubscriptionPatch) (*domain.Subscription, error) {
	if _, err := f.GetForTenant(ctx, tenantID, id); err != nil {
		return nil, err
	}
	f.mu.Lock()
	sub := f.subs[id]
	if p.URL != nil {
		sub.URL = *p.URL
	}
	if p.TimeoutMs != nil {
		sub.TimeoutMs = *p.TimeoutMs
	}
	if p.EventTypes != nil {
		sub.EventTypes = p.EventTypes
	}
	f.mu.Unlock()
	return f.GetForTenant(ctx, tenantID, id)
}

func (f *fakeStore) DeleteSubscription(ctx context.Context, tenantID, id string) error {
	if _, err := f.GetForTenant(ctx, tenantID, id); err != nil {
		return err
	}
	f.mu.Lock()
	delete(f.subs, id)
	f.mu.Unlock()
	return nil
}

func (f *fakeStore) ResetSubscription(ctx context.Context, tenantID, id string) (*domain.Subscription, error) {
	if _, err := f.GetForTenant(ctx, tenantID, id); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.subs[id].Status = domain.SubscriptionActive
	f.subs[id].ConsecutiveFailures = 0
	f.mu.Unlock()
	return f.GetForTenant(ctx, tenantID, id)
}

func (f *fakeStore) HealthOverview(ctx context.Context, tenantID string) ([]domain.SubscriptionHealth, error) {
	subs, _ := f.ListSubscriptions(ctx, tenantID)
	var out []domain.SubscriptionHealth
	for i := range subs {
		out = append(out, subs[i].Health())
	}
	return out, nil
}

func (f *fakeStore) ListAttempts(_ context.Context, subscriptionID string, limit, offset int) ([]domain.DeliveryAttemptLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listLimit, f.listOffset = limit, offset
	var out []domain.DeliveryAttemptLog
	for _, e := range f.entries {
		if e.SubscriptionID == subscriptionID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeStore) DeliveryStats(_ context.Context, subscriptionID string) (*domain.DeliveryStats, error) {
	stats := &domain.DeliveryStats{SubscriptionID: subscriptionID, Total: 4, Success: 3, Failed: 1}
	stats.ComputeSuccessRate()
	return stats, nil
}

type fakeDispatcher struct {
	mu           sync.Mutex
	triggered    []domain.EventType
	tenants      []string
	started      int
	testResult   engine.TestResult
	testErr      error
	redelivered  []string
	redeliverErr error
}

func (d *fakeDispatcher) Trigger(_ context.Context, tenantID string, eventType domain.EventType, _ map[string]any) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.triggered = append(d.triggered, eventType)
	d.tenants = append(d.tenants, tenantID)
	return d.started
}

func (d *fakeDispatcher) Test(context.Context, string) (engine.TestResult, error) {
	return d.testResult, d.testErr
}

func (d *fakeDispatcher) Redeliver(_ context.Context, subscriptionID, logID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.redelivered = append(d.redelivered, subscriptionID+"/"+logID)
	return d.redeliverErr
}

type pingerFunc func(context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

type testAPI struct {
	store      *fakeStore
	dispatcher *fakeDispatcher
	handler    http.Handler
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	s := newFakeStore()
	d := &fakeDispatcher{}
	h := NewRouter(Deps{
		Subscriptions: s,
		Logs:          s,
		Dispatcher:    d,
		Limits:        DefaultLimits(),
		Metrics:       metrics.NewMetrics(prometheus.NewRegistry()),
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return &testAPI{store: s, dispatcher: d, handler: h}
}

func (a *testAPI) do(t *testing.T, method, path, tenantID, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if tenantID != "" {
		req.Header.Set(TenantHeader, tenantID)
	}
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

func (a *testAPI) create(t *testing.T, tenantID string) domain.CreateSubscriptionResponse {
	t.Helper()
	rec := a.do(t, http.MethodPost, "/api/v1/subscriptions", tenantID,
		`{"url":"https://example.com/hook","event_types":["candidate.created"]}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: status %d, body %s", rec.Code, rec.Body)
	}
	var resp domain.CreateSubscriptionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	return resp
}

func TestRequiresTenant(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, http.MethodGet, "/api/v1/subscriptions", "", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestCreateSubscription_ReturnsSecretOnceWithDefaults(t *testing.T) {
	a := newTestAPI(t)

	created := a.create(t, "tenant-1")
	if created.Secret == "" {
		t.Error("create response must carry the secret")
	}
	if created.TimeoutMs != 10000 || created.RetryAttempts != 3 {
		t.Errorf("defaults = %dms/%d retries, want 10000ms/3", created.TimeoutMs, created.RetryAttempts)
	}

	rec := a.do(t, http.MethodGet, "/api/v1/subscriptions/"+created.ID, "tenant-1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get: status %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), created.Secret) {
		t.Error("secret must not be returned after creation")
	}
}

func TestCreateSubscription_Validation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing url", `{"event_types":["candidate.created"]}`},
		{"relative url", `{"url":"/hook","event_types":["candidate.created"]}`},
		{"ftp url", `{"url":"ftp://example.com","event_types":["candidate.created"]}`},
		{"no event types", `{"url":"https://example.com","event_types":[]}`},
		{"unknown event type", `{"url":"https://example.com","event_types":["candidate.exploded"]}`},
		{"test event", `{"url":"https://example.com","event_types":["webhook.test"]}`},
		{"reserved header", `{"url":"https://example.com","event_types":["job.created"],"headers":{"x-webhook-signature":"forged"}}`},
		{"header name with space", `{"url":"https://example.com","event_types":["job.created"],"headers":{"Bad Header":"x"}}`},
		{"header name with colon", `{"url":"https://example.com","event_types":["job.created"],"headers":{"X-Team:":"x"}}`},
		{"header value with CRLF", `{"url":"https://example.com","event_types":["job.created"],"headers":{"X-Team":"a\r\nX-Injected: 1"}}`},
		{"header value with NUL", `{"url":"https://example.com","event_types":["job.created"],"headers":{"X-Team":"a\u0000b"}}`},
		{"timeout too short", `{"url":"https://example.com","event_types":["job.created"],"timeout_ms":10}`},
		{"timeout too long", `{"url":"https://example.com","event_types":["job.created"],"timeout_ms":600000}`},
		{"too many retries", `{"url":"https://example.com","event_types":["job.created"],"retry_attempts":11}`},
		{"negative rate limit", `{"url":"https://example.com","event_types":["job.created"],"rate_limit_per_second":-1}`},
		{"malformed json", `{"url":`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newTestAPI(t)
			rec := a.do(t, http.MethodPost, "/api/v1/subscriptions", "tenant-1", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400 (body %s)", rec.Code, rec.Body)
			}
			if len(a.store.subs) != 0 {
				t.Error("invalid subscription was stored")
			}
		})
	}
}

func TestCreateSubscription_AcceptsCustomHeaders(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, http.MethodPost, "/api/v1/subscriptions", "tenant-1",
		`{"url":"https://example.com/hook","event_types":["job.created"],"headers":{"X-Team":"talent ops","Authorization":"Bearer abc\tdef"}}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
}

func TestCreateSubscription_ZeroRetriesAllowed(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, http.MethodPost, "/api/v1/subscriptions", "tenant-1",
		`{"url":"http://example.com/hook","event_types":["offer.sent"],"retry_attempts":0}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	var resp domain.CreateSubscriptionResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.RetryAttempts != 0 {
		t.Errorf("retry_attempts = %d, want 0", resp.RetryAttempts)
	}
}

func TestSubscriptions_TenantIsolation(t *testing.T) {
	a := newTestAPI(t)
	created := a.create(t, "tenant-1")

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/v1/subscriptions/" + created.ID},
		{http.MethodDelete, "/api/v1/subscriptions/" + created.ID},
		{http.MethodPost, "/api/v1/subscriptions/" + created.ID + "/test"},
		{http.MethodGet, "/api/v1/subscriptions/" + created.ID + "/logs"},
		{http.MethodGet, "/api/v1/subscriptions/" + created.ID + "/stats"},
		{http.MethodPost, "/api/v1/subscriptions/" + created.ID + "/logs/log-1/redeliver"},
	} {
		rec := a.do(t, tc.method, tc.path, "tenant-2", "")
		if rec.Code != http.StatusNotFound {
			t.Errorf("%s %s as other tenant: status %d, want 404", tc.method, tc.path, rec.Code)
		}
	}
	if len(a.dispatcher.redelivered) != 0 {
		t.Error("dispatcher called for another tenant's subscription")
	}

	rec := a.do(t, http.MethodGet, "/api/v1/subscriptions", "tenant-2", "")
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("tenant-2 list = %s, want []", rec.Body)
	}
}

func TestUpdateSubscription(t *testing.T) {
	a := newTestAPI(t)
	created := a.create(t, "tenant-1")
	path := "/api/v1/subscriptions/" + created.ID

	rec := a.do(t, http.MethodPatch, path, "tenant-1", `{"timeout_ms":5000}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	var sub domain.Subscription
	json.Unmarshal(rec.Body.Bytes(), &sub)
	if sub.TimeoutMs != 5000 {
		t.Errorf("timeout_ms = %d, want 5000", sub.TimeoutMs)
	}

	rec = a.do(t, http.MethodPatch, path, "tenant-1", `{"url":"not a url"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid url: status %d, want 400", rec.Code)
	}
	rec = a.do(t, http.MethodPatch, path, "tenant-1", `{"headers":{"Content-Type":"text/plain"}}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("reserved header: status %d, want 400", rec.Code)
	}
	rec = a.do(t, http.MethodPatch, path, "tenant-1", `{"headers":{"X-Team":"a\nb"}}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("header value with newline: status %d, want 400", rec.Code)
	}
}

func TestDeleteAndResetSubscription(t *testing.T) {
	a := newTestAPI(t)
	created := a.create(t, "tenant-1")
	path := "/api/v1/subscriptions/" + created.ID

	a.store.subs[created.ID].Status = domain.SubscriptionFailed
	a.store.subs[created.ID].ConsecutiveFailures = 10

	rec := a.do(t, http.MethodPost, path+"/reset", "tenant-1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("reset: status %d", rec.Code)
	}
	var sub domain.Subscription
	json.Unmarshal(rec.Body.Bytes(), &sub)
	if sub.Status != domain.SubscriptionActive || sub.ConsecutiveFailures != 0 {
		t.Errorf("after reset: status %s, failures %d", sub.Status, sub.ConsecutiveFailures)
	}

	if rec := a.do(t, http.MethodDelete, path, "tenant-1", ""); rec.Code != http.StatusNoContent {
		t.Fatalf("delete: status %d", rec.Code)
	}
	if rec := a.do(t, http.MethodGet, path, "tenant-1", ""); rec.Code != http.StatusNotFound {
		t.Errorf("get after delete: status %d, want 404", rec.Code)
	}
}

func TestTestSend(t *testing.T) {
	a := newTestAPI(t)
	created := a.create(t, "tenant-1")
	path := "/api/v1/subscriptions/" + created.ID + "/test"

	a.dispatcher.testResult = engine.TestResult{Success: false, ResponseStatus: 404, Error: "Not Found", LogID: "log-1"}
	rec := a.do(t, http.MethodPost, path, "tenant-1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var result engine.TestResult
	json.Unmarshal(rec.Body.Bytes(), &result)
	if result.Success || result.ResponseStatus != 404 {
		t.Errorf("result = %+v", result)
	}

	a.dispatcher.testErr = &domain.ConfigurationError{SubscriptionID: created.ID, Reason: "invalid URL"}
	rec = a.do(t, http.MethodPost, path, "tenant-1", "")
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("configuration error: status %d, want 422", rec.Code)
	}
}

func TestListLogs_Pagination(t *testing.T) {
	a := newTestAPI(t)
	created := a.create(t, "tenant-1")
	a.store.entries = []domain.DeliveryAttemptLog{
		{ID: "log-1", SubscriptionID: created.ID, Status: domain.AttemptSuccess},
	}
	path := "/api/v1/subscriptions/" + created.ID + "/logs"

	rec := a.do(t, http.MethodGet, path, "tenant-1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if a.store.listLimit != store.DefaultLogLimit || a.store.listOffset != 0 {
		t.Errorf("limit/offset = %d/%d, want %d/0", a.store.listLimit, a.store.listOffset, store.DefaultLogLimit)
	}

	a.do(t, http.MethodGet, path+"?limit=5&offset=10", "tenant-1", "")
	if a.store.listLimit != 5 || a.store.listOffset != 10 {
		t.Errorf("limit/offset = %d/%d, want 5/10", a.store.listLimit, a.store.listOffset)
	}

	for _, q := range []string{"?limit=0", "?limit=abc", "?offset=-1", "?limit=5000"} {
		if rec := a.do(t, http.MethodGet, path+q, "tenant-1", ""); rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status %d, want 400", q, rec.Code)
		}
	}
}

func TestStats(t *testing.T) {
	a := newTestAPI(t)
	created := a.create(t, "tenant-1")

	rec := a.do(t, http.MethodGet, "/api/v1/subscriptions/"+created.ID+"/stats", "tenant-1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var stats domain.DeliveryStats
	json.Unmarshal(rec.Body.Bytes(), &stats)
	if stats.SuccessRate != 75 {
		t.Errorf("success rate = %v, want 75", stats.SuccessRate)
	}
}

func TestRedeliver(t *testing.T) {
	a := newTestAPI(t)
	created := a.create(t, "tenant-1")
	path := "/api/v1/subscriptions/" + created.ID + "/logs/log-9/redeliver"

	rec := a.do(t, http.MethodPost, path, "tenant-1", "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
	if len(a.dispatcher.redelivered) != 1 || a.dispatcher.redelivered[0] != created.ID+"/log-9" {
		t.Errorf("redelivered = %v", a.dispatcher.redelivered)
	}

	a.dispatcher.redeliverErr = worker.ErrQueueFull
	if rec := a.do(t, http.MethodPost, path, "tenant-1", ""); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("queue full: status %d, want 503", rec.Code)
	}

	a.dispatcher.redeliverErr = &domain.ConfigurationError{Reason: "subscription is failed"}
	if rec := a.do(t, http.MethodPost, path, "tenant-1", ""); rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("failed subscription: status %d, want 422", rec.Code)
	}
}

func TestTriggerEvent(t *testing.T) {
	a := newTestAPI(t)
	a.dispatcher.started = 2

	rec := a.do(t, http.MethodPost, "/api/v1/events", "tenant-1",
		`{"event_type":"application.hired","payload":{"application_id":"app-1"}}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	var resp createEventResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.DeliveriesStarted != 2 {
		t.Errorf("deliveries_started = %d, want 2", resp.DeliveriesStarted)
	}
	if len(a.dispatcher.tenants) != 1 || a.dispatcher.tenants[0] != "tenant-1" {
		t.Errorf("triggered for tenants %v", a.dispatcher.tenants)
	}

	for _, body := range []string{
		`{"event_type":"candidate.exploded"}`,
		`{"event_type":"webhook.test"}`,
		`{"payload":{}}`,
		`not json`,
	} {
		if rec := a.do(t, http.MethodPost, "/api/v1/events", "tenant-1", body); rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status %d, want 400", body, rec.Code)
		}
	}
	if len(a.dispatcher.triggered) != 1 {
		t.Errorf("invalid events reached the dispatcher: %v", a.dispatcher.triggered)
	}
}

func TestSubscriptionsHealth(t *testing.T) {
	a := newTestAPI(t)
	created := a.create(t, "tenant-1")
	a.store.subs[created.ID].Status = domain.SubscriptionFailed

	rec := a.do(t, http.MethodGet, "/api/v1/subscriptions-health", "tenant-1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var overview []domain.SubscriptionHealth
	json.Unmarshal(rec.Body.Bytes(), &overview)
	if len(overview) != 1 || overview[0].Status != domain.SubscriptionFailed {
		t.Errorf("overview = %+v", overview)
	}
}

func TestHealthHandler(t *testing.T) {
	ok := pingerFunc(func(context.Context) error { return nil })
	down := pingerFunc(func(context.Context) error { return errors.New("connection refused") })

	rec := httptest.NewRecorder()
	HealthHandler(map[string]Pinger{"postgres": ok})(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("healthy: status %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	HealthHandler(map[string]Pinger{"postgres": ok, "redis": down})(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("unhealthy: status %d, want 503", rec.Code)
	}
	var resp HealthResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Checks["redis"] != "connection refused" || resp.Checks["postgres"] != "ok" {
		t.Errorf("checks = %v", resp.Checks)
	}
}

func TestHealthAndMetricsNeedNoTenant(t *testing.T) {
	a := newTestAPI(t)

	if rec := a.do(t, http.MethodGet, "/api/v1/health", "", ""); rec.Code != http.StatusOK {
		t.Errorf("health: status %d", rec.Code)
	}
	rec := a.do(t, http.MethodGet, "/metrics", "", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "webhooks_http_requests_total") {
		t.Errorf("metrics: status %d", rec.Code)
	}
}
