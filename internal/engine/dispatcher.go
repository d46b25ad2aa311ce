package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Priya8975/recruit-webhooks/internal/domain"
	"github.com/Priya8975/recruit-webhooks/internal/metrics"
	"github.com/Priya8975/recruit-webhooks/internal/signature"
	"github.com/Priya8975/recruit-webhooks/internal/worker"
)

// SubscriptionRegistry is the subscription storage the dispatcher needs.
// Counter updates must be single atomic statements.
type SubscriptionRegistry interface {
	ListActiveForEvent(ctx context.Context, tenantID string, eventType domain.EventType) ([]domain.Subscription, error)
	Get(ctx context.Context, id string) (*domain.Subscription, error)
	RecordSuccess(ctx context.Context, id string, at time.Time) error
	// RecordFailure returns the status and consecutive failure count after
	// the update.
	RecordFailure(ctx context.Context, id string, at time.Time, reason string, threshold int) (domain.SubscriptionStatus, int, error)
}

// DeliveryLogStore persists one row per attempt.
type DeliveryLogStore interface {
	CreateAttempt(ctx context.Context, entry *domain.DeliveryAttemptLog) error
	CompleteAttempt(ctx context.Context, id string, c domain.AttemptCompletion) error
	GetAttempt(ctx context.Context, id string) (*domain.DeliveryAttemptLog, error)
}

// Notifier receives every completed attempt, e.g. for a live feed.
type Notifier interface {
	NotifyAttempt(entry domain.DeliveryAttemptLog)
}

// TestResult is what a manual test-send reports back.
type TestResult struct {
	Success        bool   `json:"success"`
	ResponseStatus int    `json:"response_status,omitempty"`
	Error          string `json:"error,omitempty"`
	DurationMs     int64  `json:"duration_ms"`
	LogID          string `json:"log_id,omitempty"`
}

// Dispatcher fans domain events out to subscriptions and owns the
// bookkeeping around every attempt. It implements worker.Recorder.
type Dispatcher struct {
	registry         SubscriptionRegistry
	logs             DeliveryLogStore
	attempter        worker.Attempter
	scheduler        *worker.Scheduler
	notifier         Notifier
	metrics          *metrics.Metrics
	failureThreshold int
	logger           *slog.Logger
	now              func() time.Time

	schedulerOpts []worker.SchedulerOption
}

type Option func(*Dispatcher)

func WithFailureThreshold(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.failureThreshold = n
		}
	}
}

func WithNotifier(n Notifier) Option {
	return func(d *Dispatcher) { d.notifier = n }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithSchedulerOptions passes options through to the retry scheduler.
func WithSchedulerOptions(opts ...worker.SchedulerOption) Option {
	return func(d *Dispatcher) { d.schedulerOpts = append(d.schedulerOpts, opts...) }
}

func NewDispatcher(
	registry SubscriptionRegistry,
	logs DeliveryLogStore,
	pool *worker.Pool,
	attempter worker.Attempter,
	logger *slog.Logger,
	opts ...Option,
) *Dispatcher {
	d := &Dispatcher{
		registry:         registry,
		logs:             logs,
		attempter:        attempter,
		failureThreshold: domain.DefaultFailureThreshold,
		logger:           logger,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.scheduler = worker.NewScheduler(pool, attempter, d, logger, d.schedulerOpts...)
	return d
}

// Trigger starts one delivery per active subscription of tenantID that
// subscribes to eventType and returns how many were started. It does not
// wait for any HTTP call and never fails; problems are logged.
func (d *Dispatcher) Trigger(ctx context.Context, tenantID string, eventType domain.EventType, payload map[string]any) int {
	if !eventType.Subscribable() {
		d.logger.Warn("rejected trigger",
			"tenant_id", tenantID,
			"error", &domain.ConfigurationError{Reason: fmt.Sprintf("unknown event type %q", eventType)},
		)
		return 0
	}

	subs, err := d.registry.ListActiveForEvent(ctx, tenantID, eventType)
	if err != nil {
		d.logger.Error("failed to look up subscriptions",
			"tenant_id", tenantID,
			"event_type", eventType,
			"error", err,
		)
		return 0
	}
	if len(subs) == 0 {
		d.logger.Debug("no matching subscriptions", "tenant_id", tenantID, "event_type", eventType)
		return 0
	}

	if payload == nil {
		payload = map[string]any{}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		d.logger.Error("failed to serialize payload",
			"tenant_id", tenantID,
			"event_type", eventType,
			"error", err,
		)
		return 0
	}

	started := 0
	for i := range subs {
		sub := &subs[i]
		if !sub.Accepts(eventType) {
			continue
		}
		if d.start(ctx, sub, eventType, body) == nil {
			started++
		}
	}

	d.logger.Info("event dispatched",
		"tenant_id", tenantID,
		"event_type", eventType,
		"matched", len(subs),
		"started", started,
	)
	return started
}

// Test sends a single webhook.test event to the subscription. No retry is
// made and the subscription's health counters are not changed. A missing
// subscription or an unusable URL is reported as a ConfigurationError.
func (d *Dispatcher) Test(ctx context.Context, subscriptionID string) (TestResult, error) {
	sub, err := d.lookup(ctx, subscriptionID)
	if err != nil {
		return TestResult{}, err
	}

	body, err := json.Marshal(map[string]any{
		"event":           domain.EventWebhookTest,
		"subscription_id": sub.ID,
		"message":         "This is a test webhook delivery.",
		"timestamp":       d.now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return TestResult{}, fmt.Errorf("serializing test payload: %w", err)
	}

	job := d.newJob(sub, domain.EventWebhookTest, body)
	job.MaxAttempts = 1

	recordID := d.AttemptStarted(ctx, job, 1)
	req := job.Request
	req.Attempt = 1
	outcome := d.attempter.Attempt(ctx, req)
	d.AttemptFinished(ctx, job, recordID, 1, outcome, true)

	result := TestResult{
		Success:        outcome.Kind == worker.Delivered,
		ResponseStatus: outcome.StatusCode,
		Error:          outcome.Reason,
		DurationMs:     outcome.Duration.Milliseconds(),
		LogID:          recordID,
	}
	if outcome.Kind == worker.FatalFailure {
		return result, &domain.ConfigurationError{SubscriptionID: sub.ID, Reason: outcome.Reason}
	}
	return result, nil
}

// Redeliver replays the payload of a logged attempt through a fresh
// delivery with the subscription's current settings.
func (d *Dispatcher) Redeliver(ctx context.Context, subscriptionID, logID string) error {
	entry, err := d.logs.GetAttempt(ctx, logID)
	if err != nil {
		if errors.Is(err, domain.ErrLogNotFound) {
			return &domain.ConfigurationError{SubscriptionID: subscriptionID, Reason: "delivery log not found"}
		}
		return &domain.PersistenceError{Op: "get attempt", Err: err}
	}
	if entry.SubscriptionID != subscriptionID {
		return &domain.ConfigurationError{SubscriptionID: subscriptionID, Reason: "delivery log belongs to another subscription"}
	}

	sub, err := d.lookup(ctx, subscriptionID)
	if err != nil {
		return err
	}
	if sub.Status != domain.SubscriptionActive {
		return &domain.ConfigurationError{SubscriptionID: sub.ID, Reason: "subscription is failed, reset it before redelivering"}
	}

	return d.start(ctx, sub, entry.EventType, entry.Payload)
}

func (d *Dispatcher) lookup(ctx context.Context, subscriptionID string) (*domain.Subscription, error) {
	sub, err := d.registry.Get(ctx, subscriptionID)
	if err != nil {
		if errors.Is(err, domain.ErrSubscriptionNotFound) {
			return nil, &domain.ConfigurationError{SubscriptionID: subscriptionID, Reason: "subscription not found"}
		}
		return nil, &domain.PersistenceError{Op: "get subscription", Err: err}
	}
	return sub, nil
}

func (d *Dispatcher) newJob(sub *domain.Subscription, eventType domain.EventType, body []byte) *worker.Job {
	return &worker.Job{
		TenantID: sub.TenantID,
		Request: worker.Request{
			SubscriptionID: sub.ID,
			URL:            sub.URL,
			EventType:      eventType,
			Payload:        body,
			Signature:      signature.Sign(body, sub.Secret),
			Headers:        sub.Headers,
			Timeout:        sub.Timeout(),
		},
		MaxAttempts:        sub.MaxAttempts(),
		RateLimitPerSecond: sub.RateLimitPerSecond,
	}
}

// start schedules a delivery. A rejected delivery is logged as a failed
// attempt and leaves the subscription's health untouched.
func (d *Dispatcher) start(ctx context.Context, sub *domain.Subscription, eventType domain.EventType, body []byte) error {
	job := d.newJob(sub, eventType, body)
	err := d.scheduler.Schedule(job)
	if err == nil {
		return nil
	}

	d.logger.Error("delivery not scheduled",
		"subscription_id", sub.ID,
		"event_type", eventType,
		"error", err,
	)
	d.metrics.ObserveDropped()

	reason := err.Error()
	now := d.now()
	entry := &domain.DeliveryAttemptLog{
		SubscriptionID: sub.ID,
		TenantID:       sub.TenantID,
		EventType:      eventType,
		Payload:        body,
		Status:         domain.AttemptFailed,
		AttemptNumber:  1,
		ErrorMessage:   &reason,
		CompletedAt:    &now,
	}
	if cerr := d.logs.CreateAttempt(ctx, entry); cerr != nil {
		d.persistenceFailed("create attempt", sub.ID, cerr)
	}
	return err
}

// AttemptStarted writes the pending log row for an attempt.
func (d *Dispatcher) AttemptStarted(ctx context.Context, job *worker.Job, attempt int) string {
	entry := &domain.DeliveryAttemptLog{
		SubscriptionID: job.Request.SubscriptionID,
		TenantID:       job.TenantID,
		EventType:      job.Request.EventType,
		Payload:        job.Request.Payload,
		Status:         domain.AttemptPending,
		AttemptNumber:  attempt,
	}
	if err := d.logs.CreateAttempt(ctx, entry); err != nil {
		d.persistenceFailed("create attempt", job.Request.SubscriptionID, err)
		return ""
	}
	return entry.ID
}

// AttemptFinished completes the log row of an attempt.
func (d *Dispatcher) AttemptFinished(ctx context.Context, job *worker.Job, recordID string, attempt int, outcome worker.Outcome, final bool) {
	status := domain.AttemptRetrying
	switch {
	case outcome.Kind == worker.Delivered:
		status = domain.AttemptSuccess
	case final:
		status = domain.AttemptFailed
	}

	completion := domain.AttemptCompletion{
		Status:      status,
		DurationMs:  outcome.Duration.Milliseconds(),
		CompletedAt: d.now(),
	}
	if outcome.StatusCode != 0 {
		code := outcome.StatusCode
		completion.ResponseStatus = &code
	}
	if outcome.ResponseBody != "" {
		body := outcome.ResponseBody
		completion.ResponseBody = &body
	}
	if outcome.Kind != worker.Delivered {
		reason := outcome.Reason
		completion.ErrorMessage = &reason
	}

	d.metrics.ObserveAttempt(job.Request.EventType.String(), outcome.Kind.String(), outcome.Duration)

	d.logger.Info("delivery attempt finished",
		"subscription_id", job.Request.SubscriptionID,
		"event_type", job.Request.EventType,
		"attempt", attempt,
		"outcome", outcome.Kind.String(),
		"status_code", outcome.StatusCode,
		"duration_ms", completion.DurationMs,
	)

	if recordID == "" {
		return
	}
	if err := d.logs.CompleteAttempt(ctx, recordID, completion); err != nil {
		d.persistenceFailed("complete attempt", job.Request.SubscriptionID, err)
		return
	}

	if d.notifier != nil {
		entry := domain.DeliveryAttemptLog{
			ID:             recordID,
			SubscriptionID: job.Request.SubscriptionID,
			TenantID:       job.TenantID,
			EventType:      job.Request.EventType,
			AttemptNumber:  attempt,
		}
		completion.Apply(&entry)
		d.notifier.NotifyAttempt(entry)
	}
}

// DeliveryFinished updates the subscription's health for a terminal result.
func (d *Dispatcher) DeliveryFinished(ctx context.Context, job *worker.Job, result worker.Result) {
	subID := job.Request.SubscriptionID
	d.metrics.ObserveDelivery(job.Request.EventType.String(), result.State.String())

	if result.State == worker.StateDelivered {
		if err := d.registry.RecordSuccess(ctx, subID, d.now()); err != nil {
			d.persistenceFailed("record success", subID, err)
		}
		return
	}

	reason := result.Outcome.Reason
	if reason == "" {
		reason = result.Outcome.Kind.String()
	}
	status, consecutive, err := d.registry.RecordFailure(ctx, subID, d.now(), reason, d.failureThreshold)
	if err != nil {
		d.persistenceFailed("record failure", subID, err)
		return
	}

	d.logger.Warn("delivery exhausted",
		"subscription_id", subID,
		"event_type", job.Request.EventType,
		"attempts", result.Attempts,
		"consecutive_failures", consecutive,
		"error", result.Outcome.Err(),
	)

	if status == domain.SubscriptionFailed && consecutive == d.failureThreshold {
		d.metrics.ObserveDisabled()
		d.logger.Warn("subscription disabled after consecutive failures",
			"subscription_id", subID,
			"tenant_id", job.TenantID,
			"threshold", d.failureThreshold,
		)
	}
}

func (d *Dispatcher) persistenceFailed(op, subscriptionID string, err error) {
	d.metrics.ObservePersistenceError(op)
	d.logger.Error("persistence failure",
		"subscription_id", subscriptionID,
		"error", &domain.PersistenceError{Op: op, Err: err},
	)
}
