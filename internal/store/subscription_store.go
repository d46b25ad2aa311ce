package store

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Priya8975/recruit-webhooks/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const subscriptionColumns = `id, tenant_id, url, secret, description, event_types, headers, status,
	retry_attempts, timeout_ms, rate_limit_per_second, consecutive_failures,
	success_count, failure_count, last_success_at, last_failure_at, last_error,
	created_at, updated_at`

// NewSubscription holds validated values for an insert.
type NewSubscription struct {
	TenantID           string
	URL                string
	Secret             string
	Description        string
	EventTypes         []domain.EventType
	Headers            map[string]string
	RetryAttempts      int
	TimeoutMs          int
	RateLimitPerSecond int
}

// SubscriptionPatch holds validated values for an update. Nil fields are
// left unchanged.
type SubscriptionPatch struct {
	URL                *string
	Description        *string
	EventTypes         []domain.EventType
	Headers            *map[string]string
	RetryAttempts      *int
	TimeoutMs          *int
	RateLimitPerSecond *int
}

func scanSubscription(row pgx.Row) (*domain.Subscription, error) {
	var sub domain.Subscription
	var eventTypes []string
	err := row.Scan(
		&sub.ID, &sub.TenantID, &sub.URL, &sub.Secret, &sub.Description,
		&eventTypes, &sub.Headers, &sub.Status,
		&sub.RetryAttempts, &sub.TimeoutMs, &sub.RateLimitPerSecond, &sub.ConsecutiveFailures,
		&sub.SuccessCount, &sub.FailureCount, &sub.LastSuccessAt, &sub.LastFailureAt, &sub.LastError,
		&sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	sub.EventTypes = make([]domain.EventType, len(eventTypes))
	for i, et := range eventTypes {
		sub.EventTypes[i] = domain.EventType(et)
	}
	return &sub, nil
}

func eventTypeStrings(types []domain.EventType) []string {
	out := make([]string, len(types))
	for i, et := range types {
		out[i] = et.String()
	}
	return out
}

// CreateSubscription stores a new active subscription. A secret is generated
// when none is supplied.
func (s *PostgresStore) CreateSubscription(ctx context.Context, in NewSubscription) (*domain.Subscription, error) {
	if in.Secret == "" {
		secret, err := generateSecret()
		if err != nil {
			return nil, fmt.Errorf("generating secret: %w", err)
		}
		in.Secret = secret
	}
	if in.Headers == nil {
		in.Headers = map[string]string{}
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO subscriptions (id, tenant_id, url, secret, description, event_types, headers,
			retry_attempts, timeout_ms, rate_limit_per_second)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING `+subscriptionColumns,
		uuid.NewString(), in.TenantID, in.URL, in.Secret, in.Description,
		eventTypeStrings(in.EventTypes), in.Headers,
		in.RetryAttempts, in.TimeoutMs, in.RateLimitPerSecond,
	)
	sub, err := scanSubscription(row)
	if err != nil {
		return nil, fmt.Errorf("inserting subscription: %w", err)
	}
	return sub, nil
}

// Get returns a subscription by id regardless of tenant.
func (s *PostgresStore) Get(ctx context.Context, id string) (*domain.Subscription, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, domain.ErrSubscriptionNotFound
	}
	row := s.pool.QueryRow(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = $1`, id)
	sub, err := scanSubscription(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("querying subscription: %w", err)
	}
	return sub, nil
}

// GetForTenant returns a subscription only if it belongs to tenantID.
func (s *PostgresStore) GetForTenant(ctx context.Context, tenantID, id string) (*domain.Subscription, error) {
	sub, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub.TenantID != tenantID {
		return nil, domain.ErrSubscriptionNotFound
	}
	return sub, nil
}

func (s *PostgresStore) ListSubscriptions(ctx context.Context, tenantID string) ([]domain.Subscription, error) {
	return s.querySubscriptions(ctx, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions
		WHERE tenant_id = $1
		ORDER BY created_at DESC
	`, tenantID)
}

// ListActiveForEvent returns the tenant's active subscriptions whose event
// type set contains eventType.
func (s *PostgresStore) ListActiveForEvent(ctx context.Context, tenantID string, eventType domain.EventType) ([]domain.Subscription, error) {
	return s.querySubscriptions(ctx, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions
		WHERE tenant_id = $1
		  AND status = 'active'
		  AND event_types @> ARRAY[$2]::text[]
		ORDER BY created_at
	`, tenantID, eventType.String())
}

func (s *PostgresStore) querySubscriptions(ctx context.Context, query string, args ...any) ([]domain.Subscription, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying subscriptions: %w", err)
	}
	defer rows.Close()

	subs := []domain.Subscription{}
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning subscription: %w", err)
		}
		subs = append(subs, *sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating subscriptions: %w", err)
	}
	return subs, nil
}

func (s *PostgresStore) UpdateSubscription(ctx context.Context, tenantID, id string, p SubscriptionPatch) (*domain.Subscription, error) {
	setClauses := []string{}
	args := []any{}
	argIdx := 1

	set := func(column string, value any) {
		setClauses = append(setClauses, fmt.Sprintf("%s = $%d", column, argIdx))
		args = append(args, value)
		argIdx++
	}

	if p.URL != nil {
		set("url", *p.URL)
	}
	if p.Description != nil {
		set("description", *p.Description)
	}
	if p.EventTypes != nil {
		set("event_types", eventTypeStrings(p.EventTypes))
	}
	if p.Headers != nil {
		headers := *p.Headers
		if headers == nil {
			headers = map[string]string{}
		}
		set("headers", headers)
	}
	if p.RetryAttempts != nil {
		set("retry_attempts", *p.RetryAttempts)
	}
	if p.TimeoutMs != nil {
		set("timeout_ms", *p.TimeoutMs)
	}
	if p.RateLimitPerSecond != nil {
		set("rate_limit_per_second", *p.RateLimitPerSecond)
	}

	if len(setClauses) == 0 {
		return s.GetForTenant(ctx, tenantID, id)
	}
	if _, err := uuid.Parse(id); err != nil {
		return nil, domain.ErrSubscriptionNotFound
	}

	setClauses = append(setClauses, "updated_at = NOW()")
	query := fmt.Sprintf(`
		UPDATE subscriptions SET %s
		WHERE id = $%d AND tenant_id = $%d
		RETURNING %s
	`, strings.Join(setClauses, ", "), argIdx, argIdx+1, subscriptionColumns)
	args = append(args, id, tenantID)

	sub, err := scanSubscription(s.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("updating subscription: %w", err)
	}
	return sub, nil
}

// DeleteSubscription removes the subscription. Its delivery logs are kept.
func (s *PostgresStore) DeleteSubscription(ctx context.Context, tenantID, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return domain.ErrSubscriptionNotFound
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM subscriptions WHERE id = $1 AND tenant_id = $2`, id, tenantID)
	if err != nil {
		return fmt.Errorf("deleting subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrSubscriptionNotFound
	}
	return nil
}

// ResetSubscription re-enables a subscription and clears its failure streak.
func (s *PostgresStore) ResetSubscription(ctx context.Context, tenantID, id string) (*domain.Subscription, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, domain.ErrSubscriptionNotFound
	}
	row := s.pool.QueryRow(ctx, `
		UPDATE subscriptions
		SET status = 'active', consecutive_failures = 0, updated_at = NOW()
		WHERE id = $1 AND tenant_id = $2
		RETURNING `+subscriptionColumns, id, tenantID)
	sub, err := scanSubscription(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("resetting subscription: %w", err)
	}
	return sub, nil
}

// RecordSuccess is a single atomic update; concurrent deliveries to the same
// subscription never lose an increment.
func (s *PostgresStore) RecordSuccess(ctx context.Context, id string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE subscriptions
		SET last_success_at = $2,
		    consecutive_failures = 0,
		    success_count = success_count + 1,
		    updated_at = NOW()
		WHERE id = $1
	`, id, at)
	if err != nil {
		return fmt.Errorf("recording success: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrSubscriptionNotFound
	}
	return nil
}

// RecordFailure increments the failure counters and switches the
// subscription to failed once the streak reaches threshold. A failed
// subscription stays failed.
func (s *PostgresStore) RecordFailure(ctx context.Context, id string, at time.Time, reason string, threshold int) (domain.SubscriptionStatus, int, error) {
	var status domain.SubscriptionStatus
	var consecutive int
	err := s.pool.QueryRow(ctx, `
		UPDATE subscriptions
		SET last_failure_at = $2,
		    last_error = $3,
		    consecutive_failures = consecutive_failures + 1,
		    failure_count = failure_count + 1,
		    status = CASE WHEN consecutive_failures + 1 >= $4 THEN 'failed' ELSE status END,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING status, consecutive_failures
	`, id, at, reason, threshold).Scan(&status, &consecutive)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", 0, domain.ErrSubscriptionNotFound
		}
		return "", 0, fmt.Errorf("recording failure: %w", err)
	}
	return status, consecutive, nil
}

// HealthOverview summarizes every subscription of the tenant, failing ones first.
func (s *PostgresStore) HealthOverview(ctx context.Context, tenantID string) ([]domain.SubscriptionHealth, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, url, status, consecutive_failures, last_success_at, last_failure_at, last_error
		FROM subscriptions
		WHERE tenant_id = $1
		ORDER BY status DESC, consecutive_failures DESC, created_at
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("querying subscription health: %w", err)
	}
	defer rows.Close()

	out := []domain.SubscriptionHealth{}
	for rows.Next() {
		var h domain.SubscriptionHealth
		if err := rows.Scan(&h.ID, &h.URL, &h.Status, &h.ConsecutiveFailures,
			&h.LastSuccessAt, &h.LastFailureAt, &h.LastError); err != nil {
			return nil, fmt.Errorf("scanning subscription health: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func generateSecret() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return "whsec_" + hex.EncodeToString(bytes), nil
}
