package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/Priya8975/recruit-webhooks/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// DefaultLogLimit is the page size when the caller gives none.
const DefaultLogLimit = 100

const deliveryLogColumns = `id, subscription_id, tenant_id, event_type, payload, status, attempt_number,
	response_status, response_body, error_message, duration_ms, created_at, completed_at`

func scanDeliveryLog(row pgx.Row) (*domain.DeliveryAttemptLog, error) {
	var l domain.DeliveryAttemptLog
	err := row.Scan(
		&l.ID, &l.SubscriptionID, &l.TenantID, &l.EventType, &l.Payload, &l.Status, &l.AttemptNumber,
		&l.ResponseStatus, &l.ResponseBody, &l.ErrorMessage, &l.DurationMs, &l.CreatedAt, &l.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// CreateAttempt inserts a log row and fills in its id and creation time.
// Status defaults to pending.
func (s *PostgresStore) CreateAttempt(ctx context.Context, entry *domain.DeliveryAttemptLog) error {
	if entry.Status == "" {
		entry.Status = domain.AttemptPending
	}
	if entry.AttemptNumber < 1 {
		entry.AttemptNumber = 1
	}
	entry.ID = uuid.NewString()

	err := s.pool.QueryRow(ctx, `
		INSERT INTO delivery_logs (id, subscription_id, tenant_id, event_type, payload, status,
			attempt_number, error_message, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at
	`, entry.ID, entry.SubscriptionID, entry.TenantID, entry.EventType.String(), []byte(entry.Payload),
		entry.Status, entry.AttemptNumber, entry.ErrorMessage, entry.CompletedAt,
	).Scan(&entry.CreatedAt)
	if err != nil {
		entry.ID = ""
		return fmt.Errorf("inserting delivery log: %w", err)
	}
	return nil
}

// CompleteAttempt records the result of an attempt. Rows already in a
// terminal status are never changed.
func (s *PostgresStore) CompleteAttempt(ctx context.Context, id string, c domain.AttemptCompletion) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE delivery_logs
		SET status = $2, response_status = $3, response_body = $4, error_message = $5,
		    duration_ms = $6, completed_at = $7
		WHERE id = $1 AND status IN ('pending', 'retrying')
	`, id, c.Status, c.ResponseStatus, c.ResponseBody, c.ErrorMessage, c.DurationMs, c.CompletedAt)
	if err != nil {
		return fmt.Errorf("completing delivery log: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("completing delivery log %s: %w", id, domain.ErrLogNotFound)
	}
	return nil
}

func (s *PostgresStore) GetAttempt(ctx context.Context, id string) (*domain.DeliveryAttemptLog, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, domain.ErrLogNotFound
	}
	l, err := scanDeliveryLog(s.pool.QueryRow(ctx, `SELECT `+deliveryLogColumns+` FROM delivery_logs WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrLogNotFound
		}
		return nil, fmt.Errorf("querying delivery log: %w", err)
	}
	return l, nil
}

// ListAttempts returns a subscription's logs newest first.
func (s *PostgresStore) ListAttempts(ctx context.Context, subscriptionID string, limit, offset int) ([]domain.DeliveryAttemptLog, error) {
	if limit <= 0 {
		limit = DefaultLogLimit
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+deliveryLogColumns+`
		FROM delivery_logs
		WHERE subscription_id = $1
		ORDER BY created_at DESC, attempt_number DESC
		LIMIT $2 OFFSET $3
	`, subscriptionID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("querying delivery logs: %w", err)
	}
	defer rows.Close()

	logs := []domain.DeliveryAttemptLog{}
	for rows.Next() {
		l, err := scanDeliveryLog(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning delivery log: %w", err)
		}
		logs = append(logs, *l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating delivery logs: %w", err)
	}
	return logs, nil
}
