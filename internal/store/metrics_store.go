package store

import (
	"context"
	"fmt"

	"github.com/Priya8975/recruit-webhooks/internal/domain"
)

// DeliveryStats aggregates the delivery log of one subscription. A retrying
// row is final once written, so it is reported as retried, not pending.
func (s *PostgresStore) DeliveryStats(ctx context.Context, subscriptionID string) (*domain.DeliveryStats, error) {
	stats := domain.DeliveryStats{SubscriptionID: subscriptionID}

	err := s.pool.QueryRow(ctx, `
		SELECT
			COUNT(*) AS total,
			COUNT(*) FILTER (WHERE status = 'success') AS success,
			COUNT(*) FILTER (WHERE status = 'failed') AS failed,
			COUNT(*) FILTER (WHERE status = 'retrying') AS retried,
			COUNT(*) FILTER (WHERE status = 'pending') AS pending,
			COALESCE(AVG(duration_ms) FILTER (WHERE completed_at IS NOT NULL AND duration_ms > 0), 0) AS avg_duration_ms
		FROM delivery_logs
		WHERE subscription_id = $1
	`, subscriptionID).Scan(&stats.Total, &stats.Success, &stats.Failed, &stats.Retried, &stats.Pending, &stats.AvgDurationMs)
	if err != nil {
		return nil, fmt.Errorf("querying delivery stats: %w", err)
	}

	stats.ComputeSuccessRate()
	return &stats, nil
}
