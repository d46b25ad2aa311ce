package domain

import (
	"slices"
	"time"
)

type SubscriptionStatus string

const (
	SubscriptionActive SubscriptionStatus = "active"
	SubscriptionFailed SubscriptionStatus = "failed"
)

// DefaultFailureThreshold is the number of consecutive exhausted deliveries
// after which a subscription is switched to SubscriptionFailed.
const DefaultFailureThreshold = 10

// Subscription is a tenant's registered webhook endpoint.
type Subscription struct {
	ID                  string             `json:"id"`
	TenantID            string             `json:"tenant_id"`
	URL                 string             `json:"url"`
	Secret              string             `json:"-"`
	Description         string             `json:"description,omitempty"`
	EventTypes          []EventType        `json:"event_types"`
	Headers             map[string]string  `json:"headers,omitempty"`
	Status              SubscriptionStatus `json:"status"`
	RetryAttempts       int                `json:"retry_attempts"`
	TimeoutMs           int                `json:"timeout_ms"`
	RateLimitPerSecond  int                `json:"rate_limit_per_second"`
	ConsecutiveFailures int                `json:"consecutive_failures"`
	SuccessCount        int64              `json:"success_count"`
	FailureCount        int64              `json:"failure_count"`
	LastSuccessAt       *time.Time         `json:"last_success_at,omitempty"`
	LastFailureAt       *time.Time         `json:"last_failure_at,omitempty"`
	LastError           *string            `json:"last_error,omitempty"`
	CreatedAt           time.Time          `json:"created_at"`
	UpdatedAt           time.Time          `json:"updated_at"`
}

// Accepts reports whether the subscription should receive eventType.
func (s *Subscription) Accepts(eventType EventType) bool {
	return s.Status == SubscriptionActive && slices.Contains(s.EventTypes, eventType)
}

// MaxAttempts is the number of HTTP attempts per delivery. Zero retry
// attempts still means one attempt.
func (s *Subscription) MaxAttempts() int {
	if s.RetryAttempts < 1 {
		return 1
	}
	return s.RetryAttempts
}

// Timeout is the per-attempt HTTP timeout.
func (s *Subscription) Timeout() time.Duration {
	return time.Duration(s.TimeoutMs) * time.Millisecond
}

type CreateSubscriptionRequest struct {
	URL                string            `json:"url"`
	Secret             string            `json:"secret,omitempty"`
	Description        string            `json:"description,omitempty"`
	EventTypes         []EventType       `json:"event_types"`
	Headers            map[string]string `json:"headers,omitempty"`
	RetryAttempts      *int              `json:"retry_attempts,omitempty"`
	TimeoutMs          *int              `json:"timeout_ms,omitempty"`
	RateLimitPerSecond int               `json:"rate_limit_per_second,omitempty"`
}

type UpdateSubscriptionRequest struct {
	URL                *string            `json:"url,omitempty"`
	Description        *string            `json:"description,omitempty"`
	EventTypes         []EventType        `json:"event_types,omitempty"`
	Headers            *map[string]string `json:"headers,omitempty"`
	RetryAttempts      *int               `json:"retry_attempts,omitempty"`
	TimeoutMs          *int               `json:"timeout_ms,omitempty"`
	RateLimitPerSecond *int               `json:"rate_limit_per_second,omitempty"`
}

// CreateSubscriptionResponse is the only place the secret is ever returned.
type CreateSubscriptionResponse struct {
	Subscription
	Secret string `json:"secret"`
}

// SubscriptionHealth is the per-subscription summary used by the health overview.
type SubscriptionHealth struct {
	ID                  string             `json:"id"`
	URL                 string             `json:"url"`
	Status              SubscriptionStatus `json:"status"`
	ConsecutiveFailures int                `json:"consecutive_failures"`
	LastSuccessAt       *time.Time         `json:"last_success_at,omitempty"`
	LastFailureAt       *time.Time         `json:"last_failure_at,omitempty"`
	LastError           *string            `json:"last_error,omitempty"`
}

func (s *Subscription) Health() SubscriptionHealth {
	return SubscriptionHealth{
		ID:                  s.ID,
		URL:                 s.URL,
		Status:              s.Status,
		ConsecutiveFailures: s.ConsecutiveFailures,
		LastSuccessAt:       s.LastSuccessAt,
		LastFailureAt:       s.LastFailureAt,
		LastError:           s.LastError,
	}
}
