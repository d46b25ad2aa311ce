package domain

import (
	"encoding/json"
	"strings"
	"time"
	"unicode/utf8"
)

type AttemptStatus string

const (
	AttemptPending  AttemptStatus = "pending"
	AttemptRetrying AttemptStatus = "retrying"
	AttemptSuccess  AttemptStatus = "success"
	AttemptFailed   AttemptStatus = "failed"
)

// Terminal reports whether the status may no longer change.
func (s AttemptStatus) Terminal() bool {
	return s == AttemptSuccess || s == AttemptFailed
}

// MaxResponseBodyChars caps the stored response body.
const MaxResponseBodyChars = 10000

// DeliveryAttemptLog is one row per HTTP attempt. SubscriptionID is a copied
// id, not a foreign key, so logs outlive their subscription.
type DeliveryAttemptLog struct {
	ID             string          `json:"id"`
	SubscriptionID string          `json:"subscription_id"`
	TenantID       string          `json:"tenant_id"`
	EventType      EventType       `json:"event_type"`
	Payload        json.RawMessage `json:"payload"`
	Status         AttemptStatus   `json:"status"`
	AttemptNumber  int             `json:"attempt_number"`
	ResponseStatus *int            `json:"response_status,omitempty"`
	ResponseBody   *string         `json:"response_body,omitempty"`
	ErrorMessage   *string         `json:"error_message,omitempty"`
	DurationMs     int64           `json:"duration_ms"`
	CreatedAt      time.Time       `json:"created_at"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
}

// AttemptCompletion is written once when an attempt has a result.
type AttemptCompletion struct {
	Status         AttemptStatus
	ResponseStatus *int
	ResponseBody   *string
	ErrorMessage   *string
	DurationMs     int64
	CompletedAt    time.Time
}

// Apply copies the completion onto the log entry.
func (c AttemptCompletion) Apply(l *DeliveryAttemptLog) {
	l.Status = c.Status
	l.ResponseStatus = c.ResponseStatus
	l.ResponseBody = c.ResponseBody
	l.ErrorMessage = c.ErrorMessage
	l.DurationMs = c.DurationMs
	completed := c.CompletedAt
	l.CompletedAt = &completed
}

// DeliveryStats aggregates the delivery log of one subscription, counted
// per attempt row. Retried rows are attempts that failed and were followed
// by another attempt; they never change again. Pending rows are attempts
// still waiting for their HTTP result.
type DeliveryStats struct {
	SubscriptionID string  `json:"subscription_id"`
	Total          int     `json:"total"`
	Success        int     `json:"success"`
	Failed         int     `json:"failed"`
	Retried        int     `json:"retried"`
	Pending        int     `json:"pending"`
	SuccessRate    float64 `json:"success_rate"`
	AvgDurationMs  float64 `json:"avg_duration_ms"`
}

// ComputeSuccessRate sets SuccessRate as a percentage of Total.
func (s *DeliveryStats) ComputeSuccessRate() {
	if s.Total == 0 {
		s.SuccessRate = 0
		return
	}
	s.SuccessRate = float64(s.Success) / float64(s.Total) * 100
}

// TruncateBody makes a response body storable as text: invalid UTF-8
// (including a rune cut off by the read limit) becomes U+FFFD, NUL bytes are
// dropped, and the result is cut to at most MaxResponseBodyChars characters.
func TruncateBody(s string) string {
	s = strings.ToValidUTF8(s, "\uFFFD")
	s = strings.ReplaceAll(s, "\x00", "")
	if utf8.RuneCountInString(s) <= MaxResponseBodyChars {
		return s
	}
	runes := []rune(s)
	return string(runes[:MaxResponseBodyChars])
}
