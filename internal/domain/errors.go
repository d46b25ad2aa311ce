package domain

import (
	"errors"
	"fmt"
)

var (
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrLogNotFound          = errors.New("delivery log not found")
)

// ConfigurationError rejects a delivery before any attempt is made.
type ConfigurationError struct {
	SubscriptionID string
	Reason         string
}

func (e *ConfigurationError) Error() string {
	if e.SubscriptionID == "" {
		return "webhook configuration: " + e.Reason
	}
	return fmt.Sprintf("webhook configuration for subscription %s: %s", e.SubscriptionID, e.Reason)
}

// RetryableDeliveryError describes a failed attempt that may be retried.
// StatusCode is zero for network errors and timeouts.
type RetryableDeliveryError struct {
	StatusCode int
	Reason     string
}

func (e *RetryableDeliveryError) Error() string {
	if e.StatusCode == 0 {
		return e.Reason
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Reason)
}

// PersistenceError wraps a failed log or registry write.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
