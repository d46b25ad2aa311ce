package api

import (
	"fmt"
	"net/url"
	"time"

	"github.com/Priya8975/recruit-webhooks/internal/domain"
	"github.com/Priya8975/recruit-webhooks/internal/store"
	"github.com/Priya8975/recruit-webhooks/internal/worker"
	"golang.org/x/net/http/httpguts"
)

// Limits bounds the per-subscription settings a tenant may choose.
type Limits struct {
	DefaultTimeout       time.Duration
	MinTimeout           time.Duration
	MaxTimeout           time.Duration
	DefaultRetryAttempts int
	MaxRetryAttempts     int
}

// DefaultLimits matches the configuration defaults.
func DefaultLimits() Limits {
	return Limits{
		DefaultTimeout:       10 * time.Second,
		MinTimeout:           time.Second,
		MaxTimeout:           60 * time.Second,
		DefaultRetryAttempts: 3,
		MaxRetryAttempts:     10,
	}
}

type validationError struct {
	msg string
}

func (e *validationError) Error() string { return e.msg }

func invalid(format string, args ...any) error {
	return &validationError{msg: fmt.Sprintf(format, args...)}
}

func validateURL(raw string) error {
	if raw == "" {
		return invalid("url is required")
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return invalid("url must be an absolute http or https URL")
	}
	return nil
}

func validateEventTypes(types []domain.EventType) error {
	if len(types) == 0 {
		return invalid("event_types must not be empty")
	}
	for _, et := range types {
		if !et.Subscribable() {
			return invalid("event type %q cannot be subscribed to", et)
		}
	}
	return nil
}

func validateHeaders(headers map[string]string) error {
	for name, value := range headers {
		if name == "" {
			return invalid("header names must not be empty")
		}
		if !httpguts.ValidHeaderFieldName(name) {
			return invalid("header name %q is not a valid HTTP field name", name)
		}
		if worker.IsReservedHeader(name) {
			return invalid("header %q is reserved", name)
		}
		if !httpguts.ValidHeaderFieldValue(value) {
			return invalid("header %q has an invalid value", name)
		}
	}
	return nil
}

func (l Limits) validateTimeout(ms int) error {
	d := time.Duration(ms) * time.Millisecond
	if d < l.MinTimeout || d > l.MaxTimeout {
		return invalid("timeout_ms must be within %d..%d", l.MinTimeout.Milliseconds(), l.MaxTimeout.Milliseconds())
	}
	return nil
}

func (l Limits) validateRetries(n int) error {
	if n < 0 || n > l.MaxRetryAttempts {
		return invalid("retry_attempts must be within 0..%d", l.MaxRetryAttempts)
	}
	return nil
}

func validateRateLimit(n int) error {
	if n < 0 {
		return invalid("rate_limit_per_second must not be negative")
	}
	return nil
}

func (l Limits) newSubscription(tenantID string, req domain.CreateSubscriptionRequest) (store.NewSubscription, error) {
	in := store.NewSubscription{
		TenantID:           tenantID,
		URL:                req.URL,
		Secret:             req.Secret,
		Description:        req.Description,
		EventTypes:         req.EventTypes,
		Headers:            req.Headers,
		RetryAttempts:      l.DefaultRetryAttempts,
		TimeoutMs:          int(l.DefaultTimeout.Milliseconds()),
		RateLimitPerSecond: req.RateLimitPerSecond,
	}
	if req.RetryAttempts != nil {
		in.RetryAttempts = *req.RetryAttempts
	}
	if req.TimeoutMs != nil {
		in.TimeoutMs = *req.TimeoutMs
	}
	if in.Headers == nil {
		in.Headers = map[string]string{}
	}

	for _, err := range []error{
		validateURL(in.URL),
		validateEventTypes(in.EventTypes),
		validateHeaders(in.Headers),
		l.validateTimeout(in.TimeoutMs),
		l.validateRetries(in.RetryAttempts),
		validateRateLimit(in.RateLimitPerSecond),
	} {
		if err != nil {
			return store.NewSubscription{}, err
		}
	}
	return in, nil
}

func (l Limits) patch(req domain.UpdateSubscriptionRequest) (store.SubscriptionPatch, error) {
	p := store.SubscriptionPatch{
		URL:                req.URL,
		Description:        req.Description,
		EventTypes:         req.EventTypes,
		Headers:            req.Headers,
		RetryAttempts:      req.RetryAttempts,
		TimeoutMs:          req.TimeoutMs,
		RateLimitPerSecond: req.RateLimitPerSecond,
	}

	if p.URL != nil {
		if err := validateURL(*p.URL); err != nil {
			return p, err
		}
	}
	if p.EventTypes != nil {
		if err := validateEventTypes(p.EventTypes); err != nil {
			return p, err
		}
	}
	if p.Headers != nil {
		if err := validateHeaders(*p.Headers); err != nil {
			return p, err
		}
	}
	if p.TimeoutMs != nil {
		if err := l.validateTimeout(*p.TimeoutMs); err != nil {
			return p, err
		}
	}
	if p.RetryAttempts != nil {
		if err := l.validateRetries(*p.RetryAttempts); err != nil {
			return p, err
		}
	}
	if p.RateLimitPerSecond != nil {
		if err := validateRateLimit(*p.RateLimitPerSecond); err != nil {
			return p, err
		}
	}
	return p, nil
}
