package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/Priya8975/recruit-webhooks/internal/domain"
)

// Header names set on every delivery. Subscriber headers cannot override them.
const (
	HeaderContentType  = "Content-Type"
	HeaderSignature    = "X-Webhook-Signature"
	HeaderEvent        = "X-Webhook-Event"
	HeaderSubscription = "X-Webhook-Id"
	HeaderAttempt      = "X-Webhook-Attempt"
)

var reservedHeaders = map[string]bool{
	http.CanonicalHeaderKey(HeaderContentType):  true,
	http.CanonicalHeaderKey(HeaderSignature):    true,
	http.CanonicalHeaderKey(HeaderEvent):        true,
	http.CanonicalHeaderKey(HeaderSubscription): true,
	http.CanonicalHeaderKey(HeaderAttempt):      true,
}

// IsReservedHeader reports whether name is one of the identity headers.
func IsReservedHeader(name string) bool {
	return reservedHeaders[http.CanonicalHeaderKey(name)]
}

// maxResponseBytes bounds how much of a response is read; the stored body is
// further cut to domain.MaxResponseBodyChars characters.
const maxResponseBytes = domain.MaxResponseBodyChars * 4

// Request is everything needed for one HTTP attempt.
type Request struct {
	SubscriptionID string
	URL            string
	EventType      domain.EventType
	Payload        []byte
	Signature      string
	Headers        map[string]string
	Attempt        int
	Timeout        time.Duration
}

type OutcomeKind int

const (
	Delivered OutcomeKind = iota
	RetryableFailure
	FatalFailure
)

func (k OutcomeKind) String() string {
	switch k {
	case Delivered:
		return "delivered"
	case RetryableFailure:
		return "retryable_failure"
	case FatalFailure:
		return "fatal_failure"
	default:
		return "unknown"
	}
}

// Outcome is the classified result of one attempt. StatusCode is zero when no
// response was received.
type Outcome struct {
	Kind         OutcomeKind
	StatusCode   int
	Reason       string
	ResponseBody string
	Duration     time.Duration
}

// Err returns the typed error for a failed outcome, or nil when delivered.
func (o Outcome) Err() error {
	switch o.Kind {
	case Delivered:
		return nil
	case FatalFailure:
		return &domain.ConfigurationError{Reason: o.Reason}
	default:
		return &domain.RetryableDeliveryError{StatusCode: o.StatusCode, Reason: o.Reason}
	}
}

// Deliverer performs single HTTP delivery attempts. It never touches
// subscription or log state; callers persist the outcome.
type Deliverer struct {
	httpClient *http.Client
	logger     *slog.Logger
}

// NewDeliverer creates a deliverer. Per-attempt timeouts come from the
// request, so the client itself has no global timeout.
func NewDeliverer(logger *slog.Logger) *Deliverer {
	return &Deliverer{
		httpClient: &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger: logger,
	}
}

// Attempt sends the payload to req.URL via HTTP POST and classifies the result.
func (d *Deliverer) Attempt(ctx context.Context, req Request) Outcome {
	start := time.Now()

	target, err := url.Parse(req.URL)
	if err != nil || (target.Scheme != "http" && target.Scheme != "https") || target.Host == "" {
		return Outcome{Kind: FatalFailure, Reason: fmt.Sprintf("invalid endpoint url %q", req.URL)}
	}

	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String(), bytes.NewReader(req.Payload))
	if err != nil {
		return Outcome{Kind: FatalFailure, Reason: fmt.Sprintf("failed to create request: %v", err)}
	}

	for key, value := range req.Headers {
		if IsReservedHeader(key) {
			continue
		}
		httpReq.Header.Set(key, value)
	}
	httpReq.Header.Set(HeaderContentType, "application/json")
	httpReq.Header.Set(HeaderSignature, req.Signature)
	httpReq.Header.Set(HeaderEvent, req.EventType.String())
	httpReq.Header.Set(HeaderSubscription, req.SubscriptionID)
	httpReq.Header.Set(HeaderAttempt, strconv.Itoa(req.Attempt))

	resp, err := d.httpClient.Do(httpReq)
	if err != nil {
		reason := fmt.Sprintf("request failed: %v", err)
		if errors.Is(err, context.DeadlineExceeded) {
			reason = fmt.Sprintf("timeout after %s", req.Timeout)
		}
		return Outcome{Kind: RetryableFailure, Reason: reason, Duration: time.Since(start)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		d.logger.Debug("failed to read response body",
			"subscription_id", req.SubscriptionID,
			"error", err,
		)
	}

	return classify(resp.StatusCode, domain.TruncateBody(string(body)), time.Since(start))
}

// classify maps an HTTP status to an outcome. Every non-2xx status is
// retryable, 4xx included.
func classify(statusCode int, body string, elapsed time.Duration) Outcome {
	out := Outcome{
		StatusCode:   statusCode,
		ResponseBody: body,
		Duration:     elapsed,
	}

	switch {
	case statusCode >= 200 && statusCode < 300:
		out.Kind = Delivered
	case statusCode == http.StatusTooManyRequests:
		out.Kind = RetryableFailure
		out.Reason = "rate limited by receiver"
	default:
		out.Kind = RetryableFailure
		out.Reason = http.StatusText(statusCode)
		if out.Reason == "" {
			out.Reason = "unexpected status"
		}
	}
	return out
}
