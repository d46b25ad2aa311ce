package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Delivery metrics
	AttemptsTotal          *prometheus.CounterVec
	AttemptDuration        *prometheus.HistogramVec
	DeliveriesTotal        *prometheus.CounterVec
	DeliveriesDropped      prometheus.Counter
	SubscriptionsDisabled  prometheus.Counter
	PersistenceErrorsTotal *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webhooks_http_requests_total",
				Help: "Total number of management API requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "webhooks_http_request_duration_seconds",
				Help:    "Management API request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),

		AttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webhooks_delivery_attempts_total",
				Help: "Total number of HTTP delivery attempts by outcome",
			},
			[]string{"event_type", "outcome"},
		),
		AttemptDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "webhooks_delivery_attempt_duration_seconds",
				Help:    "Duration of a single delivery attempt in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"event_type"},
		),
		DeliveriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webhooks_deliveries_total",
				Help: "Total number of deliveries that reached a terminal state",
			},
			[]string{"event_type", "state"},
		),
		DeliveriesDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "webhooks_deliveries_dropped_total",
				Help: "Deliveries dropped because the worker queue was full",
			},
		),
		SubscriptionsDisabled: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "webhooks_subscriptions_disabled_total",
				Help: "Subscriptions switched to failed after reaching the failure threshold",
			},
		),
		PersistenceErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webhooks_persistence_errors_total",
				Help: "Failed log or registry writes",
			},
			[]string{"operation"},
		),

		registry: registry,
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.AttemptsTotal,
		m.AttemptDuration,
		m.DeliveriesTotal,
		m.DeliveriesDropped,
		m.SubscriptionsDisabled,
		m.PersistenceErrorsTotal,
	)

	return m
}

// RegisterQueueGauges exposes the worker queue depth and the number of
// deliveries waiting on a backoff timer.
func (m *Metrics) RegisterQueueGauges(queueDepth, scheduled func() int) {
	m.registry.MustRegister(
		prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "webhooks_queue_depth",
				Help: "Delivery attempts waiting for a worker",
			},
			func() float64 { return float64(queueDepth()) },
		),
		prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "webhooks_retries_scheduled",
				Help: "Delivery attempts waiting on a backoff timer",
			},
			func() float64 { return float64(scheduled()) },
		),
	)
}

// The Observe helpers are safe on a nil *Metrics so components can run
// without instrumentation.

func (m *Metrics) ObserveAttempt(eventType, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.AttemptsTotal.WithLabelValues(eventType, outcome).Inc()
	m.AttemptDuration.WithLabelValues(eventType).Observe(d.Seconds())
}

func (m *Metrics) ObserveDelivery(eventType, state string) {
	if m == nil {
		return
	}
	m.DeliveriesTotal.WithLabelValues(eventType, state).Inc()
}

func (m *Metrics) ObserveDropped() {
	if m == nil {
		return
	}
	m.DeliveriesDropped.Inc()
}

func (m *Metrics) ObserveDisabled() {
	if m == nil {
		return
	}
	m.SubscriptionsDisabled.Inc()
}

func (m *Metrics) ObservePersistenceError(op string) {
	if m == nil {
		return
	}
	m.PersistenceErrorsTotal.WithLabelValues(op).Inc()
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics.
// Requests are labelled by chi route pattern to keep cardinality bounded.
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			route := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if pattern := rctx.RoutePattern(); pattern != "" {
					route = pattern
				}
			}

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
