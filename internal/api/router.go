package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/Priya8975/recruit-webhooks/internal/domain"
	"github.com/Priya8975/recruit-webhooks/internal/engine"
	"github.com/Priya8975/recruit-webhooks/internal/metrics"
	"github.com/Priya8975/recruit-webhooks/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// SubscriptionStore is the tenant-scoped subscription storage behind the
// management endpoints.
type SubscriptionStore interface {
	CreateSubscription(ctx context.Context, in store.NewSubscription) (*domain.Subscription, error)
	GetForTenant(ctx context.Context, tenantID, id string) (*domain.Subscription, error)
	ListSubscriptions(ctx context.Context, tenantID string) ([]domain.Subscription, error)
	UpdateSubscription(ctx context.Context, tenantID, id string, p store.SubscriptionPatch) (*domain.Subscription, error)
	DeleteSubscription(ctx context.Context, tenantID, id string) error
	ResetSubscription(ctx context.Context, tenantID, id string) (*domain.Subscription, error)
	HealthOverview(ctx context.Context, tenantID string) ([]domain.SubscriptionHealth, error)
}

// DeliveryLogReader reads the delivery log of a subscription.
type DeliveryLogReader interface {
	ListAttempts(ctx context.Context, subscriptionID string, limit, offset int) ([]domain.DeliveryAttemptLog, error)
	DeliveryStats(ctx context.Context, subscriptionID string) (*domain.DeliveryStats, error)
}

// Dispatcher starts deliveries.
type Dispatcher interface {
	Trigger(ctx context.Context, tenantID string, eventType domain.EventType, payload map[string]any) int
	Test(ctx context.Context, subscriptionID string) (engine.TestResult, error)
	Redeliver(ctx context.Context, subscriptionID, logID string) error
}

// Pinger is a dependency the health endpoint checks.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps wires the router. WebSocket, Metrics and Checks are optional.
type Deps struct {
	Subscriptions SubscriptionStore
	Logs          DeliveryLogReader
	Dispatcher    Dispatcher
	Limits        Limits
	WebSocket     http.HandlerFunc
	Metrics       *metrics.Metrics
	Checks        map[string]Pinger
	Logger        *slog.Logger
}

// NewRouter creates and configures the HTTP router.
func NewRouter(deps Deps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))
	r.Use(corsMiddleware)
	if deps.Metrics != nil {
		r.Use(metrics.HTTPMetricsMiddleware(deps.Metrics))
		r.Handle("/metrics", deps.Metrics.Handler())
	}

	subHandler := NewSubscriptionHandler(deps.Subscriptions, deps.Dispatcher, deps.Limits, logger)
	deliveryHandler := NewDeliveryHandler(deps.Subscriptions, deps.Logs, deps.Dispatcher, logger)
	eventHandler := NewEventHandler(deps.Dispatcher)
	dashHandler := NewDashboardHandler(deps.Subscriptions, deps.Logs, logger)

	if deps.WebSocket != nil {
		r.Get("/ws", deps.WebSocket)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", HealthHandler(deps.Checks))

		r.Group(func(r chi.Router) {
			r.Use(requireTenant)

			r.Route("/subscriptions", func(r chi.Router) {
				r.Post("/", subHandler.Create)
				r.Get("/", subHandler.List)
				r.Get("/{id}", subHandler.Get)
				r.Patch("/{id}", subHandler.Update)
				r.Delete("/{id}", subHandler.Delete)
				r.Post("/{id}/reset", subHandler.Reset)
				r.Post("/{id}/test", subHandler.Test)
				r.Get("/{id}/logs", deliveryHandler.List)
				r.Post("/{id}/logs/{logID}/redeliver", deliveryHandler.Redeliver)
				r.Get("/{id}/stats", dashHandler.Stats)
			})

			r.Get("/subscriptions-health", dashHandler.SubscriptionsHealth)
			r.Post("/events", eventHandler.Create)
		})
	})

	return r
}
