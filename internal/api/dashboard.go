package api

import (
	"log/slog"
	"net/http"

	"github.com/Priya8975/recruit-webhooks/internal/domain"
	"github.com/go-chi/chi/v5"
)

type DashboardHandler struct {
	subscriptions SubscriptionStore
	logs          DeliveryLogReader
	logger        *slog.Logger
}

func NewDashboardHandler(subs SubscriptionStore, logs DeliveryLogReader, logger *slog.Logger) *DashboardHandler {
	return &DashboardHandler{subscriptions: subs, logs: logs, logger: logger}
}

// Stats returns delivery totals and the success rate of one subscription.
func (h *DashboardHandler) Stats(w http.ResponseWriter, r *http.Request) {
	sub, err := h.subscriptions.GetForTenant(r.Context(), tenantFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		respondDomainError(w, h.logger, err, "failed to get subscription")
		return
	}

	stats, err := h.logs.DeliveryStats(r.Context(), sub.ID)
	if err != nil {
		respondDomainError(w, h.logger, err, "failed to get delivery stats")
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

// SubscriptionsHealth lists the health summary of every subscription of
// the tenant, failing ones first.
func (h *DashboardHandler) SubscriptionsHealth(w http.ResponseWriter, r *http.Request) {
	overview, err := h.subscriptions.HealthOverview(r.Context(), tenantFrom(r.Context()))
	if err != nil {
		respondDomainError(w, h.logger, err, "failed to get subscription health")
		return
	}
	if overview == nil {
		overview = []domain.SubscriptionHealth{}
	}
	respondJSON(w, http.StatusOK, overview)
}
