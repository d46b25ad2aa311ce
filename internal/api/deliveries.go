package api

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/Priya8975/recruit-webhooks/internal/domain"
	"github.com/Priya8975/recruit-webhooks/internal/store"
	"github.com/go-chi/chi/v5"
)

const maxLogLimit = 1000

type DeliveryHandler struct {
	subscriptions SubscriptionStore
	logs          DeliveryLogReader
	dispatcher    Dispatcher
	logger        *slog.Logger
}

func NewDeliveryHandler(subs SubscriptionStore, logs DeliveryLogReader, d Dispatcher, logger *slog.Logger) *DeliveryHandler {
	return &DeliveryHandler{subscriptions: subs, logs: logs, dispatcher: d, logger: logger}
}

// List returns the subscription's delivery log, newest first.
func (h *DeliveryHandler) List(w http.ResponseWriter, r *http.Request) {
	sub, err := h.subscriptions.GetForTenant(r.Context(), tenantFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		respondDomainError(w, h.logger, err, "failed to get subscription")
		return
	}

	limit, ok := queryInt(r, "limit", store.DefaultLogLimit)
	if !ok || limit < 1 || limit > maxLogLimit {
		respondError(w, http.StatusBadRequest, "limit must be within 1.."+strconv.Itoa(maxLogLimit))
		return
	}
	offset, ok := queryInt(r, "offset", 0)
	if !ok || offset < 0 {
		respondError(w, http.StatusBadRequest, "offset must not be negative")
		return
	}

	entries, err := h.logs.ListAttempts(r.Context(), sub.ID, limit, offset)
	if err != nil {
		respondDomainError(w, h.logger, err, "failed to list delivery logs")
		return
	}
	if entries == nil {
		entries = []domain.DeliveryAttemptLog{}
	}
	respondJSON(w, http.StatusOK, entries)
}

// Redeliver replays a logged payload as a fresh delivery.
func (h *DeliveryHandler) Redeliver(w http.ResponseWriter, r *http.Request) {
	sub, err := h.subscriptions.GetForTenant(r.Context(), tenantFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		respondDomainError(w, h.logger, err, "failed to get subscription")
		return
	}

	if err := h.dispatcher.Redeliver(r.Context(), sub.ID, chi.URLParam(r, "logID")); err != nil {
		respondDomainError(w, h.logger, err, "failed to redeliver")
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func queryInt(r *http.Request, key string, fallback int) (int, bool) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return n, true
}
