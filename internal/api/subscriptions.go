package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/Priya8975/recruit-webhooks/internal/domain"
	"github.com/go-chi/chi/v5"
)

type SubscriptionHandler struct {
	store      SubscriptionStore
	dispatcher Dispatcher
	limits     Limits
	logger     *slog.Logger
}

func NewSubscriptionHandler(s SubscriptionStore, d Dispatcher, limits Limits, logger *slog.Logger) *SubscriptionHandler {
	return &SubscriptionHandler{store: s, dispatcher: d, limits: limits, logger: logger}
}

// Create registers a subscription. The response is the only place its
// secret is returned.
func (h *SubscriptionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	in, err := h.limits.newSubscription(tenantFrom(r.Context()), req)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	sub, err := h.store.CreateSubscription(r.Context(), in)
	if err != nil {
		respondDomainError(w, h.logger, err, "failed to create subscription")
		return
	}

	respondJSON(w, http.StatusCreated, domain.CreateSubscriptionResponse{
		Subscription: *sub,
		Secret:       sub.Secret,
	})
}

func (h *SubscriptionHandler) List(w http.ResponseWriter, r *http.Request) {
	subs, err := h.store.ListSubscriptions(r.Context(), tenantFrom(r.Context()))
	if err != nil {
		respondDomainError(w, h.logger, err, "failed to list subscriptions")
		return
	}
	if subs == nil {
		subs = []domain.Subscription{}
	}
	respondJSON(w, http.StatusOK, subs)
}

func (h *SubscriptionHandler) Get(w http.ResponseWriter, r *http.Request) {
	sub, err := h.store.GetForTenant(r.Context(), tenantFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		respondDomainError(w, h.logger, err, "failed to get subscription")
		return
	}
	respondJSON(w, http.StatusOK, sub)
}

func (h *SubscriptionHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req domain.UpdateSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	patch, err := h.limits.patch(req)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	sub, err := h.store.UpdateSubscription(r.Context(), tenantFrom(r.Context()), chi.URLParam(r, "id"), patch)
	if err != nil {
		respondDomainError(w, h.logger, err, "failed to update subscription")
		return
	}
	respondJSON(w, http.StatusOK, sub)
}

// Delete removes the subscription; its delivery logs are retained.
func (h *SubscriptionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.store.DeleteSubscription(r.Context(), tenantFrom(r.Context()), chi.URLParam(r, "id")); err != nil {
		respondDomainError(w, h.logger, err, "failed to delete subscription")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Reset re-enables a failed subscription and clears its failure streak.
func (h *SubscriptionHandler) Reset(w http.ResponseWriter, r *http.Request) {
	sub, err := h.store.ResetSubscription(r.Context(), tenantFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		respondDomainError(w, h.logger, err, "failed to reset subscription")
		return
	}
	respondJSON(w, http.StatusOK, sub)
}

// Test sends one webhook.test event and reports the result. A failing
// endpoint is still a 200: the result carries the failure.
func (h *SubscriptionHandler) Test(w http.ResponseWriter, r *http.Request) {
	sub, err := h.store.GetForTenant(r.Context(), tenantFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		respondDomainError(w, h.logger, err, "failed to get subscription")
		return
	}

	result, err := h.dispatcher.Test(r.Context(), sub.ID)
	if err != nil {
		respondDomainError(w, h.logger, err, "failed to send test webhook")
		return
	}
	respondJSON(w, http.StatusOK, result)
}
