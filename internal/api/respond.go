package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/Priya8975/recruit-webhooks/internal/domain"
	"github.com/Priya8975/recruit-webhooks/internal/worker"
)

type errorResponse struct {
	Error string `json:"error"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, errorResponse{Error: message})
}

// respondDomainError maps engine and store errors onto HTTP statuses.
// Anything unrecognised is logged and reported as a 500 without detail.
func respondDomainError(w http.ResponseWriter, logger *slog.Logger, err error, fallback string) {
	var cfgErr *domain.ConfigurationError
	switch {
	case errors.Is(err, domain.ErrSubscriptionNotFound):
		respondError(w, http.StatusNotFound, "subscription not found")
	case errors.Is(err, domain.ErrLogNotFound):
		respondError(w, http.StatusNotFound, "delivery log not found")
	case errors.Is(err, worker.ErrQueueFull), errors.Is(err, worker.ErrPoolStopped):
		respondError(w, http.StatusServiceUnavailable, err.Error())
	case errors.As(err, &cfgErr):
		respondError(w, http.StatusUnprocessableEntity, cfgErr.Reason)
	default:
		logger.Error(fallback, "error", err)
		respondError(w, http.StatusInternalServerError, fallback)
	}
}
