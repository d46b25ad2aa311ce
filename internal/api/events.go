package api

import (
	"encoding/json"
	"net/http"

	"github.com/Priya8975/recruit-webhooks/internal/domain"
)

type EventHandler struct {
	dispatcher Dispatcher
}

func NewEventHandler(d Dispatcher) *EventHandler {
	return &EventHandler{dispatcher: d}
}

type createEventRequest struct {
	EventType string         `json:"event_type"`
	Payload   map[string]any `json:"payload"`
}

type createEventResponse struct {
	EventType         domain.EventType `json:"event_type"`
	DeliveriesStarted int              `json:"deliveries_started"`
}

// Create triggers an event for the calling tenant. Deliveries run in the
// background, so the response only reports how many were started.
func (h *EventHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.EventType == "" {
		respondError(w, http.StatusBadRequest, "event_type is required")
		return
	}
	eventType, err := domain.ParseEventType(req.EventType)
	if err != nil || !eventType.Subscribable() {
		respondError(w, http.StatusBadRequest, "unknown event type")
		return
	}

	started := h.dispatcher.Trigger(r.Context(), tenantFrom(r.Context()), eventType, req.Payload)

	respondJSON(w, http.StatusAccepted, createEventResponse{
		EventType:         eventType,
		DeliveriesStarted: started,
	})
}
