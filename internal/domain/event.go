package domain

import (
	"encoding/json"
	"fmt"
)

// EventType is one of the recruiting domain events a tenant can subscribe to.
// The set is closed: values outside it are rejected by ParseEventType.
type EventType string

const (
	EventCandidateCreated         EventType = "candidate.created"
	EventCandidateUpdated         EventType = "candidate.updated"
	EventCandidateDeleted         EventType = "candidate.deleted"
	EventApplicationCreated       EventType = "application.created"
	EventApplicationStageChanged  EventType = "application.stage_changed"
	EventApplicationRejected      EventType = "application.rejected"
	EventApplicationHired         EventType = "application.hired"
	EventJobCreated               EventType = "job.created"
	EventJobUpdated               EventType = "job.updated"
	EventJobClosed                EventType = "job.closed"
	EventInterviewScheduled       EventType = "interview.scheduled"
	EventInterviewCompleted       EventType = "interview.completed"
	EventInterviewCancelled       EventType = "interview.cancelled"
	EventInterviewFeedbackCreated EventType = "interview.feedback_submitted"
	EventOfferCreated             EventType = "offer.created"
	EventOfferSent                EventType = "offer.sent"
	EventOfferAccepted            EventType = "offer.accepted"
	EventOfferDeclined            EventType = "offer.declined"
	EventSurveyCompleted          EventType = "survey.completed"

	// EventWebhookTest is synthesized by manual test-sends. Subscriptions
	// cannot subscribe to it.
	EventWebhookTest EventType = "webhook.test"
)

var subscribableEvents = []EventType{
	EventCandidateCreated,
	EventCandidateUpdated,
	EventCandidateDeleted,
	EventApplicationCreated,
	EventApplicationStageChanged,
	EventApplicationRejected,
	EventApplicationHired,
	EventJobCreated,
	EventJobUpdated,
	EventJobClosed,
	EventInterviewScheduled,
	EventInterviewCompleted,
	EventInterviewCancelled,
	EventInterviewFeedbackCreated,
	EventOfferCreated,
	EventOfferSent,
	EventOfferAccepted,
	EventOfferDeclined,
	EventSurveyCompleted,
}

var knownEvents = func() map[EventType]bool {
	m := make(map[EventType]bool, len(subscribableEvents)+1)
	for _, et := range subscribableEvents {
		m[et] = true
	}
	m[EventWebhookTest] = true
	return m
}()

// EventTypes returns every event type a subscription may list.
func EventTypes() []EventType {
	out := make([]EventType, len(subscribableEvents))
	copy(out, subscribableEvents)
	return out
}

// ParseEventType decodes a wire value into an EventType.
func ParseEventType(s string) (EventType, error) {
	et := EventType(s)
	if !knownEvents[et] {
		return "", fmt.Errorf("unknown event type %q", s)
	}
	return et, nil
}

// Valid reports whether et belongs to the closed set.
func (et EventType) Valid() bool {
	return knownEvents[et]
}

// Subscribable reports whether a subscription may list et.
func (et EventType) Subscribable() bool {
	return et.Valid() && et != EventWebhookTest
}

func (et EventType) String() string {
	return string(et)
}

// UnmarshalJSON rejects values outside the closed set.
func (et *EventType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseEventType(s)
	if err != nil {
		return err
	}
	*et = parsed
	return nil
}
