package models

import "time"

// Status event constants.
const (
	StatusEventSent     = "sent"
	StatusEventRejected = "rejected"
	StatusEventFailed   = "failed"
)

// StatusEvent records the outcome of a single send. One event is emitted per
// attempt; there are no intermediate states.
type StatusEvent struct {
	MessageID         string    `json:"message_id"`
	Channel           string    `json:"channel"`
	EventType         string    `json:"event_type"`
	FailureKind       string    `json:"failure_kind,omitempty"`
	ProviderMessageID string    `json:"provider_message_id,omitempty"`
	HTTPStatus        int       `json:"http_status,omitempty"`
	Error             string    `json:"error,omitempty"`
	TraceID           string    `json:"trace_id,omitempty"`
	Timestamp         time.Time `json:"timestamp"`
}
