package events

import "time"

// EphemeralStatus is the lifecycle stage of an ephemeral action.
type EphemeralStatus string

const (
	EphemeralActive    EphemeralStatus = "active"
	EphemeralCompleted EphemeralStatus = "completed"
	EphemeralError     EphemeralStatus = "error"
)

// ReferencePayload is the NOTIFY payload produced by the
// chat_completion_messages_notify trigger: "a new message row with this id
// exists". Subscribers re-read the row and emit a sanitized view.
type ReferencePayload struct {
	ID             int64  `json:"id"`
	ConversationID string `json:"conversation_id"`
	MapID          string `json:"map_id"`
}

// EphemeralUpdates flags side effects the frontend should react to.
type EphemeralUpdates struct {
	StyleJSON bool `json:"style_json"`
}

// EphemeralPayload brackets a tool invocation with an active/completed pair
// sharing the same ActionID, per spec.md §4.4.
type EphemeralPayload struct {
	Ephemeral      bool             `json:"ephemeral"`
	ConversationID string           `json:"conversation_id"`
	ActionID       string           `json:"action_id"`
	LayerID        *string          `json:"layer_id,omitempty"`
	Action         string           `json:"action"`
	Timestamp      time.Time        `json:"timestamp"`
	CompletedAt    *time.Time       `json:"completed_at"`
	Status         EphemeralStatus  `json:"status"`
	Bounds         *[4]float64      `json:"bounds,omitempty"`
	Updates        EphemeralUpdates `json:"updates"`
	ErrorMessage   string           `json:"error_message,omitempty"`
}

// routingEnvelope extracts just enough of a raw NOTIFY payload to route it
// to the right conversation's subscribers, without needing to know whether
// it's a reference or ephemeral payload.
type routingEnvelope struct {
	ConversationID string `json:"conversation_id"`
}
