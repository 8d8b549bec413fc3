package api

import "time"

// mapResponse is returned by POST /api/maps/create.
type mapResponse struct {
	ID          string    `json:"id"`
	ProjectID   string    `json:"project_id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

// uploadLayerResponse is returned by POST /api/maps/:map_id/layers.
type uploadLayerResponse struct {
	LayerID   string `json:"layer_id"`
	NewMapID  string `json:"new_map_id"`
	Kind      string `json:"kind"`
	StyleID   string `json:"style_id"`
}

// setLayerStyleResponse is returned by POST /api/layers/:layer_id/style.
type setLayerStyleResponse struct {
	StyleID string `json:"style_id"`
	LayerID string `json:"layer_id"`
}

// pgConnectionResponse is returned by the PostGIS connection endpoints. The
// URI itself is never included, per models.PGConnection's json:"-" on URI.
type pgConnectionResponse struct {
	ID                 string     `json:"id"`
	ProjectID          string     `json:"project_id"`
	ConnectionName     string     `json:"connection_name"`
	Rewritten          bool       `json:"rewritten,omitempty"`
	LastErrorText      *string    `json:"last_error_text,omitempty"`
	LastErrorTimestamp *time.Time `json:"last_error_timestamp,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
}

// sendMessageResponse is returned by the agentic-loop send endpoint.
type sendMessageResponse struct {
	ConversationID string `json:"conversation_id"`
	SentMessage    string `json:"sent_message"`
	MessageID      int64  `json:"message_id"`
	Status         string `json:"status"`
}

// cancelResponse is returned by POST /api/maps/:map_id/messages/cancel.
type cancelResponse struct {
	MapID  string `json:"map_id"`
	Status string `json:"status"`
}
