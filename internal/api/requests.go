package api

import "github.com/mundiai/agent-runtime/internal/mapstate"

// createMapRequest is the body of POST /api/maps/create.
type createMapRequest struct {
	ProjectID   string `json:"project_id"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// createConversationRequest is the body of POST /api/conversations.
type createConversationRequest struct {
	ProjectID string `json:"project_id" validate:"required"`
}

// setLayerStyleRequest is the body of POST /api/layers/:layer_id/style.
type setLayerStyleRequest struct {
	RenderLayers []renderLayerJSON `json:"render_layers"`
}

type renderLayerJSON struct {
	ID          string         `json:"id"`
	Type        string         `json:"type"`
	Source      string         `json:"source"`
	SourceLayer string         `json:"source-layer,omitempty"`
	Paint       map[string]any `json:"paint,omitempty"`
	Layout      map[string]any `json:"layout,omitempty"`
}

// createPGConnectionRequest is the body of
// POST /api/projects/:project_id/postgis-connections.
type createPGConnectionRequest struct {
	ConnectionName string `json:"connection_name" validate:"required"`
	URI            string `json:"uri" validate:"required"`
}

// sendMessageRequest is the body of
// POST /api/maps/conversations/{conversation_id|NEW}/maps/{map_id}/send.
type sendMessageRequest struct {
	Content         string                    `json:"content"`
	SelectedFeature *mapstate.SelectedFeature `json:"selected_feature,omitempty"`
}
