// Package models defines the persisted domain entities of the agent runtime:
// projects, map snapshots (a DAG), layers, styles, conversations, messages,
// and user-supplied PostGIS connections.
package models

import (
	"encoding/json"
	"time"
)

// ForkReason records why a map snapshot was created from a parent.
type ForkReason string

const (
	ForkReasonUserEdit ForkReason = "user_edit"
	ForkReasonAIEdit   ForkReason = "ai_edit"
)

// LayerKind is the storage/rendering shape of a layer's data.
type LayerKind string

const (
	LayerKindVector     LayerKind = "vector"
	LayerKindRaster     LayerKind = "raster"
	LayerKindPostGIS    LayerKind = "postgis"
	LayerKindPointCloud LayerKind = "point_cloud"
)

// MessageRole is one of the four roles in an LLM transcript.
type MessageRole string

const (
	RoleSystem    MessageRole = "system"
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleTool      MessageRole = "tool"
)

// Project is a container owned by a user: an ordered chain of map snapshots,
// a parallel list of human-readable diff summaries, and a set of PostGIS
// connections.
type Project struct {
	ID               string     `json:"id"`
	OwnerUserID      string     `json:"owner_user_id"`
	Title            string     `json:"title"`
	MapIDs           []string   `json:"maps"`
	MapDiffMessages  []string   `json:"map_diff_messages"`
	SoftDeletedAt    *time.Time `json:"soft_deleted_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Map is a node in the parent-linked map DAG. Mutating operations fork a new
// child snapshot rather than mutating in place.
type Map struct {
	ID             string     `json:"id"`
	ProjectID      string     `json:"project_id"`
	Title          string     `json:"title"`
	Description    string     `json:"description"`
	LayerIDs       []string   `json:"layer_ids"`
	ParentMapID    *string    `json:"parent_map_id,omitempty"`
	ForkReason     ForkReason `json:"fork_reason,omitempty"`
	DisplayAsDiff  bool       `json:"display_as_diff"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Layer is a typed data source, potentially shared across multiple maps.
type Layer struct {
	ID              string         `json:"id"`
	OwnerUserID     string         `json:"owner_user_id"`
	Name            string         `json:"name"`
	Kind            LayerKind      `json:"kind"`
	ObjectStoreKey  string         `json:"object_store_key,omitempty"`
	PGConnectionID  string         `json:"pg_connection_id,omitempty"`
	PGQuery         string         `json:"pg_query,omitempty"`
	BoundsWGS84     [4]float64     `json:"bounds_wgs84,omitempty"`
	GeometryKind    string         `json:"geometry_kind,omitempty"`
	FeatureCount    int64          `json:"feature_count"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
}

// RenderLayer is one entry of a Style's symbology list, source-agnostic.
type RenderLayer struct {
	ID          string         `json:"id"`
	Type        string         `json:"type"`
	Source      string         `json:"source"`
	SourceLayer string         `json:"source-layer,omitempty"`
	Paint       map[string]any `json:"paint,omitempty"`
	Layout      map[string]any `json:"layout,omitempty"`
}

// Style is a versioned symbology record for a layer; ParentStyleID chains
// prior versions into a history.
type Style struct {
	ID            string        `json:"id"`
	LayerID       string        `json:"layer_id"`
	ParentStyleID *string       `json:"parent_style_id,omitempty"`
	RenderLayers  []RenderLayer `json:"render_layers"`
	CreatedAt     time.Time     `json:"created_at"`
}

// Conversation is scoped to a project and owned by a user.
type Conversation struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	OwnerUserID string  `json:"owner_user_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
}

// ToolCall is a single structured tool invocation request emitted by the LLM.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Message is one turn of a conversation transcript, scoped to both a
// conversation and the map snapshot active when it was written.
type Message struct {
	ID             int64           `json:"id"`
	ConversationID string          `json:"conversation_id"`
	MapID          string          `json:"map_id"`
	SenderID       string          `json:"sender_id"`
	Role           MessageRole     `json:"role"`
	Content        string          `json:"content,omitempty"`
	ToolCalls      []ToolCall      `json:"tool_calls,omitempty"`
	ToolCallID     string          `json:"tool_call_id,omitempty"`
	ToolResult     json.RawMessage `json:"tool_result,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// PGConnection is a user-supplied PostgreSQL URI scoped to a project.
type PGConnection struct {
	ID                string     `json:"id"`
	ProjectID         string     `json:"project_id"`
	ConnectionName    string     `json:"connection_name"`
	URI               string     `json:"-"` // never serialized to API responses
	LastErrorText     *string    `json:"last_error_text,omitempty"`
	LastErrorTimestamp *time.Time `json:"last_error_timestamp,omitempty"`
	SoftDeletedAt     *time.Time `json:"soft_deleted_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
}

// PGSummary is an AI-generated description of a PG connection's schema.
type PGSummary struct {
	PGConnectionID string    `json:"pg_connection_id"`
	FriendlyName   string    `json:"friendly_name"`
	Overview       string    `json:"overview"`
	TableCount     int       `json:"table_count"`
	CreatedAt      time.Time `json:"created_at"`
}
