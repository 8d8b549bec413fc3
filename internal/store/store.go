// Package store is the application database's persistence layer: hand-
// written pgx queries standing in for the teacher's entgo.io/ent generated
// client (ent code generation cannot run without invoking the Go
// toolchain — see DESIGN.md). Query shapes follow the teacher's
// pkg/services repository methods; the schema is internal/store/migrations.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/mundiai/agent-runtime/internal/dbgw"
	"github.com/mundiai/agent-runtime/internal/models"
)

// ErrNotFound is returned by single-row lookups that match no row.
var ErrNotFound = errors.New("store: not found")

// Store is the application database's query surface. It implements
// pgconn.ErrorRecorder so the PG Connection Manager can persist
// last_error_text / last_error_timestamp without a dependency cycle.
type Store struct {
	gw *dbgw.Gateway
}

// New constructs a Store over an already-migrated gateway.
func New(gw *dbgw.Gateway) *Store {
	return &Store{gw: gw}
}

// Ping checks application database connectivity for the health endpoint.
func (s *Store) Ping(ctx context.Context) error {
	return s.gw.Pool().Ping(ctx)
}

// --- Projects ---

func (s *Store) CreateProject(ctx context.Context, p *models.Project) error {
	_, err := s.gw.Pool().Exec(ctx, `
		INSERT INTO projects (id, owner_user_id, title, map_ids, map_diff_messages, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)`,
		p.ID, p.OwnerUserID, p.Title, p.MapIDs, p.MapDiffMessages, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("store: create project: %w", err)
	}
	return nil
}

func (s *Store) GetProject(ctx context.Context, id string) (*models.Project, error) {
	row := s.gw.Pool().QueryRow(ctx, `
		SELECT id, owner_user_id, title, map_ids, map_diff_messages, soft_deleted_at, created_at, updated_at
		FROM projects WHERE id = $1`, id)
	var p models.Project
	if err := row.Scan(&p.ID, &p.OwnerUserID, &p.Title, &p.MapIDs, &p.MapDiffMessages, &p.SoftDeletedAt, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, wrapNotFound(err, "project")
	}
	return &p, nil
}

func (s *Store) ListProjects(ctx context.Context, ownerUserID string) ([]*models.Project, error) {
	rows, err := s.gw.Pool().Query(ctx, `
		SELECT id, owner_user_id, title, map_ids, map_diff_messages, soft_deleted_at, created_at, updated_at
		FROM projects WHERE owner_user_id = $1 AND soft_deleted_at IS NULL
		ORDER BY created_at DESC`, ownerUserID)
	if err != nil {
		return nil, fmt.Errorf("store: list projects: %w", err)
	}
	defer rows.Close()

	var out []*models.Project
	for rows.Next() {
		var p models.Project
		if err := rows.Scan(&p.ID, &p.OwnerUserID, &p.Title, &p.MapIDs, &p.MapDiffMessages, &p.SoftDeletedAt, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("store: scanning project row: %w", err)
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

// AppendMapToProject records a newly forked map as the project's current
// head, alongside the human-readable diff summary describing the fork.
func (s *Store) AppendMapToProject(ctx context.Context, projectID, mapID, diffMessage string) error {
	_, err := s.gw.Pool().Exec(ctx, `
		UPDATE projects
		SET map_ids = array_append(map_ids, $2),
		    map_diff_messages = array_append(map_diff_messages, $3),
		    updated_at = now()
		WHERE id = $1`, projectID, mapID, diffMessage)
	if err != nil {
		return fmt.Errorf("store: append map to project: %w", err)
	}
	return nil
}

func (s *Store) SoftDeleteProject(ctx context.Context, id string) error {
	_, err := s.gw.Pool().Exec(ctx, `UPDATE projects SET soft_deleted_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("store: soft-delete project: %w", err)
	}
	return nil
}

// --- Maps ---

func (s *Store) CreateMap(ctx context.Context, m *models.Map) error {
	_, err := s.gw.Pool().Exec(ctx, `
		INSERT INTO maps (id, project_id, title, description, layer_ids, parent_map_id, fork_reason, display_as_diff, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		m.ID, m.ProjectID, m.Title, m.Description, m.LayerIDs, m.ParentMapID, string(m.ForkReason), m.DisplayAsDiff, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("store: create map: %w", err)
	}
	return nil
}

func (s *Store) GetMap(ctx context.Context, id string) (*models.Map, error) {
	row := s.gw.Pool().QueryRow(ctx, `
		SELECT id, project_id, title, description, layer_ids, parent_map_id, fork_reason, display_as_diff, created_at
		FROM maps WHERE id = $1`, id)
	var m models.Map
	var forkReason string
	if err := row.Scan(&m.ID, &m.ProjectID, &m.Title, &m.Description, &m.LayerIDs, &m.ParentMapID, &forkReason, &m.DisplayAsDiff, &m.CreatedAt); err != nil {
		return nil, wrapNotFound(err, "map")
	}
	m.ForkReason = models.ForkReason(forkReason)
	return &m, nil
}

// AppendLayerToMap attaches layerID to mapID's layer_ids if not already
// present (null-safe and idempotent per spec.md §4.7 step 7).
func (s *Store) AppendLayerToMap(ctx context.Context, mapID, layerID string) error {
	_, err := s.gw.Pool().Exec(ctx, `
		UPDATE maps
		SET layer_ids = CASE WHEN $2 = ANY(COALESCE(layer_ids, '{}')) THEN layer_ids ELSE array_append(COALESCE(layer_ids, '{}'), $2) END
		WHERE id = $1`, mapID, layerID)
	if err != nil {
		return fmt.Errorf("store: append layer to map: %w", err)
	}
	return nil
}

// UnattachedLayers returns up to limit layers owned by ownerUserID that are
// not already referenced by mapID's layer_ids, most recent first — the
// candidate set for the add_layer_to_map tool's bounded enum (spec.md §4.6).
func (s *Store) UnattachedLayers(ctx context.Context, ownerUserID, mapID string, limit int) ([]*models.Layer, error) {
	rows, err := s.gw.Pool().Query(ctx, `
		SELECT l.id, l.owner_user_id, l.name, l.kind, l.object_store_key, COALESCE(l.pg_connection_id, ''), l.pg_query, l.bounds_wgs84, l.geometry_kind, l.feature_count, l.metadata, l.created_at
		FROM layers l
		WHERE l.owner_user_id = $1
		  AND NOT (l.id = ANY(COALESCE((SELECT layer_ids FROM maps WHERE id = $2), '{}')))
		ORDER BY l.created_at DESC
		LIMIT $3`, ownerUserID, mapID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list unattached layers: %w", err)
	}
	defer rows.Close()

	var out []*models.Layer
	for rows.Next() {
		var l models.Layer
		var kind string
		var bounds []float64
		var metadata []byte
		if err := rows.Scan(&l.ID, &l.OwnerUserID, &l.Name, &kind, &l.ObjectStoreKey, &l.PGConnectionID, &l.PGQuery, &bounds, &l.GeometryKind, &l.FeatureCount, &metadata, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scanning unattached layer row: %w", err)
		}
		l.Kind = models.LayerKind(kind)
		if len(bounds) == 4 {
			l.BoundsWGS84 = [4]float64{bounds[0], bounds[1], bounds[2], bounds[3]}
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &l.Metadata); err != nil {
				return nil, fmt.Errorf("store: unmarshal layer metadata: %w", err)
			}
		}
		out = append(out, &l)
	}
	return out, rows.Err()
}

// ParentOf satisfies dag.HasCycle's lookup callback by resolving a map's
// parent id directly from the maps table.
func (s *Store) ParentOf(ctx context.Context, mapID string) (string, bool) {
	row := s.gw.Pool().QueryRow(ctx, `SELECT parent_map_id FROM maps WHERE id = $1`, mapID)
	var parent *string
	if err := row.Scan(&parent); err != nil || parent == nil {
		return "", false
	}
	return *parent, true
}

// --- Layers ---

func (s *Store) CreateLayer(ctx context.Context, l *models.Layer) error {
	metadata, err := json.Marshal(l.Metadata)
	if err != nil {
		return fmt.Errorf("store: marshal layer metadata: %w", err)
	}
	var bounds []float64
	if l.BoundsWGS84 != [4]float64{} {
		bounds = l.BoundsWGS84[:]
	}
	_, err = s.gw.Pool().Exec(ctx, `
		INSERT INTO layers (id, owner_user_id, name, kind, object_store_key, pg_connection_id, pg_query, bounds_wgs84, geometry_kind, feature_count, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8, $9, $10, $11, $12)`,
		l.ID, l.OwnerUserID, l.Name, string(l.Kind), l.ObjectStoreKey, l.PGConnectionID, l.PGQuery, bounds, l.GeometryKind, l.FeatureCount, metadata, l.CreatedAt)
	if err != nil {
		return fmt.Errorf("store: create layer: %w", err)
	}
	return nil
}

func (s *Store) GetLayer(ctx context.Context, id string) (*models.Layer, error) {
	row := s.gw.Pool().QueryRow(ctx, `
		SELECT id, owner_user_id, name, kind, object_store_key, COALESCE(pg_connection_id, ''), pg_query, bounds_wgs84, geometry_kind, feature_count, metadata, created_at
		FROM layers WHERE id = $1`, id)
	var l models.Layer
	var kind string
	var bounds []float64
	var metadata []byte
	if err := row.Scan(&l.ID, &l.OwnerUserID, &l.Name, &kind, &l.ObjectStoreKey, &l.PGConnectionID, &l.PGQuery, &bounds, &l.GeometryKind, &l.FeatureCount, &metadata, &l.CreatedAt); err != nil {
		return nil, wrapNotFound(err, "layer")
	}
	l.Kind = models.LayerKind(kind)
	if len(bounds) == 4 {
		l.BoundsWGS84 = [4]float64{bounds[0], bounds[1], bounds[2], bounds[3]}
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &l.Metadata); err != nil {
			return nil, fmt.Errorf("store: unmarshal layer metadata: %w", err)
		}
	}
	return &l, nil
}

// ListLayers resolves a set of layer ids (a map's layer_ids) in one round trip.
func (s *Store) ListLayers(ctx context.Context, ids []string) ([]*models.Layer, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.gw.Pool().Query(ctx, `
		SELECT id, owner_user_id, name, kind, object_store_key, COALESCE(pg_connection_id, ''), pg_query, bounds_wgs84, geometry_kind, feature_count, metadata, created_at
		FROM layers WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("store: list layers: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]*models.Layer, len(ids))
	for rows.Next() {
		var l models.Layer
		var kind string
		var bounds []float64
		var metadata []byte
		if err := rows.Scan(&l.ID, &l.OwnerUserID, &l.Name, &kind, &l.ObjectStoreKey, &l.PGConnectionID, &l.PGQuery, &bounds, &l.GeometryKind, &l.FeatureCount, &metadata, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scanning layer row: %w", err)
		}
		l.Kind = models.LayerKind(kind)
		if len(bounds) == 4 {
			l.BoundsWGS84 = [4]float64{bounds[0], bounds[1], bounds[2], bounds[3]}
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &l.Metadata); err != nil {
				return nil, fmt.Errorf("store: unmarshal layer metadata: %w", err)
			}
		}
		byID[l.ID] = &l
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Preserve the DAG's layer order rather than whatever order Postgres returned.
	out := make([]*models.Layer, 0, len(ids))
	for _, id := range ids {
		if l, ok := byID[id]; ok {
			out = append(out, l)
		}
	}
	return out, nil
}

// --- Styles ---

func (s *Store) CreateStyle(ctx context.Context, st *models.Style) error {
	renderLayers, err := json.Marshal(st.RenderLayers)
	if err != nil {
		return fmt.Errorf("store: marshal render layers: %w", err)
	}
	_, err = s.gw.Pool().Exec(ctx, `
		INSERT INTO styles (id, layer_id, parent_style_id, render_layers, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		st.ID, st.LayerID, st.ParentStyleID, renderLayers, st.CreatedAt)
	if err != nil {
		return fmt.Errorf("store: create style: %w", err)
	}
	return nil
}

// LatestStyle returns the most recently created style for layerID, per
// spec.md's "style.json reflects the layer's current style" contract.
func (s *Store) LatestStyle(ctx context.Context, layerID string) (*models.Style, error) {
	row := s.gw.Pool().QueryRow(ctx, `
		SELECT id, layer_id, parent_style_id, render_layers, created_at
		FROM styles WHERE layer_id = $1 ORDER BY created_at DESC LIMIT 1`, layerID)
	var st models.Style
	var renderLayers []byte
	if err := row.Scan(&st.ID, &st.LayerID, &st.ParentStyleID, &renderLayers, &st.CreatedAt); err != nil {
		return nil, wrapNotFound(err, "style")
	}
	if err := json.Unmarshal(renderLayers, &st.RenderLayers); err != nil {
		return nil, fmt.Errorf("store: unmarshal render layers: %w", err)
	}
	return &st, nil
}

// --- Conversations ---

func (s *Store) CreateConversation(ctx context.Context, c *models.Conversation) error {
	_, err := s.gw.Pool().Exec(ctx, `
		INSERT INTO conversations (id, project_id, owner_user_id, title, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		c.ID, c.ProjectID, c.OwnerUserID, c.Title, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("store: create conversation: %w", err)
	}
	return nil
}

func (s *Store) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	row := s.gw.Pool().QueryRow(ctx, `
		SELECT id, project_id, owner_user_id, title, created_at
		FROM conversations WHERE id = $1`, id)
	var c models.Conversation
	if err := row.Scan(&c.ID, &c.ProjectID, &c.OwnerUserID, &c.Title, &c.CreatedAt); err != nil {
		return nil, wrapNotFound(err, "conversation")
	}
	return &c, nil
}

func (s *Store) ListConversations(ctx context.Context, projectID string) ([]*models.Conversation, error) {
	rows, err := s.gw.Pool().Query(ctx, `
		SELECT id, project_id, owner_user_id, title, created_at
		FROM conversations WHERE project_id = $1 ORDER BY created_at DESC`, projectID)
	if err != nil {
		return nil, fmt.Errorf("store: list conversations: %w", err)
	}
	defer rows.Close()

	var out []*models.Conversation
	for rows.Next() {
		var c models.Conversation
		if err := rows.Scan(&c.ID, &c.ProjectID, &c.OwnerUserID, &c.Title, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scanning conversation row: %w", err)
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

// --- Messages ---

// InsertMessage persists a transcript row. The AFTER INSERT trigger on
// chat_completion_messages fires the reference notification as part of
// this same statement's commit — no separate notify call is needed here.
func (s *Store) InsertMessage(ctx context.Context, m *models.Message) (int64, error) {
	toolCalls, err := json.Marshal(m.ToolCalls)
	if err != nil {
		return 0, fmt.Errorf("store: marshal tool calls: %w", err)
	}
	var toolResult any = nil
	if len(m.ToolResult) > 0 {
		toolResult = m.ToolResult
	}
	row := s.gw.Pool().QueryRow(ctx, `
		INSERT INTO chat_completion_messages (conversation_id, map_id, sender_id, role, content, tool_calls, tool_call_id, tool_result, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`,
		m.ConversationID, m.MapID, m.SenderID, string(m.Role), m.Content, toolCalls, m.ToolCallID, toolResult, m.CreatedAt)
	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, fmt.Errorf("store: insert message: %w", err)
	}
	return id, nil
}

// ListMessages returns a conversation's full transcript in chronological
// order, used both to render history and to seed the agentic loop.
func (s *Store) ListMessages(ctx context.Context, conversationID string) ([]*models.Message, error) {
	rows, err := s.gw.Pool().Query(ctx, `
		SELECT id, conversation_id, map_id, sender_id, role, content, tool_calls, tool_call_id, tool_result, created_at
		FROM chat_completion_messages WHERE conversation_id = $1 ORDER BY id ASC`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("store: list messages: %w", err)
	}
	defer rows.Close()

	var out []*models.Message
	for rows.Next() {
		var m models.Message
		var role string
		var toolCalls []byte
		var toolResult []byte
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.MapID, &m.SenderID, &role, &m.Content, &toolCalls, &m.ToolCallID, &toolResult, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scanning message row: %w", err)
		}
		m.Role = models.MessageRole(role)
		if len(toolCalls) > 0 {
			if err := json.Unmarshal(toolCalls, &m.ToolCalls); err != nil {
				return nil, fmt.Errorf("store: unmarshal tool calls: %w", err)
			}
		}
		m.ToolResult = toolResult
		out = append(out, &m)
	}
	return out, rows.Err()
}

// GetMessage resolves a single message row by id, used by WS subscribers to
// turn a reference-notification payload ({id, conversation_id, map_id})
// into the sanitized message the client actually renders.
func (s *Store) GetMessage(ctx context.Context, id int64) (*models.Message, error) {
	row := s.gw.Pool().QueryRow(ctx, `
		SELECT id, conversation_id, map_id, sender_id, role, content, tool_calls, tool_call_id, tool_result, created_at
		FROM chat_completion_messages WHERE id = $1`, id)

	var m models.Message
	var role string
	var toolCalls []byte
	var toolResult []byte
	if err := row.Scan(&m.ID, &m.ConversationID, &m.MapID, &m.SenderID, &role, &m.Content, &toolCalls, &m.ToolCallID, &toolResult, &m.CreatedAt); err != nil {
		return nil, wrapNotFound(err, "message")
	}
	m.Role = models.MessageRole(role)
	if len(toolCalls) > 0 {
		if err := json.Unmarshal(toolCalls, &m.ToolCalls); err != nil {
			return nil, fmt.Errorf("store: unmarshal tool calls: %w", err)
		}
	}
	m.ToolResult = toolResult
	return &m, nil
}

// --- PG connections ---

func (s *Store) CreatePGConnection(ctx context.Context, c *models.PGConnection) error {
	_, err := s.gw.Pool().Exec(ctx, `
		INSERT INTO pg_connections (id, project_id, connection_name, uri, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		c.ID, c.ProjectID, c.ConnectionName, c.URI, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("store: create pg connection: %w", err)
	}
	return nil
}

func (s *Store) GetPGConnection(ctx context.Context, id string) (*models.PGConnection, error) {
	row := s.gw.Pool().QueryRow(ctx, `
		SELECT id, project_id, connection_name, uri, last_error_text, last_error_timestamp, soft_deleted_at, created_at
		FROM pg_connections WHERE id = $1`, id)
	var c models.PGConnection
	if err := row.Scan(&c.ID, &c.ProjectID, &c.ConnectionName, &c.URI, &c.LastErrorText, &c.LastErrorTimestamp, &c.SoftDeletedAt, &c.CreatedAt); err != nil {
		return nil, wrapNotFound(err, "pg connection")
	}
	return &c, nil
}

func (s *Store) ListPGConnections(ctx context.Context, projectID string) ([]*models.PGConnection, error) {
	rows, err := s.gw.Pool().Query(ctx, `
		SELECT id, project_id, connection_name, uri, last_error_text, last_error_timestamp, soft_deleted_at, created_at
		FROM pg_connections WHERE project_id = $1 AND soft_deleted_at IS NULL
		ORDER BY created_at ASC`, projectID)
	if err != nil {
		return nil, fmt.Errorf("store: list pg connections: %w", err)
	}
	defer rows.Close()

	var out []*models.PGConnection
	for rows.Next() {
		var c models.PGConnection
		if err := rows.Scan(&c.ID, &c.ProjectID, &c.ConnectionName, &c.URI, &c.LastErrorText, &c.LastErrorTimestamp, &c.SoftDeletedAt, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scanning pg connection row: %w", err)
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

// ClearError implements pgconn.ErrorRecorder.
func (s *Store) ClearError(ctx context.Context, connectionID string) error {
	_, err := s.gw.Pool().Exec(ctx, `
		UPDATE pg_connections SET last_error_text = NULL, last_error_timestamp = NULL WHERE id = $1`, connectionID)
	if err != nil {
		return fmt.Errorf("store: clear pg connection error: %w", err)
	}
	return nil
}

// SetError implements pgconn.ErrorRecorder.
func (s *Store) SetError(ctx context.Context, connectionID string, message string, at time.Time) error {
	_, err := s.gw.Pool().Exec(ctx, `
		UPDATE pg_connections SET last_error_text = $2, last_error_timestamp = $3 WHERE id = $1`, connectionID, message, at)
	if err != nil {
		return fmt.Errorf("store: set pg connection error: %w", err)
	}
	return nil
}

// --- PG summaries ---

func (s *Store) UpsertPGSummary(ctx context.Context, sum *models.PGSummary) error {
	_, err := s.gw.Pool().Exec(ctx, `
		INSERT INTO pg_summaries (pg_connection_id, friendly_name, overview, table_count, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (pg_connection_id) DO UPDATE
		SET friendly_name = EXCLUDED.friendly_name, overview = EXCLUDED.overview,
		    table_count = EXCLUDED.table_count, created_at = EXCLUDED.created_at`,
		sum.PGConnectionID, sum.FriendlyName, sum.Overview, sum.TableCount, sum.CreatedAt)
	if err != nil {
		return fmt.Errorf("store: upsert pg summary: %w", err)
	}
	return nil
}

func (s *Store) GetPGSummary(ctx context.Context, connectionID string) (*models.PGSummary, error) {
	row := s.gw.Pool().QueryRow(ctx, `
		SELECT pg_connection_id, friendly_name, overview, table_count, created_at
		FROM pg_summaries WHERE pg_connection_id = $1`, connectionID)
	var sum models.PGSummary
	if err := row.Scan(&sum.PGConnectionID, &sum.FriendlyName, &sum.Overview, &sum.TableCount, &sum.CreatedAt); err != nil {
		return nil, wrapNotFound(err, "pg summary")
	}
	return &sum, nil
}

func wrapNotFound(err error, what string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("store: %s: %w", what, ErrNotFound)
	}
	return fmt.Errorf("store: querying %s: %w", what, err)
}
