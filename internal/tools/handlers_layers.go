package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mundiai/agent-runtime/internal/dag"
	"github.com/mundiai/agent-runtime/internal/models"
)

type addLayerToMapArgs struct {
	LayerID string `json:"layer_id"`
}

// addLayerToMap attaches a previously created layer (from the unattached
// enum internal/agent computes each iteration) to the active map.
func addLayerToMap(ctx context.Context, rc *RequestContext, raw json.RawMessage) (any, error) {
	var args addLayerToMapArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("parsing arguments: %w", err)
	}

	layer, err := rc.Store.GetLayer(ctx, args.LayerID)
	if err != nil {
		return nil, fmt.Errorf("layer %q not found: %w", args.LayerID, err)
	}
	if layer.OwnerUserID != rc.UserID {
		return nil, fmt.Errorf("layer %q does not belong to the caller", args.LayerID)
	}
	if err := rc.Store.AppendLayerToMap(ctx, rc.MapID, args.LayerID); err != nil {
		return nil, err
	}

	return map[string]any{"status": "ok", "layer_id": args.LayerID, "map_id": rc.MapID}, nil
}

// NewAddLayerToMapTool constructs the add_layer_to_map tool entry.
func NewAddLayerToMapTool() *Tool {
	return &Tool{
		Name:        "add_layer_to_map",
		Description: "Attach a previously created layer to the current map.",
		Schema:      json.RawMessage(addLayerToMapSchema),
		Handler:     addLayerToMap,
	}
}

type newLayerFromPostGISArgs struct {
	ConnectionID string `json:"connection_id"`
	Query        string `json:"query"`
	LayerName    string `json:"layer_name"`
}

// newLayerFromPostGIS implements spec.md §4.7's seven-step contract: plan
// safety check, column/feature-count/geometry/extent introspection against
// the user's PostGIS connection, then persisting the resulting layer,
// default style, and map attachment against the application database.
func newLayerFromPostGIS(ctx context.Context, rc *RequestContext, raw json.RawMessage) (any, error) {
	var args newLayerFromPostGISArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("parsing arguments: %w", err)
	}

	conn, err := rc.Store.GetPGConnection(ctx, args.ConnectionID)
	if err != nil {
		return nil, fmt.Errorf("connection %q not found: %w", args.ConnectionID, err)
	}

	pool, err := rc.UserPools.GetOrCreate(ctx, conn.URI, conn.ID, rc.Store)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", conn.ConnectionName, err)
	}
	userConn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquiring connection: %w", err)
	}
	defer userConn.Release()

	if err := rejectMutatingPlan(ctx, userConn, args.Query); err != nil {
		return nil, err
	}

	var hasID, hasGeom bool
	probeRows, err := userConn.Query(ctx, fmt.Sprintf("SELECT * FROM (%s) AS sub LIMIT 1", args.Query))
	if err != nil {
		return nil, fmt.Errorf("probing query columns: %w", err)
	}
	for _, fd := range probeRows.FieldDescriptions() {
		switch fd.Name {
		case "id":
			hasID = true
		case "geom":
			hasGeom = true
		}
	}
	probeRows.Close()
	if !hasID || !hasGeom {
		return nil, fmt.Errorf("query must project both an id and a geom column")
	}

	var featureCount int64
	if err := userConn.QueryRow(ctx, fmt.Sprintf("SELECT COUNT(*) FROM (%s) AS sub", args.Query)).Scan(&featureCount); err != nil {
		return nil, fmt.Errorf("counting features: %w", err)
	}

	var geometryKind string
	if err := userConn.QueryRow(ctx, fmt.Sprintf(
		"SELECT ST_GeometryType(geom) FROM (%s) AS sub WHERE geom IS NOT NULL LIMIT 1", args.Query)).Scan(&geometryKind); err != nil {
		return nil, fmt.Errorf("detecting geometry kind: %w", err)
	}

	var bounds [4]float64
	if err := userConn.QueryRow(ctx, fmt.Sprintf(
		`SELECT ST_XMin(e), ST_YMin(e), ST_XMax(e), ST_YMax(e)
		 FROM (SELECT ST_Transform(ST_SetSRID(ST_Extent(geom), ST_SRID((SELECT geom FROM (%s) AS inner_sub WHERE geom IS NOT NULL LIMIT 1))), 4326) AS e FROM (%s) AS sub) AS bx`,
		args.Query, args.Query)).Scan(&bounds[0], &bounds[1], &bounds[2], &bounds[3]); err != nil {
		return nil, fmt.Errorf("computing wgs84 extent: %w", err)
	}

	layerID, err := dag.NewLayerID()
	if err != nil {
		return nil, err
	}
	layer := &models.Layer{
		ID:             layerID,
		OwnerUserID:    rc.UserID,
		Name:           args.LayerName,
		Kind:           models.LayerKindPostGIS,
		PGConnectionID: args.ConnectionID,
		PGQuery:        args.Query,
		BoundsWGS84:    bounds,
		GeometryKind:   geometryKind,
		FeatureCount:   featureCount,
		CreatedAt:      time.Now(),
	}
	if err := rc.Store.CreateLayer(ctx, layer); err != nil {
		return nil, fmt.Errorf("persisting layer: %w", err)
	}

	style, err := defaultStyleFor(layerID, geometryKind)
	if err != nil {
		return nil, err
	}
	if err := rc.Store.CreateStyle(ctx, style); err != nil {
		return nil, fmt.Errorf("persisting default style: %w", err)
	}
	if err := rc.Store.AppendLayerToMap(ctx, rc.MapID, layerID); err != nil {
		return nil, fmt.Errorf("attaching layer to map: %w", err)
	}

	return map[string]any{
		"status":        "ok",
		"layer_id":      layerID,
		"feature_count": featureCount,
		"geometry_kind": geometryKind,
		"bounds_wgs84":  bounds,
	}, nil
}

// rejectMutatingPlan runs EXPLAIN (FORMAT JSON) against query and
// recursively walks the returned plan tree, rejecting any node kind of
// ModifyTable — the read-only-ness check spec.md §4.7 requires before
// executing a caller-supplied query against a user's database.
func rejectMutatingPlan(ctx context.Context, conn *pgxpool.Conn, query string) error {
	var planDoc []map[string]any
	if err := conn.QueryRow(ctx, fmt.Sprintf("EXPLAIN (FORMAT JSON) %s", query)).Scan(&planDoc); err != nil {
		return fmt.Errorf("explaining query: %w", err)
	}
	for _, entry := range planDoc {
		plan, _ := entry["Plan"].(map[string]any)
		if plan == nil {
			continue
		}
		if planContainsModify(plan) {
			return fmt.Errorf("query plan contains a write operation, which is not permitted")
		}
	}
	return nil
}

func planContainsModify(plan map[string]any) bool {
	if kind, _ := plan["Node Type"].(string); kind == "ModifyTable" {
		return true
	}
	children, _ := plan["Plans"].([]any)
	for _, c := range children {
		childPlan, ok := c.(map[string]any)
		if ok && planContainsModify(childPlan) {
			return true
		}
	}
	return false
}

// NewNewLayerFromPostGISTool constructs the new_layer_from_postgis tool entry.
func NewNewLayerFromPostGISTool() *Tool {
	return &Tool{
		Name:        "new_layer_from_postgis",
		Description: "Create a PostGIS-backed layer from a read-only SELECT query projecting id and geom.",
		Schema:      json.RawMessage(newLayerFromPostGISSchema),
		Handler:     newLayerFromPostGIS,
	}
}

// defaultColorPalette is the fixed 20-color palette default styles draw
// from, keyed by layer id so the same layer always gets the same color.
var defaultColorPalette = []string{
	"#e6194b", "#3cb44b", "#ffe119", "#4363d8", "#f58231",
	"#911eb4", "#46f0f0", "#f032e6", "#bcf60c", "#fabebe",
	"#008080", "#e6beff", "#9a6324", "#fffac8", "#800000",
	"#aaffc3", "#808000", "#ffd8b1", "#000075", "#808080",
}

func colorForLayer(layerID string) string {
	var sum int
	for _, c := range layerID {
		sum += int(c)
	}
	return defaultColorPalette[sum%len(defaultColorPalette)]
}

// defaultStyleFor generates a deterministic, geometry-kind-conditioned
// default style for a newly created layer, per spec.md §4.7 step 6.
func defaultStyleFor(layerID, geometryKind string) (*models.Style, error) {
	styleID, err := dag.NewStyleID()
	if err != nil {
		return nil, err
	}
	color := colorForLayer(layerID)

	kind := strings.ToUpper(geometryKind)
	var renderLayer models.RenderLayer
	switch {
	case strings.Contains(kind, "POINT"):
		renderLayer = models.RenderLayer{
			ID: layerID, Type: "circle", Source: layerID, SourceLayer: "reprojectedfgb",
			Paint: map[string]any{"circle-color": color, "circle-radius": 4},
		}
	case strings.Contains(kind, "LINE"):
		renderLayer = models.RenderLayer{
			ID: layerID, Type: "line", Source: layerID, SourceLayer: "reprojectedfgb",
			Paint: map[string]any{"line-color": color, "line-width": 2},
		}
	default:
		renderLayer = models.RenderLayer{
			ID: layerID, Type: "fill", Source: layerID, SourceLayer: "reprojectedfgb",
			Paint: map[string]any{"fill-color": color, "fill-opacity": 0.6},
		}
	}

	return &models.Style{
		ID:           styleID,
		LayerID:      layerID,
		RenderLayers: []models.RenderLayer{renderLayer},
		CreatedAt:    time.Now(),
	}, nil
}
