package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mundiai/agent-runtime/internal/dag"
	"github.com/mundiai/agent-runtime/internal/models"
)

type setLayerStyleArgs struct {
	LayerID      string               `json:"layer_id"`
	RenderLayers []models.RenderLayer `json:"render_layers"`
}

var knownRenderLayerTypes = map[string]bool{
	"fill": true, "line": true, "circle": true, "symbol": true,
	"fill-extrusion": true, "heatmap": true, "raster": true,
}

// validateRenderLayers enforces spec.md §4.7's set_layer_style contract: a
// structural stand-in for the external style-validator subprocess named in
// the distillation (no such binary exists in the example corpus to ground
// against), stamping each entry's source-layer convention and rejecting any
// entry whose source isn't the target layer.
func validateRenderLayers(layerID string, renderLayers []models.RenderLayer) error {
	if len(renderLayers) == 0 {
		return fmt.Errorf("render_layers must contain at least one entry")
	}
	for i, rl := range renderLayers {
		if rl.Source != layerID {
			return fmt.Errorf("render_layers[%d].source %q must equal the target layer id %q", i, rl.Source, layerID)
		}
		if !knownRenderLayerTypes[rl.Type] {
			return fmt.Errorf("render_layers[%d].type %q is not a recognized style layer type", i, rl.Type)
		}
		renderLayers[i].SourceLayer = "reprojectedfgb"
	}
	return nil
}

// setLayerStyle persists a new style version for a layer, chaining it onto
// the layer's prior style (if any) via ParentStyleID.
func setLayerStyle(ctx context.Context, rc *RequestContext, raw json.RawMessage) (any, error) {
	var args setLayerStyleArgs
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

	if err := validateRenderLayers(args.LayerID, args.RenderLayers); err != nil {
		return nil, err
	}

	var parentStyleID *string
	if prior, err := rc.Store.LatestStyle(ctx, args.LayerID); err == nil {
		parentStyleID = &prior.ID
	}

	styleID, err := dag.NewStyleID()
	if err != nil {
		return nil, err
	}
	style := &models.Style{
		ID:            styleID,
		LayerID:       args.LayerID,
		ParentStyleID: parentStyleID,
		RenderLayers:  args.RenderLayers,
		CreatedAt:     time.Now(),
	}
	if err := rc.Store.CreateStyle(ctx, style); err != nil {
		return nil, fmt.Errorf("persisting style: %w", err)
	}

	return map[string]any{"status": "ok", "layer_id": args.LayerID, "style_id": styleID}, nil
}

// NewSetLayerStyleTool constructs the set_layer_style tool entry.
func NewSetLayerStyleTool() *Tool {
	return &Tool{
		Name:        "set_layer_style",
		Description: "Replace the active style for a layer on the current map.",
		Schema:      json.RawMessage(setLayerStyleSchema),
		Handler:     setLayerStyle,
	}
}
