package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mundiai/agent-runtime/internal/dag"
	"github.com/mundiai/agent-runtime/internal/models"
	"github.com/mundiai/agent-runtime/internal/qgis"
)

const (
	qgisOutputURLTTL = 10 * time.Minute
	qgisInputURLTTL  = 10 * time.Minute
)

// NewQGISAlgorithmTool builds a tool entry dispatching toolName (e.g.
// "native_buffer") to the QGIS worker, per spec.md §4.8. description is the
// algorithm's human description, exposed to the LLM and used for
// output-kind inference; layer-id arguments are presigned as read URLs of
// the layer's object-store file at call time.
func NewQGISAlgorithmTool(toolName, description string) *Tool {
	algorithmID := qgis.AlgorithmID(toolName)
	outputKind, extension := qgis.InferOutputKind(description)

	return &Tool{
		Name:        toolName,
		Description: description,
		Schema:      json.RawMessage(qgisAlgorithmSchema),
		Handler: func(ctx context.Context, rc *RequestContext, raw json.RawMessage) (any, error) {
			var rawArgs map[string]any
			if err := json.Unmarshal(raw, &rawArgs); err != nil {
				return nil, fmt.Errorf("parsing arguments: %w", err)
			}

			resolveLayer := func(ctx context.Context, layerID string) (string, error) {
				layer, err := rc.Store.GetLayer(ctx, layerID)
				if err != nil {
					return "", fmt.Errorf("resolving layer %s: %w", layerID, err)
				}
				return rc.ObjectStore.PresignGet(ctx, layer.ObjectStoreKey, qgisInputURLTTL)
			}

			inputs, inputURLs, err := qgis.MarshalInputs(ctx, rawArgs, resolveLayer)
			if err != nil {
				return nil, err
			}

			outputLayerID, err := dag.NewLayerID()
			if err != nil {
				return nil, err
			}
			outputKey := fmt.Sprintf("qgis-outputs/%s/OUTPUT.%s", outputLayerID, extension)
			outputPutURL, err := rc.ObjectStore.PresignPut(ctx, outputKey, qgisOutputURLTTL)
			if err != nil {
				return nil, fmt.Errorf("presigning output url: %w", err)
			}

			resp, err := rc.QGIS.Run(ctx, qgis.Request{
				AlgorithmID:            algorithmID,
				QGISInputs:             inputs,
				InputURLs:              inputURLs,
				OutputPresignedPutURLs: map[string]string{"OUTPUT": outputPutURL},
			})
			if err != nil {
				return nil, fmt.Errorf("invoking QGIS worker: %w", err)
			}
			if err := qgis.ValidateUploads(resp, []string{"OUTPUT"}); err != nil {
				return map[string]any{"status": "error", "error": err.Error(), "worker_result": resp}, nil
			}

			layer := &models.Layer{
				ID:             outputLayerID,
				OwnerUserID:    rc.UserID,
				Name:           fmt.Sprintf("%s output", toolName),
				Kind:           models.LayerKindVector,
				ObjectStoreKey: outputKey,
				GeometryKind:   outputKind,
				CreatedAt:      time.Now(),
			}
			if outputKind == "raster" {
				layer.Kind = models.LayerKindRaster
			}
			if err := rc.Store.CreateLayer(ctx, layer); err != nil {
				return nil, fmt.Errorf("persisting output layer: %w", err)
			}
			if outputKind != "raster" {
				style, err := defaultStyleFor(outputLayerID, outputKind)
				if err != nil {
					return nil, err
				}
				if err := rc.Store.CreateStyle(ctx, style); err != nil {
					return nil, fmt.Errorf("persisting default style: %w", err)
				}
			}
			if err := rc.Store.AppendLayerToMap(ctx, rc.MapID, outputLayerID); err != nil {
				return nil, fmt.Errorf("attaching output layer to map: %w", err)
			}

			return map[string]any{"status": "ok", "layers": []string{outputLayerID}}, nil
		},
	}
}
