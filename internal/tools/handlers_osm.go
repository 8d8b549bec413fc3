package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mundiai/agent-runtime/internal/dag"
	"github.com/mundiai/agent-runtime/internal/models"
)

type downloadFromOpenStreetMapArgs struct {
	Tags      []string   `json:"tags"`
	BBox      [4]float64 `json:"bbox"`
	LayerName string     `json:"layer_name"`
}

// OSMIngester fetches tagged OSM features within bbox and returns one
// object-store key per non-empty geometry kind (points/lines/polygons).
// The concrete implementation calls the Bunting Labs OSM extraction API;
// injected as an interface so the tool can be registered without a live
// network dependency in tests.
type OSMIngester interface {
	Ingest(ctx context.Context, apiKey string, tags []string, bbox [4]float64) (map[string]osmIngestResult, error)
}

type osmIngestResult struct {
	ObjectStoreKey string
	FeatureCount   int64
	BoundsWGS84    [4]float64
}

var osmGeometryKinds = []string{"points", "lines", "polygons"}

// downloadFromOpenStreetMap ingests OSM features by tag into up to three
// new layers (one per geometry kind present in the result), per spec.md §4.5.
func downloadFromOpenStreetMap(ctx context.Context, rc *RequestContext, raw json.RawMessage, ingester OSMIngester, apiKey string) (any, error) {
	var args downloadFromOpenStreetMapArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("parsing arguments: %w", err)
	}
	if args.BBox[0] >= args.BBox[2] || args.BBox[1] >= args.BBox[3] {
		return nil, fmt.Errorf("bbox must be [west, south, east, north] with west<east and south<north")
	}

	results, err := ingester.Ingest(ctx, apiKey, args.Tags, args.BBox)
	if err != nil {
		return nil, fmt.Errorf("ingesting from OpenStreetMap: %w", err)
	}

	createdLayerIDs := make([]string, 0, len(osmGeometryKinds))
	for _, kind := range osmGeometryKinds {
		r, ok := results[kind]
		if !ok || r.FeatureCount == 0 {
			continue
		}

		layerID, err := dag.NewLayerID()
		if err != nil {
			return nil, err
		}
		name := args.LayerName
		if name == "" {
			name = fmt.Sprintf("OSM %s", kind)
		} else {
			name = fmt.Sprintf("%s (%s)", name, kind)
		}

		layer := &models.Layer{
			ID:             layerID,
			OwnerUserID:    rc.UserID,
			Name:           name,
			Kind:           models.LayerKindVector,
			ObjectStoreKey: r.ObjectStoreKey,
			BoundsWGS84:    r.BoundsWGS84,
			GeometryKind:   kind,
			FeatureCount:   r.FeatureCount,
			CreatedAt:      time.Now(),
		}
		if err := rc.Store.CreateLayer(ctx, layer); err != nil {
			return nil, fmt.Errorf("persisting %s layer: %w", kind, err)
		}
		style, err := defaultStyleFor(layerID, kind)
		if err != nil {
			return nil, err
		}
		if err := rc.Store.CreateStyle(ctx, style); err != nil {
			return nil, fmt.Errorf("persisting default style: %w", err)
		}
		if err := rc.Store.AppendLayerToMap(ctx, rc.MapID, layerID); err != nil {
			return nil, fmt.Errorf("attaching layer to map: %w", err)
		}
		createdLayerIDs = append(createdLayerIDs, layerID)
	}

	if len(createdLayerIDs) == 0 {
		return nil, fmt.Errorf("no OpenStreetMap features matched the given tags within the bounding box")
	}
	return map[string]any{"status": "ok", "layer_ids": createdLayerIDs}, nil
}

// NewDownloadFromOpenStreetMapTool constructs the download_from_openstreetmap
// tool entry. Only register this when config.OSMEnabled() is true, per
// spec.md §4.5.
func NewDownloadFromOpenStreetMapTool(apiKey string) *Tool {
	ingester := buntingLabsIngester{httpClient: &http.Client{Timeout: 60 * time.Second}}
	return &Tool{
		Name:        "download_from_openstreetmap",
		Description: "Ingest OpenStreetMap features matching tags within a bounding box into new layers.",
		Schema:      json.RawMessage(downloadFromOpenStreetMapSchema),
		Handler: func(ctx context.Context, rc *RequestContext, raw json.RawMessage) (any, error) {
			return downloadFromOpenStreetMap(ctx, rc, raw, ingester, apiKey)
		},
	}
}

// buntingLabsIngester is the production OSMIngester, calling Bunting Labs'
// hosted OSM extraction API.
type buntingLabsIngester struct {
	httpClient *http.Client
}

type buntingLabsRequest struct {
	Tags []string   `json:"tags"`
	BBox [4]float64 `json:"bbox"`
}

type buntingLabsGeometryResult struct {
	ObjectStoreKey string     `json:"object_store_key"`
	FeatureCount   int64      `json:"feature_count"`
	BoundsWGS84    [4]float64 `json:"bounds_wgs84"`
}

type buntingLabsResponse struct {
	Points   *buntingLabsGeometryResult `json:"points"`
	Lines    *buntingLabsGeometryResult `json:"lines"`
	Polygons *buntingLabsGeometryResult `json:"polygons"`
}

const buntingLabsEndpoint = "https://api.buntinglabs.com/v1/osm/extract"

func (b buntingLabsIngester) Ingest(ctx context.Context, apiKey string, tags []string, bbox [4]float64) (map[string]osmIngestResult, error) {
	body, err := json.Marshal(buntingLabsRequest{Tags: tags, BBox: bbox})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, buntingLabsEndpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling OSM extraction API: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("OSM extraction API returned %d: %s", resp.StatusCode, string(data))
	}

	var parsed buntingLabsResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}

	out := make(map[string]osmIngestResult, 3)
	if parsed.Points != nil {
		out["points"] = osmIngestResult(*parsed.Points)
	}
	if parsed.Lines != nil {
		out["lines"] = osmIngestResult(*parsed.Lines)
	}
	if parsed.Polygons != nil {
		out["polygons"] = osmIngestResult(*parsed.Polygons)
	}
	return out, nil
}
