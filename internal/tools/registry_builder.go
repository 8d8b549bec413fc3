package tools

import (
	"context"
	"fmt"

	"github.com/mundiai/agent-runtime/internal/duckdbquery"
)

// QGISAlgorithm names one worker-exposed processing algorithm available to
// register as a tool (tool name already underscore-separated, e.g.
// "native_buffer" for algorithm id "native:buffer").
type QGISAlgorithm struct {
	ToolName    string
	Description string
}

// LayerCacheResolver resolves a layer id to the local filesystem path of
// its cached vector file, for query_duckdb_sql. Implemented by the layer
// cache (see spec glossary); injected here to avoid a dependency cycle.
type LayerCacheResolver func(ctx context.Context, layerID string) (path string, err error)

// BuildOptions configures which tools BuildRegistry registers.
type BuildOptions struct {
	QGISAlgorithms   []QGISAlgorithm
	OSMEnabled       bool
	OSMAPIKey        string
	LayerCache       LayerCacheResolver
}

// BuildRegistry constructs the fixed tool set for one agentic loop request,
// per spec.md §4.5's canonical tool table. The QGIS algorithm list and OSM
// availability vary by deployment configuration; everything else is
// always registered.
func BuildRegistry(opts BuildOptions) (*Registry, error) {
	r := NewRegistry()

	core := []*Tool{
		NewNewLayerFromPostGISTool(),
		NewAddLayerToMapTool(),
		NewSetLayerStyleTool(),
		NewQueryPostGISDatabaseTool(),
		NewQueryDuckDBSQLTool(opts.LayerCache, duckdbquery.Run),
		NewZoomToBoundsTool(),
	}
	for _, t := range core {
		if err := r.Register(t); err != nil {
			return nil, fmt.Errorf("tools: registering %s: %w", t.Name, err)
		}
	}

	if opts.OSMEnabled {
		if err := r.Register(NewDownloadFromOpenStreetMapTool(opts.OSMAPIKey)); err != nil {
			return nil, fmt.Errorf("tools: registering download_from_openstreetmap: %w", err)
		}
	}

	for _, alg := range opts.QGISAlgorithms {
		if err := r.Register(NewQGISAlgorithmTool(alg.ToolName, alg.Description)); err != nil {
			return nil, fmt.Errorf("tools: registering %s: %w", alg.ToolName, err)
		}
	}

	return r, nil
}
