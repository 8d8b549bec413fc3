package api

import (
	"fmt"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/mundiai/agent-runtime/internal/models"
)

// mapStyleDocument is a Mapbox-GL-style-spec-shaped document composed from
// a map snapshot's attached layers and their active styles.
type mapStyleDocument struct {
	Version int                       `json:"version"`
	Sources map[string]map[string]any `json:"sources"`
	Layers  []models.RenderLayer      `json:"layers"`
}

// mapStyleJSONHandler handles GET /api/maps/:map_id/style.json: the
// composed style document spec.md §4.7's set_layer_style contract
// promises reflects each layer's current active style.
func (s *Server) mapStyleJSONHandler(c *echo.Context) error {
	ctx := c.Request().Context()
	mapID := c.Param("map_id")

	m, err := s.store.GetMap(ctx, mapID)
	if err != nil {
		return mapServiceError(err)
	}
	layers, err := s.store.ListLayers(ctx, m.LayerIDs)
	if err != nil {
		return mapServiceError(err)
	}

	doc := mapStyleDocument{
		Version: 8,
		Sources: make(map[string]map[string]any, len(layers)),
	}
	for _, layer := range layers {
		doc.Sources[layer.ID] = sourceFor(layer, s.cfg.WebsiteDomain)

		style, err := s.store.LatestStyle(ctx, layer.ID)
		if err != nil {
			continue // unstyled layer contributes a source but no paint layer
		}
		doc.Layers = append(doc.Layers, style.RenderLayers...)
	}

	return c.JSON(http.StatusOK, doc)
}

func sourceFor(layer *models.Layer, websiteDomain string) map[string]any {
	switch layer.Kind {
	case models.LayerKindRaster:
		return map[string]any{
			"type": "raster",
			"tiles": []string{
				fmt.Sprintf("%s/api/layer/%s.cog.tif", websiteDomain, layer.ID),
			},
			"tileSize": 256,
		}
	default:
		return map[string]any{
			"type": "vector",
			"tiles": []string{
				fmt.Sprintf("%s/api/layer/%s/{z}/{x}/{y}.mvt", websiteDomain, layer.ID),
			},
			"minzoom": 0,
			"maxzoom": 18,
		}
	}
}
