package api

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/mundiai/agent-runtime/internal/apierr"
	"github.com/mundiai/agent-runtime/internal/dag"
	"github.com/mundiai/agent-runtime/internal/models"
)

// layerKindForExtension classifies an uploaded file's kind from its
// extension, per spec.md §3's kind ∈ {vector, raster, postgis, point_cloud}
// (postgis layers are never created through this upload path).
func layerKindForExtension(ext string) (models.LayerKind, error) {
	switch strings.ToLower(ext) {
	case ".geojson", ".json", ".gpkg", ".csv", ".zip":
		return models.LayerKindVector, nil
	case ".tif", ".tiff":
		return models.LayerKindRaster, nil
	case ".laz", ".las":
		return models.LayerKindPointCloud, nil
	default:
		return "", fmt.Errorf("unsupported upload extension %q", ext)
	}
}

// uploadLayerHandler handles POST /api/maps/:map_id/layers: a multipart
// file upload that creates a new layer and forks the target map into a
// child snapshot carrying it, per spec.md §6's "attachment mutates the
// DAG".
func (s *Server) uploadLayerHandler(c *echo.Context) error {
	if err := requireEditMode(c, s.cfg); err != nil {
		return err
	}
	userID := resolveUserID(c)
	ctx := c.Request().Context()

	mapID := c.Param("map_id")
	sourceMap, err := s.store.GetMap(ctx, mapID)
	if err != nil {
		return mapServiceError(err)
	}

	if err := c.Request().ParseMultipartForm(64 << 20); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid multipart form: "+err.Error())
	}
	file, header, err := c.Request().FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "file is required: "+err.Error())
	}
	defer file.Close()

	ext := extensionOf(header.Filename)
	kind, err := layerKindForExtension(ext)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	layerName := c.Request().FormValue("name")
	if layerName == "" {
		layerName = header.Filename
	}

	layerID, err := dag.NewLayerID()
	if err != nil {
		return err
	}
	objectKey := fmt.Sprintf("uploads/%s/%s/%s%s", userID, sourceMap.ProjectID, layerID, ext)
	if err := s.objectStore.Put(ctx, objectKey, file, header.Header.Get("Content-Type")); err != nil {
		return fmt.Errorf("uploading layer file: %w", err)
	}

	metadata := map[string]any{"original_filename": header.Filename}
	switch kind {
	case models.LayerKindVector:
		metadata["geojson_key"] = objectKey
	case models.LayerKindRaster:
		metadata["cog_key"] = objectKey
	case models.LayerKindPointCloud:
		metadata["laz_key"] = objectKey
	}

	layer := &models.Layer{
		ID:             layerID,
		OwnerUserID:    userID,
		Name:           layerName,
		Kind:           kind,
		ObjectStoreKey: objectKey,
		Metadata:       metadata,
		CreatedAt:      time.Now(),
	}
	if err := s.store.CreateLayer(ctx, layer); err != nil {
		return fmt.Errorf("persisting layer: %w", err)
	}

	style, err := defaultStyleForUpload(layerID, kind)
	if err != nil {
		return err
	}
	if err := s.store.CreateStyle(ctx, style); err != nil {
		return fmt.Errorf("persisting default style: %w", err)
	}

	child, err := dag.Fork(sourceMap, models.ForkReasonUserEdit)
	if err != nil {
		return err
	}
	child.LayerIDs = append(child.LayerIDs, layerID)
	if err := s.store.CreateMap(ctx, child); err != nil {
		return fmt.Errorf("forking map: %w", err)
	}
	if err := s.store.AppendMapToProject(ctx, sourceMap.ProjectID, child.ID, "Added layer "+layerName); err != nil {
		return fmt.Errorf("appending forked map to project: %w", err)
	}

	return c.JSON(http.StatusOK, &uploadLayerResponse{
		LayerID:  layerID,
		NewMapID: child.ID,
		Kind:     string(kind),
		StyleID:  style.ID,
	})
}

func defaultStyleForUpload(layerID string, kind models.LayerKind) (*models.Style, error) {
	styleID, err := dag.NewStyleID()
	if err != nil {
		return nil, err
	}
	var rl models.RenderLayer
	switch kind {
	case models.LayerKindRaster:
		rl = models.RenderLayer{ID: layerID, Type: "raster", Source: layerID}
	case models.LayerKindPointCloud:
		rl = models.RenderLayer{ID: layerID, Type: "circle", Source: layerID, Paint: map[string]any{"circle-color": "#3cb44b", "circle-radius": 2}}
	default:
		rl = models.RenderLayer{ID: layerID, Type: "fill", Source: layerID, SourceLayer: "reprojectedfgb", Paint: map[string]any{"fill-color": "#3cb44b", "fill-opacity": 0.6}}
	}
	return &models.Style{ID: styleID, LayerID: layerID, RenderLayers: []models.RenderLayer{rl}, CreatedAt: time.Now()}, nil
}

// setLayerStyleHandler handles POST /api/layers/:layer_id/style, the
// HTTP-originated counterpart to the set_layer_style tool (used by the
// frontend's manual styling UI rather than the agentic loop).
func (s *Server) setLayerStyleHandler(c *echo.Context) error {
	if err := requireEditMode(c, s.cfg); err != nil {
		return err
	}
	userID := resolveUserID(c)
	ctx := c.Request().Context()
	layerID := c.Param("layer_id")

	layer, err := s.store.GetLayer(ctx, layerID)
	if err != nil {
		return mapServiceError(err)
	}
	if layer.OwnerUserID != userID {
		return mapServiceError(apierr.ErrNotFound)
	}

	var req setLayerStyleRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if len(req.RenderLayers) == 0 {
		return mapServiceError(apierr.NewValidationError("render_layers", "must contain at least one entry"))
	}

	renderLayers := make([]models.RenderLayer, len(req.RenderLayers))
	for i, rl := range req.RenderLayers {
		if rl.Source != layerID {
			return mapServiceError(apierr.NewValidationError("render_layers", fmt.Sprintf("entry %d source must equal layer id", i)))
		}
		renderLayers[i] = models.RenderLayer{
			ID: rl.ID, Type: rl.Type, Source: rl.Source,
			SourceLayer: rl.SourceLayer, Paint: rl.Paint, Layout: rl.Layout,
		}
	}

	var parentStyleID *string
	if prior, err := s.store.LatestStyle(ctx, layerID); err == nil {
		parentStyleID = &prior.ID
	}
	styleID, err := dag.NewStyleID()
	if err != nil {
		return err
	}
	style := &models.Style{
		ID:            styleID,
		LayerID:       layerID,
		ParentStyleID: parentStyleID,
		RenderLayers:  renderLayers,
		CreatedAt:     time.Now(),
	}
	if err := s.store.CreateStyle(ctx, style); err != nil {
		return fmt.Errorf("persisting style: %w", err)
	}

	return c.JSON(http.StatusOK, &setLayerStyleResponse{StyleID: styleID, LayerID: layerID})
}

// layerFileHandler handles GET /api/layer/{layer_id}.{ext}: a byte-stream
// download of one of a layer's materialized representations, honoring
// HTTP Range requests.
func (s *Server) layerFileHandler(c *echo.Context) error {
	raw := c.Param("layer_id_ext")
	layerID, ext, err := splitLayerIDExt(raw)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ctx := c.Request().Context()
	layer, err := s.store.GetLayer(ctx, layerID)
	if err != nil {
		return mapServiceError(err)
	}

	key, err := objectKeyForExtension(layer, ext)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}

	rangeHeader := c.Request().Header.Get("Range")
	obj, err := s.objectStore.Get(ctx, key, rangeHeader)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "layer file not found")
	}
	defer obj.Body.Close()

	resp := c.Response()
	resp.Header().Set("Accept-Ranges", "bytes")
	if obj.ContentType != "" {
		resp.Header().Set("Content-Type", obj.ContentType)
	}
	status := http.StatusOK
	if rangeHeader != "" && obj.ContentRange != "" {
		resp.Header().Set("Content-Range", obj.ContentRange)
		status = http.StatusPartialContent
	}
	if obj.ContentLength > 0 {
		resp.Header().Set("Content-Length", strconv.FormatInt(obj.ContentLength, 10))
	}
	resp.WriteHeader(status)
	_, err = io.Copy(resp, obj.Body)
	return err
}

// layerTileHandler handles GET /api/layer/{layer_id}/{z}/{x}/{y}.mvt: a
// single vector tile, validated against spec.md §6's tile coordinate
// bounds (0 ≤ z ≤ 18, 0 ≤ x,y < 2^z) before touching the object store.
func (s *Server) layerTileHandler(c *echo.Context) error {
	layerID := c.Param("layer_id")
	z, err := strconv.Atoi(c.Param("z"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "z must be an integer")
	}
	x, err := strconv.Atoi(c.Param("x"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "x must be an integer")
	}
	yext := c.Param("yext")
	yStr, ext, ok := strings.Cut(yext, ".")
	if !ok || ext != "mvt" {
		return echo.NewHTTPError(http.StatusBadRequest, "tile path must end in .mvt")
	}
	y, err := strconv.Atoi(yStr)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "y must be an integer")
	}
	if err := validateTileCoords(z, x, y); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ctx := c.Request().Context()
	if _, err := s.store.GetLayer(ctx, layerID); err != nil {
		return mapServiceError(err)
	}

	key := fmt.Sprintf("mvt/%s/%d/%d/%d.mvt", layerID, z, x, y)
	obj, err := s.objectStore.Get(ctx, key, "")
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "tile not available")
	}
	defer obj.Body.Close()

	c.Response().Header().Set("Content-Type", "application/vnd.mapbox-vector-tile")
	c.Response().WriteHeader(http.StatusOK)
	_, err = io.Copy(c.Response(), obj.Body)
	return err
}

// validateTileCoords enforces spec.md §6's tile coordinate bounds:
// 0 ≤ z ≤ 18, 0 ≤ x,y < 2^z.
func validateTileCoords(z, x, y int) error {
	if z < 0 || z > 18 {
		return fmt.Errorf("z must be in [0, 18]")
	}
	maxCoord := 1 << uint(z)
	if x < 0 || x >= maxCoord || y < 0 || y >= maxCoord {
		return fmt.Errorf("x,y out of range for zoom level %d", z)
	}
	return nil
}

func extensionOf(filename string) string {
	idx := strings.LastIndex(filename, ".")
	if idx < 0 {
		return ""
	}
	return filename[idx:]
}

// splitLayerIDExt parses "{layer_id}.{ext}" (ext may itself contain a dot,
// e.g. "cog.tif").
func splitLayerIDExt(s string) (layerID, ext string, err error) {
	idx := strings.Index(s, ".")
	if idx < 0 {
		return "", "", fmt.Errorf("expected a layer id with a file extension")
	}
	return s[:idx], s[idx+1:], nil
}

// objectKeyForExtension resolves the object store key backing a
// requested file extension for a layer, following the derived-key
// convention stashed in Layer.Metadata at creation time.
func objectKeyForExtension(layer *models.Layer, ext string) (string, error) {
	metaKey := map[string]string{
		"geojson": "geojson_key",
		"pmtiles": "pmtiles_key",
		"cog.tif": "cog_key",
		"laz":     "laz_key",
	}[ext]
	if metaKey == "" {
		return "", fmt.Errorf("unsupported layer file extension %q", ext)
	}
	if v, ok := layer.Metadata[metaKey].(string); ok && v != "" {
		return v, nil
	}
	if layer.ObjectStoreKey != "" {
		return layer.ObjectStoreKey, nil
	}
	return "", fmt.Errorf("no %s representation available for layer %s", ext, layer.ID)
}
