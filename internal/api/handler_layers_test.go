package api

import (
	"testing"

	"github.com/mundiai/agent-runtime/internal/models"
)

func TestLayerKindForExtension(t *testing.T) {
	cases := map[string]models.LayerKind{
		".geojson": models.LayerKindVector,
		".json":    models.LayerKindVector,
		".tif":     models.LayerKindRaster,
		".tiff":    models.LayerKindRaster,
		".laz":     models.LayerKindPointCloud,
	}
	for ext, want := range cases {
		got, err := layerKindForExtension(ext)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", ext, err)
		}
		if got != want {
			t.Fatalf("%s: got %s, want %s", ext, got, want)
		}
	}
}

func TestLayerKindForExtensionRejectsUnknown(t *testing.T) {
	if _, err := layerKindForExtension(".exe"); err == nil {
		t.Fatal("expected an error for an unsupported extension")
	}
}

func TestSplitLayerIDExt(t *testing.T) {
	id, ext, err := splitLayerIDExt("Labc12345678.cog.tif")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "Labc12345678" || ext != "cog.tif" {
		t.Fatalf("got id=%q ext=%q", id, ext)
	}
}

func TestSplitLayerIDExtRejectsMissingExtension(t *testing.T) {
	if _, _, err := splitLayerIDExt("Labc12345678"); err == nil {
		t.Fatal("expected an error for a missing extension")
	}
}

func TestObjectKeyForExtensionPrefersMetadataOverFallback(t *testing.T) {
	layer := &models.Layer{
		ID:             "L1",
		ObjectStoreKey: "uploads/u/p/L1.tif",
		Metadata:       map[string]any{"cog_key": "cog/layer/L1.cog.tif"},
	}
	key, err := objectKeyForExtension(layer, "cog.tif")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if key != "cog/layer/L1.cog.tif" {
		t.Fatalf("got %q", key)
	}
}

func TestObjectKeyForExtensionFallsBackToObjectStoreKey(t *testing.T) {
	layer := &models.Layer{ID: "L1", ObjectStoreKey: "uploads/u/p/L1.geojson"}
	key, err := objectKeyForExtension(layer, "geojson")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if key != "uploads/u/p/L1.geojson" {
		t.Fatalf("got %q", key)
	}
}

func TestObjectKeyForExtensionRejectsUnsupported(t *testing.T) {
	layer := &models.Layer{ID: "L1", ObjectStoreKey: "uploads/u/p/L1.geojson"}
	if _, err := objectKeyForExtension(layer, "docx"); err == nil {
		t.Fatal("expected an error for an unsupported extension")
	}
}

func TestValidateTileCoordsAcceptsBoundary(t *testing.T) {
	cases := [][3]int{{0, 0, 0}, {18, 0, 0}, {18, (1 << 18) - 1, (1 << 18) - 1}}
	for _, c := range cases {
		if err := validateTileCoords(c[0], c[1], c[2]); err != nil {
			t.Fatalf("z=%d x=%d y=%d: unexpected error: %v", c[0], c[1], c[2], err)
		}
	}
}

func TestValidateTileCoordsRejectsOutOfRange(t *testing.T) {
	cases := [][3]int{{-1, 0, 0}, {19, 0, 0}, {1, 2, 0}, {1, 0, 2}, {3, -1, 0}}
	for _, c := range cases {
		if err := validateTileCoords(c[0], c[1], c[2]); err == nil {
			t.Fatalf("z=%d x=%d y=%d: expected an error", c[0], c[1], c[2])
		}
	}
}
