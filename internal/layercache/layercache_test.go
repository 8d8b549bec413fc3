package layercache

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/mundiai/agent-runtime/internal/models"
)

type fakeLayerGetter struct {
	layer *models.Layer
}

func (f *fakeLayerGetter) GetLayer(ctx context.Context, id string) (*models.Layer, error) {
	return f.layer, nil
}

func TestObjectKeyPrefersGeoJSONMetadata(t *testing.T) {
	layer := &models.Layer{
		ID:             "L1",
		ObjectStoreKey: "uploads/u/p/L1.gpkg",
		Metadata:       map[string]any{"geojson_key": "derived/L1.geojson"},
	}
	key, err := objectKey(layer)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if key != "derived/L1.geojson" {
		t.Fatalf("got %q", key)
	}
}

func TestObjectKeyFallsBackToObjectStoreKey(t *testing.T) {
	layer := &models.Layer{ID: "L1", ObjectStoreKey: "uploads/u/p/L1.geojson"}
	key, err := objectKey(layer)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if key != "uploads/u/p/L1.geojson" {
		t.Fatalf("got %q", key)
	}
}

func TestObjectKeyRejectsEmptyLayer(t *testing.T) {
	if _, err := objectKey(&models.Layer{ID: "L1"}); err == nil {
		t.Fatal("expected an error for a layer with no object store representation")
	}
}

// TestResolveServesAlreadyCachedFileWithoutTouchingObjectStore exercises the
// disk-hit path: Resolve must never reach for objects when the file is
// already on disk, so a nil *objectstore.Store is safe to pass here.
func TestResolveServesAlreadyCachedFileWithoutTouchingObjectStore(t *testing.T) {
	dir := t.TempDir()
	layer := &models.Layer{ID: "L1", ObjectStoreKey: "uploads/u/p/L1.geojson"}
	if err := os.WriteFile(filepath.Join(dir, "L1.geojson"), []byte("{}"), 0o644); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	c, err := New(dir, &fakeLayerGetter{layer: layer}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	path, err := c.Resolve(context.Background(), "L1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if path != filepath.Join(dir, "L1.geojson") {
		t.Fatalf("got %q", path)
	}
}
