// Package layercache materializes a layer's object-store file onto local
// disk so query_duckdb_sql can point an in-memory DuckDB engine at a real
// path, per spec.md §4.7. Grounded on the teacher's pattern of caching
// remote artifacts under a scratch directory keyed by id (pkg/runbook's
// template cache uses the same "check disk, fall back to fetch" shape).
package layercache

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/mundiai/agent-runtime/internal/models"
	"github.com/mundiai/agent-runtime/internal/objectstore"
)

// LayerGetter resolves a layer by id; satisfied by *store.Store.
type LayerGetter interface {
	GetLayer(ctx context.Context, id string) (*models.Layer, error)
}

// Cache downloads a layer's vector representation into dir on first
// request and serves subsequent requests for the same layer id from disk.
// Concurrent requests for distinct layers proceed independently; a single
// mutex only serializes the check-then-fetch for a given id.
type Cache struct {
	dir     string
	store   LayerGetter
	objects *objectstore.Store

	mu   sync.Mutex
	once map[string]*sync.Once
}

// New returns a Cache rooted at dir, creating it if necessary.
func New(dir string, store LayerGetter, objects *objectstore.Store) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("layercache: creating cache dir: %w", err)
	}
	return &Cache{dir: dir, store: store, objects: objects, once: make(map[string]*sync.Once)}, nil
}

// Resolve returns the local path of layerID's cached file, fetching it
// from the object store if not already present. Matches
// tools.LayerCacheResolver's signature so it can be wired directly into
// tools.BuildOptions.LayerCache.
func (c *Cache) Resolve(ctx context.Context, layerID string) (string, error) {
	layer, err := c.store.GetLayer(ctx, layerID)
	if err != nil {
		return "", fmt.Errorf("layercache: looking up layer %s: %w", layerID, err)
	}

	key, err := objectKey(layer)
	if err != nil {
		return "", err
	}
	path := filepath.Join(c.dir, layerID+filepath.Ext(key))

	if _, err := os.Stat(path); err == nil {
		return path, nil
	}

	c.mu.Lock()
	once, ok := c.once[layerID]
	if !ok {
		once = &sync.Once{}
		c.once[layerID] = once
	}
	c.mu.Unlock()

	var fetchErr error
	once.Do(func() {
		fetchErr = c.fetch(ctx, key, path)
	})
	if fetchErr != nil {
		c.mu.Lock()
		delete(c.once, layerID)
		c.mu.Unlock()
		return "", fetchErr
	}
	return path, nil
}

func (c *Cache) fetch(ctx context.Context, key, path string) error {
	obj, err := c.objects.Get(ctx, key, "")
	if err != nil {
		return fmt.Errorf("layercache: downloading %s: %w", key, err)
	}
	defer obj.Body.Close()

	tmp := path + ".partial"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("layercache: creating %s: %w", tmp, err)
	}
	if _, err := io.Copy(f, obj.Body); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("layercache: writing %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("layercache: closing %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("layercache: finalizing %s: %w", path, err)
	}
	return nil
}

// objectKey picks the most query-friendly representation available for a
// layer: raw vector uploads are queried directly, rasters and point
// clouds fall back to whatever Layer.Metadata/ObjectStoreKey holds.
func objectKey(layer *models.Layer) (string, error) {
	if v, ok := layer.Metadata["geojson_key"].(string); ok && v != "" {
		return v, nil
	}
	if layer.ObjectStoreKey != "" {
		return layer.ObjectStoreKey, nil
	}
	return "", fmt.Errorf("layer %s has no cacheable object store representation", layer.ID)
}
