// Package dag implements the map-snapshot DAG: ID generation shared by maps,
// layers, and styles, and the fork operation that copies a map snapshot into
// a new child carrying a fork reason.
package dag

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/mundiai/agent-runtime/internal/models"
)

// idAlphabet excludes 0, O, I, l to avoid visual ambiguity in copy-pasted IDs.
const idAlphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

const idLength = 12

// Prefix characters identifying the entity kind an ID refers to. The QGIS
// input marshaller (internal/qgis) depends on LayerIDPrefix's exact value
// to detect layer-id-shaped arguments.
const (
	MapIDPrefix   = "M"
	LayerIDPrefix = "L"
	StyleIDPrefix = "S"
)

// GenerateID returns a fresh idLength-character ID with the given
// single-character prefix ("" for none).
func GenerateID(prefix string) (string, error) {
	if len(prefix) > 1 {
		return "", fmt.Errorf("dag: prefix must be at most 1 character, got %q", prefix)
	}
	n := idLength - len(prefix)
	buf := make([]byte, n)
	alphabetLen := big.NewInt(int64(len(idAlphabet)))
	for i := range buf {
		idx, err := rand.Int(rand.Reader, alphabetLen)
		if err != nil {
			return "", fmt.Errorf("dag: generating id: %w", err)
		}
		buf[i] = idAlphabet[idx.Int64()]
	}
	return prefix + string(buf), nil
}

// NewMapID, NewLayerID, NewStyleID are GenerateID specialized to each
// entity's prefix.
func NewMapID() (string, error)   { return GenerateID(MapIDPrefix) }
func NewLayerID() (string, error) { return GenerateID(LayerIDPrefix) }
func NewStyleID() (string, error) { return GenerateID(StyleIDPrefix) }

// layerIDPattern matches a 12-character layer id: the "L" prefix followed by
// 11 characters of idAlphabet. internal/qgis uses this to detect which tool
// arguments are layer references rather than scalar values.
var layerIDPattern = buildLayerIDPattern()

func buildLayerIDPattern() func(string) bool {
	allowed := make(map[byte]bool, len(idAlphabet))
	for i := 0; i < len(idAlphabet); i++ {
		allowed[idAlphabet[i]] = true
	}
	return func(s string) bool {
		if len(s) != idLength || s[0] != LayerIDPrefix[0] {
			return false
		}
		for i := 1; i < len(s); i++ {
			if !allowed[s[i]] {
				return false
			}
		}
		return true
	}
}

// LooksLikeLayerID reports whether s has the shape of a generated layer id.
func LooksLikeLayerID(s string) bool {
	return layerIDPattern(s)
}

// Fork builds a new child of a source map snapshot: a fresh map id, the
// source's title, description and a copy of its layer ids, the parent link,
// the fork reason, and display_as_diff set. It persists nothing and does
// not touch the owning project; callers store the child. Cycle safety
// follows from construction: a forked map's parent is always a
// previously-persisted id, so parent chains can never loop back on
// themselves without a direct database edit.
func Fork(source *models.Map, fork models.ForkReason) (*models.Map, error) {
	newID, err := NewMapID()
	if err != nil {
		return nil, err
	}
	parent := source.ID
	child := &models.Map{
		ID:            newID,
		ProjectID:     source.ProjectID,
		Title:         source.Title,
		Description:   source.Description,
		LayerIDs:      append([]string(nil), source.LayerIDs...),
		ParentMapID:   &parent,
		ForkReason:    fork,
		DisplayAsDiff: true,
		CreatedAt:     time.Now(),
	}
	return child, nil
}

// HasCycle reports whether walking parent links from id would revisit a
// node already in ancestry — used before persisting a new parent link.
func HasCycle(id string, parentOf func(string) (string, bool)) bool {
	seen := map[string]bool{id: true}
	cur := id
	for {
		parent, ok := parentOf(cur)
		if !ok {
			return false
		}
		if seen[parent] {
			return true
		}
		seen[parent] = true
		cur = parent
	}
}
