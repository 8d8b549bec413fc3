package dag

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mundiai/agent-runtime/internal/models"
)

func TestGenerateIDShapeAndPrefix(t *testing.T) {
	id, err := NewLayerID()
	require.NoError(t, err)
	require.Len(t, id, idLength)
	require.True(t, LooksLikeLayerID(id))

	mapID, err := NewMapID()
	require.NoError(t, err)
	require.False(t, LooksLikeLayerID(mapID))
}

func TestGenerateIDExcludesAmbiguousCharacters(t *testing.T) {
	for i := 0; i < 200; i++ {
		id, err := GenerateID("")
		require.NoError(t, err)
		for _, c := range id {
			require.NotContains(t, "0OIl", string(c))
		}
	}
}

func TestForkCopiesAndMarksDiff(t *testing.T) {
	source := &models.Map{
		ID:          "Mparentid001",
		ProjectID:   "proj-1",
		Title:       "base map",
		Description: "desc",
		LayerIDs:    []string{"Labc12345678"},
	}

	child, err := Fork(source, models.ForkReasonAIEdit)
	require.NoError(t, err)

	require.True(t, child.DisplayAsDiff)
	require.Equal(t, models.ForkReasonAIEdit, child.ForkReason)
	require.NotEqual(t, source.ID, child.ID)
	require.Equal(t, source.ID, *child.ParentMapID)
	require.Equal(t, source.LayerIDs, child.LayerIDs)

	// Mutating the child's copy must not alias the source's slice.
	child.LayerIDs[0] = "Lzzzzzzzzzzz"
	require.NotEqual(t, child.LayerIDs[0], source.LayerIDs[0])
}

func TestHasCycleDetectsBackEdge(t *testing.T) {
	parents := map[string]string{
		"B": "A",
		"C": "B",
		"A": "C", // back-edge
	}
	lookup := func(id string) (string, bool) {
		p, ok := parents[id]
		return p, ok
	}
	require.True(t, HasCycle("C", lookup))
}

func TestHasCycleFalseForLinearChain(t *testing.T) {
	parents := map[string]string{
		"B": "A",
		"C": "B",
	}
	lookup := func(id string) (string, bool) {
		p, ok := parents[id]
		return p, ok
	}
	require.False(t, HasCycle("C", lookup))
}
