package tools

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mundiai/agent-runtime/internal/models"
)

func TestRegistryValidateRejectsMissingRequiredField(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(NewZoomToBoundsTool()))

	verr := r.Validate("zoom_to_bounds", json.RawMessage(`{"west": 1, "south": 2, "east": 3}`))
	require.NotNil(t, verr)
	require.Equal(t, "error", verr.Status)
}

func TestRegistryValidateAcceptsWellFormedArgs(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(NewZoomToBoundsTool()))

	verr := r.Validate("zoom_to_bounds", json.RawMessage(`{"west": -1, "south": -1, "east": 1, "north": 1}`))
	require.Nil(t, verr)
}

func TestRegistryCallUnknownToolReturnsToolError(t *testing.T) {
	r := NewRegistry()
	result := r.Call(nil, nil, "does_not_exist", json.RawMessage(`{}`))
	toolErr, ok := result.(*ToolError)
	require.True(t, ok)
	require.Equal(t, "error", toolErr.Status)
}

func TestValidateRenderLayersRejectsWrongSource(t *testing.T) {
	err := validateRenderLayers("Labc12345678", []models.RenderLayer{
		{ID: "x", Type: "fill", Source: "Lwrongsource1"},
	})
	require.Error(t, err)
}

func TestValidateRenderLayersStampsSourceLayer(t *testing.T) {
	layers := []models.RenderLayer{
		{ID: "x", Type: "fill", Source: "Labc12345678"},
	}
	require.NoError(t, validateRenderLayers("Labc12345678", layers))
	require.Equal(t, "reprojectedfgb", layers[0].SourceLayer)
}
