package agent

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mundiai/agent-runtime/internal/models"
)

func TestDescribeUnattachedLayersEmptyWhenNone(t *testing.T) {
	require.Equal(t, "", describeUnattachedLayers(nil))
}

func TestDescribeUnattachedLayersListsEachLayer(t *testing.T) {
	layers := []*models.Layer{
		{ID: "Labc12345678", Kind: models.LayerKindVector, Name: "Parcels"},
		{ID: "Lxyz12345678", Kind: models.LayerKindRaster},
	}
	out := describeUnattachedLayers(layers)
	require.Contains(t, out, "Labc12345678")
	require.Contains(t, out, "Parcels")
	require.Contains(t, out, "untitled")
}

func TestToolActionLabelKnownTools(t *testing.T) {
	require.Equal(t, "Querying PostgreSQL database...", toolActionLabel("query_postgis_database"))
	require.Equal(t, "Updating layer style...", toolActionLabel("set_layer_style"))
}

func TestToolActionLabelFallsBackToQGISAlgorithmName(t *testing.T) {
	require.Equal(t, "QGIS running native:buffer...", toolActionLabel("native_buffer"))
}

func TestQGISAlgorithmLabelReplacesFirstUnderscore(t *testing.T) {
	require.Equal(t, "native:centroids", qgisAlgorithmLabel("native_centroids"))
	require.Equal(t, "gdal:warp_reproject", qgisAlgorithmLabel("gdal_warp_reproject"))
}
