package api

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mundiai/agent-runtime/internal/dag"
	"github.com/mundiai/agent-runtime/internal/models"
)

func mustCreateLayerForTest(t *testing.T, s *Server) *models.Layer {
	t.Helper()
	layerID, err := dag.NewLayerID()
	require.NoError(t, err)
	layer := &models.Layer{
		ID:          layerID,
		OwnerUserID: demoUserID,
		Name:        "parcels",
		Kind:        models.LayerKindVector,
		CreatedAt:   time.Now(),
	}
	require.NoError(t, s.store.CreateLayer(context.Background(), layer))
	return layer
}

func TestSetLayerStyleHandlerCreatesStyle(t *testing.T) {
	s := newTestServer(t)
	layer := mustCreateLayerForTest(t, s)

	body := `{"render_layers":[{"id":"fill","type":"fill","source":"` + layer.ID + `"}]}`
	c, rec := newEchoContext(s, http.MethodPost, "/api/layers/:layer_id/style", body, []string{"layer_id"}, []string{layer.ID})
	require.NoError(t, s.setLayerStyleHandler(c))
	require.Equal(t, http.StatusOK, rec.Code)

	var first setLayerStyleResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &first))
	require.Equal(t, layer.ID, first.LayerID)
	require.NotEmpty(t, first.StyleID)
}

func TestSetLayerStyleHandlerChainsParentOnSecondCall(t *testing.T) {
	s := newTestServer(t)
	layer := mustCreateLayerForTest(t, s)

	body := `{"render_layers":[{"id":"fill","type":"fill","source":"` + layer.ID + `"}]}`
	c1, rec1 := newEchoContext(s, http.MethodPost, "/api/layers/:layer_id/style", body, []string{"layer_id"}, []string{layer.ID})
	require.NoError(t, s.setLayerStyleHandler(c1))
	var first setLayerStyleResponse
	require.NoError(t, json.Unmarshal(rec1.Body.Bytes(), &first))

	c2, rec2 := newEchoContext(s, http.MethodPost, "/api/layers/:layer_id/style", body, []string{"layer_id"}, []string{layer.ID})
	require.NoError(t, s.setLayerStyleHandler(c2))
	var second setLayerStyleResponse
	require.NoError(t, json.Unmarshal(rec2.Body.Bytes(), &second))
	require.NotEqual(t, first.StyleID, second.StyleID)

	latest, err := s.store.LatestStyle(context.Background(), layer.ID)
	require.NoError(t, err)
	require.Equal(t, second.StyleID, latest.ID)
	require.NotNil(t, latest.ParentStyleID)
	require.Equal(t, first.StyleID, *latest.ParentStyleID)
}

func TestSetLayerStyleHandlerRejectsSourceMismatch(t *testing.T) {
	s := newTestServer(t)
	layer := mustCreateLayerForTest(t, s)

	body := `{"render_layers":[{"id":"fill","type":"fill","source":"someone-elses-layer"}]}`
	c, _ := newEchoContext(s, http.MethodPost, "/api/layers/:layer_id/style", body, []string{"layer_id"}, []string{layer.ID})
	err := s.setLayerStyleHandler(c)
	require.Error(t, err)
}

func TestSetLayerStyleHandlerRejectsEmptyRenderLayers(t *testing.T) {
	s := newTestServer(t)
	layer := mustCreateLayerForTest(t, s)

	c, _ := newEchoContext(s, http.MethodPost, "/api/layers/:layer_id/style", `{"render_layers":[]}`, []string{"layer_id"}, []string{layer.ID})
	err := s.setLayerStyleHandler(c)
	require.Error(t, err)
}
