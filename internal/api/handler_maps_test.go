package api

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mundiai/agent-runtime/internal/config"
)

func TestCreateMapHandlerCreatesProjectAndMapWhenProjectIDOmitted(t *testing.T) {
	s := newTestServer(t)
	c, rec := newEchoContext(s, http.MethodPost, "/api/maps/create", `{"title":"Coastal erosion"}`, nil, nil)

	require.NoError(t, s.createMapHandler(c))
	require.Equal(t, http.StatusOK, rec.Code)

	var got mapResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, "Coastal erosion", got.Title)
	require.NotEmpty(t, got.ID)
	require.NotEmpty(t, got.ProjectID)
}

func TestCreateMapHandlerAppendsToExistingProject(t *testing.T) {
	s := newTestServer(t)
	c1, rec1 := newEchoContext(s, http.MethodPost, "/api/maps/create", `{"title":"first"}`, nil, nil)
	require.NoError(t, s.createMapHandler(c1))
	var first mapResponse
	require.NoError(t, json.Unmarshal(rec1.Body.Bytes(), &first))

	body := `{"project_id":"` + first.ProjectID + `","title":"second"}`
	c2, rec2 := newEchoContext(s, http.MethodPost, "/api/maps/create", body, nil, nil)
	require.NoError(t, s.createMapHandler(c2))
	require.Equal(t, http.StatusOK, rec2.Code)

	var second mapResponse
	require.NoError(t, json.Unmarshal(rec2.Body.Bytes(), &second))
	require.Equal(t, first.ProjectID, second.ProjectID)
	require.NotEqual(t, first.ID, second.ID)
}

func TestCreateMapHandlerRejectsUnknownProjectID(t *testing.T) {
	s := newTestServer(t)
	c, _ := newEchoContext(s, http.MethodPost, "/api/maps/create", `{"project_id":"nonexistent","title":"x"}`, nil, nil)
	err := s.createMapHandler(c)
	require.Error(t, err)
}

func TestCreateMapHandlerRejectsForeignProjectID(t *testing.T) {
	s := newTestServer(t)
	c1, rec1 := newEchoContext(s, http.MethodPost, "/api/maps/create", `{"title":"owned by demo"}`, nil, nil)
	require.NoError(t, s.createMapHandler(c1))
	var first mapResponse
	require.NoError(t, json.Unmarshal(rec1.Body.Bytes(), &first))

	req := httpRequestWithHeader(t, http.MethodPost, "/api/maps/create", `{"project_id":"`+first.ProjectID+`","title":"steal it"}`, "X-Forwarded-User", "someone-else")
	rec := httpRecorder()
	c := s.echo.NewContext(req, rec)
	err := s.createMapHandler(c)
	require.Error(t, err, "a different user's project_id must not be reusable")
}

func TestCreateMapHandlerRejectsViewOnlyMode(t *testing.T) {
	s := newTestServer(t)
	s.cfg.AuthMode = config.AuthModeViewOnly
	c, _ := newEchoContext(s, http.MethodPost, "/api/maps/create", `{"title":"x"}`, nil, nil)
	err := s.createMapHandler(c)
	require.Error(t, err)
}
