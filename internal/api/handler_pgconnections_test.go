package api

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mundiai/agent-runtime/internal/config"
)

func TestCreatePGConnectionHandlerStoresURIVerbatimUnderAllowPolicy(t *testing.T) {
	s := newTestServer(t)
	s.cfg.PostGISLocalhostPolicy = config.LoopbackAllow
	projectID := mustCreateProjectForTest(t, s)

	body := `{"connection_name":"scratch","uri":"postgresql://u:p@localhost:5432/db"}`
	c, rec := newEchoContext(s, http.MethodPost, "/api/projects/:project_id/postgis-connections", body, []string{"project_id"}, []string{projectID})
	require.NoError(t, s.createPGConnectionHandler(c))
	require.Equal(t, http.StatusOK, rec.Code)

	var got pgConnectionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, "scratch", got.ConnectionName)
	require.False(t, got.Rewritten)

	stored, err := s.store.GetPGConnection(c.Request().Context(), got.ID)
	require.NoError(t, err)
	require.Equal(t, "postgresql://u:p@localhost:5432/db", stored.URI)
}

func TestCreatePGConnectionHandlerRewritesLoopbackUnderDockerRewritePolicy(t *testing.T) {
	s := newTestServer(t)
	s.cfg.PostGISLocalhostPolicy = config.LoopbackDockerRewrite
	projectID := mustCreateProjectForTest(t, s)

	body := `{"connection_name":"scratch","uri":"postgresql://u:p@localhost:5432/db"}`
	c, rec := newEchoContext(s, http.MethodPost, "/api/projects/:project_id/postgis-connections", body, []string{"project_id"}, []string{projectID})
	require.NoError(t, s.createPGConnectionHandler(c))

	var got pgConnectionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.True(t, got.Rewritten)

	stored, err := s.store.GetPGConnection(c.Request().Context(), got.ID)
	require.NoError(t, err)
	require.Equal(t, "postgresql://u:p@host.docker.internal:5432/db", stored.URI)
}

func TestCreatePGConnectionHandlerRejectsLoopbackUnderDisallowPolicy(t *testing.T) {
	s := newTestServer(t)
	s.cfg.PostGISLocalhostPolicy = config.LoopbackDisallow
	projectID := mustCreateProjectForTest(t, s)

	body := `{"connection_name":"scratch","uri":"postgresql://u:p@localhost:5432/db"}`
	c, _ := newEchoContext(s, http.MethodPost, "/api/projects/:project_id/postgis-connections", body, []string{"project_id"}, []string{projectID})
	err := s.createPGConnectionHandler(c)
	require.Error(t, err)
}

func TestCreatePGConnectionHandlerRejectsNonPostgresqlScheme(t *testing.T) {
	s := newTestServer(t)
	s.cfg.PostGISLocalhostPolicy = config.LoopbackAllow
	projectID := mustCreateProjectForTest(t, s)

	body := `{"connection_name":"scratch","uri":"mysql://u:p@example.com:3306/db"}`
	c, _ := newEchoContext(s, http.MethodPost, "/api/projects/:project_id/postgis-connections", body, []string{"project_id"}, []string{projectID})
	err := s.createPGConnectionHandler(c)
	require.Error(t, err)
}

func TestListPGConnectionsHandlerReturnsProjectScoped(t *testing.T) {
	s := newTestServer(t)
	s.cfg.PostGISLocalhostPolicy = config.LoopbackAllow
	projectID := mustCreateProjectForTest(t, s)
	otherProjectID := mustCreateProjectForTest(t, s)

	body := `{"connection_name":"scratch","uri":"postgresql://u:p@example.com:5432/db"}`
	c1, _ := newEchoContext(s, http.MethodPost, "/api/projects/:project_id/postgis-connections", body, []string{"project_id"}, []string{projectID})
	require.NoError(t, s.createPGConnectionHandler(c1))
	c2, _ := newEchoContext(s, http.MethodPost, "/api/projects/:project_id/postgis-connections", body, []string{"project_id"}, []string{otherProjectID})
	require.NoError(t, s.createPGConnectionHandler(c2))

	listC, listRec := newEchoContext(s, http.MethodGet, "/api/projects/:project_id/postgis-connections", "", []string{"project_id"}, []string{projectID})
	require.NoError(t, s.listPGConnectionsHandler(listC))

	var conns []pgConnectionResponse
	require.NoError(t, json.Unmarshal(listRec.Body.Bytes(), &conns))
	require.Len(t, conns, 1)
	require.Equal(t, projectID, conns[0].ProjectID)
}
