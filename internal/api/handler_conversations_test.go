package api

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mundiai/agent-runtime/internal/models"
)

func mustCreateProjectForTest(t *testing.T, s *Server) string {
	t.Helper()
	c, rec := newEchoContext(s, http.MethodPost, "/api/maps/create", `{"title":"project for conversation tests"}`, nil, nil)
	require.NoError(t, s.createMapHandler(c))
	var got mapResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	return got.ProjectID
}

func TestCreateConversationHandlerPersistsPendingTitle(t *testing.T) {
	s := newTestServer(t)
	projectID := mustCreateProjectForTest(t, s)

	c, rec := newEchoContext(s, http.MethodPost, "/api/conversations", `{"project_id":"`+projectID+`"}`, nil, nil)
	require.NoError(t, s.createConversationHandler(c))
	require.Equal(t, http.StatusOK, rec.Code)

	var conv models.Conversation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &conv))
	require.Equal(t, "pending", conv.Title)
	require.Equal(t, projectID, conv.ProjectID)
}

func TestCreateConversationHandlerRejectsMissingProjectID(t *testing.T) {
	s := newTestServer(t)
	c, _ := newEchoContext(s, http.MethodPost, "/api/conversations", `{}`, nil, nil)
	err := s.createConversationHandler(c)
	require.Error(t, err)
}

func TestListConversationsHandlerReturnsProjectScoped(t *testing.T) {
	s := newTestServer(t)
	projectID := mustCreateProjectForTest(t, s)

	c1, _ := newEchoContext(s, http.MethodPost, "/api/conversations", `{"project_id":"`+projectID+`"}`, nil, nil)
	require.NoError(t, s.createConversationHandler(c1))

	otherProjectID := mustCreateProjectForTest(t, s)
	c2, _ := newEchoContext(s, http.MethodPost, "/api/conversations", `{"project_id":"`+otherProjectID+`"}`, nil, nil)
	require.NoError(t, s.createConversationHandler(c2))

	listC, listRec := newEchoContext(s, http.MethodGet, "/api/conversations?project_id="+projectID, "", nil, nil)
	listC.Request().URL.RawQuery = "project_id=" + projectID
	require.NoError(t, s.listConversationsHandler(listC))

	var convs []*models.Conversation
	require.NoError(t, json.Unmarshal(listRec.Body.Bytes(), &convs))
	require.Len(t, convs, 1)
	require.Equal(t, projectID, convs[0].ProjectID)
}

func TestListMessagesHandlerFiltersSystemRoleMessages(t *testing.T) {
	s := newTestServer(t)
	mapC, mapRec := newEchoContext(s, http.MethodPost, "/api/maps/create", `{"title":"m"}`, nil, nil)
	require.NoError(t, s.createMapHandler(mapC))
	var mp mapResponse
	require.NoError(t, json.Unmarshal(mapRec.Body.Bytes(), &mp))

	convC, convRec := newEchoContext(s, http.MethodPost, "/api/conversations", `{"project_id":"`+mp.ProjectID+`"}`, nil, nil)
	require.NoError(t, s.createConversationHandler(convC))
	var conv models.Conversation
	require.NoError(t, json.Unmarshal(convRec.Body.Bytes(), &conv))

	_, err := s.store.InsertMessage(convC.Request().Context(), &models.Message{
		ConversationID: conv.ID,
		MapID:          mp.ID,
		Role:           models.RoleSystem,
		Content:        "you are a GIS assistant",
	})
	require.NoError(t, err)
	_, err = s.store.InsertMessage(convC.Request().Context(), &models.Message{
		ConversationID: conv.ID,
		MapID:          mp.ID,
		Role:           models.RoleUser,
		Content:        "buffer the parcels layer",
	})
	require.NoError(t, err)

	listC, listRec := newEchoContext(s, http.MethodGet, "/api/conversations/:id/messages", "", []string{"id"}, []string{conv.ID})
	require.NoError(t, s.listMessagesHandler(listC))

	var msgs []*models.Message
	require.NoError(t, json.Unmarshal(listRec.Body.Bytes(), &msgs))
	require.Len(t, msgs, 1)
	require.Equal(t, models.RoleUser, msgs[0].Role)
}
