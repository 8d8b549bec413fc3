package api

import (
	"context"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/mundiai/agent-runtime/internal/agent"
	"github.com/mundiai/agent-runtime/internal/apierr"
	"github.com/mundiai/agent-runtime/internal/dag"
	"github.com/mundiai/agent-runtime/internal/models"
)

// createConversationHandler handles POST /api/conversations.
func (s *Server) createConversationHandler(c *echo.Context) error {
	userID := resolveUserID(c)
	ctx := c.Request().Context()

	var req createConversationRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := validateRequest(&req); err != nil {
		return mapServiceError(err)
	}
	project, err := s.store.GetProject(ctx, req.ProjectID)
	if err != nil {
		return mapServiceError(err)
	}
	if project.OwnerUserID != userID {
		return mapServiceError(apierr.ErrNotFound)
	}

	conv, err := s.newConversation(ctx, userID, req.ProjectID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, conv)
}

// newConversation persists a fresh conversation, title starting as
// "pending" per spec.md §3, shared between the explicit create endpoint
// and the send endpoint's "NEW" conversation id shorthand.
func (s *Server) newConversation(ctx context.Context, userID, projectID string) (*models.Conversation, error) {
	id, err := dag.GenerateID("")
	if err != nil {
		return nil, err
	}
	conv := &models.Conversation{
		ID:          id,
		ProjectID:   projectID,
		OwnerUserID: userID,
		Title:       "pending",
		CreatedAt:   time.Now(),
	}
	if err := s.store.CreateConversation(ctx, conv); err != nil {
		return nil, err
	}
	return conv, nil
}

// listConversationsHandler handles GET /api/conversations?project_id=….
func (s *Server) listConversationsHandler(c *echo.Context) error {
	projectID := c.QueryParam("project_id")
	if projectID == "" {
		return mapServiceError(apierr.NewValidationError("project_id", "query parameter is required"))
	}
	convs, err := s.store.ListConversations(c.Request().Context(), projectID)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, convs)
}

// listMessagesHandler handles GET /api/conversations/:id/messages,
// filtering out system-role messages per spec.md §6.
func (s *Server) listMessagesHandler(c *echo.Context) error {
	conversationID := c.Param("id")
	msgs, err := s.store.ListMessages(c.Request().Context(), conversationID)
	if err != nil {
		return mapServiceError(err)
	}

	out := make([]*models.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == models.RoleSystem {
			continue
		}
		out = append(out, m)
	}
	return c.JSON(http.StatusOK, out)
}

// sendMessageHandler handles
// POST /api/maps/conversations/{conversation_id|NEW}/maps/{map_id}/send,
// launching the agentic loop for one new user turn.
func (s *Server) sendMessageHandler(c *echo.Context) error {
	if err := requireEditMode(c, s.cfg); err != nil {
		return err
	}
	userID := resolveUserID(c)
	ctx := c.Request().Context()

	mapID := c.Param("map_id")
	m, err := s.store.GetMap(ctx, mapID)
	if err != nil {
		return mapServiceError(err)
	}

	var req sendMessageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Content == "" {
		return mapServiceError(apierr.NewValidationError("content", "is required"))
	}

	conversationID := c.Param("conversation_id")
	if conversationID == "NEW" {
		conv, err := s.newConversation(ctx, userID, m.ProjectID)
		if err != nil {
			return err
		}
		conversationID = conv.ID
	} else if _, err := s.store.GetConversation(ctx, conversationID); err != nil {
		return mapServiceError(err)
	}

	result, err := s.loop.StartTurn(ctx, agent.TurnRequest{
		UserID:          userID,
		ConversationID:  conversationID,
		MapID:           mapID,
		Content:         req.Content,
		SelectedFeature: req.SelectedFeature,
	})
	if err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusOK, &sendMessageResponse{
		ConversationID: result.ConversationID,
		SentMessage:    req.Content,
		MessageID:      result.MessageID,
		Status:         result.Status,
	})
}
