package api

import (
	"errors"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/mundiai/agent-runtime/internal/apierr"
	"github.com/mundiai/agent-runtime/internal/dag"
	"github.com/mundiai/agent-runtime/internal/models"
	"github.com/mundiai/agent-runtime/internal/pgconn"
)

// createPGConnectionHandler handles POST /api/projects/:project_id/postgis-connections.
// Validates the user-supplied URI against the configured loopback policy
// (spec.md §4.2, §8 edge case 6) and persists the resolved URI — never the
// raw one a caller under policy docker_rewrite submitted.
func (s *Server) createPGConnectionHandler(c *echo.Context) error {
	if err := requireEditMode(c, s.cfg); err != nil {
		return err
	}
	userID := resolveUserID(c)
	ctx := c.Request().Context()

	projectID := c.Param("project_id")
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return mapServiceError(err)
	}
	if project.OwnerUserID != userID {
		return mapServiceError(apierr.ErrNotFound)
	}

	var req createPGConnectionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := validateRequest(&req); err != nil {
		return mapServiceError(err)
	}

	resolved, rewritten, err := pgconn.ValidateURI(req.URI, s.cfg.PostGISLocalhostPolicy)
	if err != nil {
		var uriErr *pgconn.URIError
		if errors.As(err, &uriErr) {
			return mapServiceError(apierr.NewValidationError("uri", uriErr.Message))
		}
		return mapServiceError(err)
	}

	id, err := dag.GenerateID("C")
	if err != nil {
		return err
	}
	conn := &models.PGConnection{
		ID:             id,
		ProjectID:      projectID,
		ConnectionName: req.ConnectionName,
		URI:            resolved,
		CreatedAt:      time.Now(),
	}
	if err := s.store.CreatePGConnection(ctx, conn); err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusOK, pgConnectionResponse{
		ID:             conn.ID,
		ProjectID:      conn.ProjectID,
		ConnectionName: conn.ConnectionName,
		Rewritten:      rewritten,
		CreatedAt:      conn.CreatedAt,
	})
}

// listPGConnectionsHandler handles GET /api/projects/:project_id/postgis-connections.
func (s *Server) listPGConnectionsHandler(c *echo.Context) error {
	userID := resolveUserID(c)
	ctx := c.Request().Context()

	projectID := c.Param("project_id")
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return mapServiceError(err)
	}
	if project.OwnerUserID != userID {
		return mapServiceError(apierr.ErrNotFound)
	}

	conns, err := s.store.ListPGConnections(ctx, projectID)
	if err != nil {
		return mapServiceError(err)
	}

	out := make([]pgConnectionResponse, 0, len(conns))
	for _, conn := range conns {
		out = append(out, pgConnectionResponse{
			ID:                 conn.ID,
			ProjectID:          conn.ProjectID,
			ConnectionName:     conn.ConnectionName,
			LastErrorText:      conn.LastErrorText,
			LastErrorTimestamp: conn.LastErrorTimestamp,
			CreatedAt:          conn.CreatedAt,
		})
	}
	return c.JSON(http.StatusOK, out)
}
