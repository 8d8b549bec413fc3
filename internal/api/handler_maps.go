package api

import (
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/mundiai/agent-runtime/internal/apierr"
	"github.com/mundiai/agent-runtime/internal/dag"
	"github.com/mundiai/agent-runtime/internal/models"
)

// createMapHandler handles POST /api/maps/create. When project_id is
// omitted a new project is created to hold the map, otherwise the map is
// appended to an existing project the caller owns.
func (s *Server) createMapHandler(c *echo.Context) error {
	if err := requireEditMode(c, s.cfg); err != nil {
		return err
	}
	userID := resolveUserID(c)

	var req createMapRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ctx := c.Request().Context()
	projectID := req.ProjectID
	if projectID == "" {
		id, err := dag.GenerateID("P")
		if err != nil {
			return err
		}
		project := &models.Project{
			ID:          id,
			OwnerUserID: userID,
			Title:       nonEmptyOr(req.Title, "Untitled project"),
			CreatedAt:   time.Now(),
			UpdatedAt:   time.Now(),
		}
		if err := s.store.CreateProject(ctx, project); err != nil {
			return mapServiceError(err)
		}
		projectID = project.ID
	} else {
		project, err := s.store.GetProject(ctx, projectID)
		if err != nil {
			return mapServiceError(err)
		}
		if project.OwnerUserID != userID {
			return mapServiceError(apierr.ErrNotFound)
		}
	}

	mapID, err := dag.NewMapID()
	if err != nil {
		return err
	}
	m := &models.Map{
		ID:          mapID,
		ProjectID:   projectID,
		Title:       nonEmptyOr(req.Title, "Untitled map"),
		Description: req.Description,
		CreatedAt:   time.Now(),
	}
	if err := s.store.CreateMap(ctx, m); err != nil {
		return mapServiceError(err)
	}
	if err := s.store.AppendMapToProject(ctx, projectID, mapID, "Initial map"); err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusOK, &mapResponse{
		ID:          m.ID,
		ProjectID:   m.ProjectID,
		Title:       m.Title,
		Description: m.Description,
		CreatedAt:   m.CreatedAt,
	})
}

// cancelMessageHandler handles POST /api/maps/:map_id/messages/cancel,
// setting the cancellation flag the running loop polls once per iteration.
func (s *Server) cancelMessageHandler(c *echo.Context) error {
	mapID := c.Param("map_id")
	if mapID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "map_id is required")
	}
	if err := s.cancel.Set(c.Request().Context(), mapID); err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, &cancelResponse{MapID: mapID, Status: "cancelled"})
}

func nonEmptyOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
