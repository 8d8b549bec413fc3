package api

import (
	"errors"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/mundiai/agent-runtime/internal/agent"
	"github.com/mundiai/agent-runtime/internal/apierr"
	"github.com/mundiai/agent-runtime/internal/store"
)

// mapServiceError maps a domain-layer error to an HTTP error response, the
// single place spec.md §7's error kinds resolve to status codes. Grounded
// on the teacher's pkg/api/errors.go mapServiceError.
func mapServiceError(err error) *echo.HTTPError {
	var validErr *apierr.ValidationError
	if errors.As(err, &validErr) {
		return echo.NewHTTPError(http.StatusBadRequest, validErr.Error())
	}
	if errors.Is(err, apierr.ErrNotFound) || errors.Is(err, store.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "resource not found")
	}
	if errors.Is(err, apierr.ErrForbidden) {
		return echo.NewHTTPError(http.StatusForbidden, "forbidden")
	}
	if errors.Is(err, apierr.ErrConflict) || errors.Is(err, agent.ErrConversationLocked) {
		return echo.NewHTTPError(http.StatusConflict, "conflicting operation already in progress")
	}

	slog.Error("unexpected service error", "error", err)
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
}
