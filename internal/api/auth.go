package api

import (
	echo "github.com/labstack/echo/v5"

	"github.com/mundiai/agent-runtime/internal/config"
)

// demoUserID is the single synthetic identity every request resolves to
// under AuthModeEdit, spec.md §6's "edit (all users = demo)".
const demoUserID = "demo"

// resolveUserID extracts the caller's identity according to the
// configured auth mode. view_only never calls mutating handlers (they
// reject it before resolveUserID's result matters), so both modes can
// share the same resolution: trust an upstream proxy header if present,
// otherwise fall back to the shared demo identity.
func resolveUserID(c *echo.Context) string {
	if user := c.Request().Header.Get("X-Forwarded-User"); user != "" {
		return user
	}
	return demoUserID
}

// requireEditMode rejects the request with 403 when the server is running
// in view_only mode, for every handler that mutates state.
func requireEditMode(c *echo.Context, cfg *config.Config) error {
	if cfg.AuthMode == config.AuthModeViewOnly {
		return echo.NewHTTPError(403, "server is running in view-only mode")
	}
	return nil
}
