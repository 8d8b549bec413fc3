package api

import (
	echo "github.com/labstack/echo/v5"

	"github.com/coder/websocket"
)

// wsHandler handles WS /api/maps/ws/:conversation_id/messages/updates:
// upgrades the connection and delegates to the Bus for the lifetime of
// the socket. Grounded on the teacher's pkg/api/handler_ws.go
// accept-then-delegate shape.
func (s *Server) wsHandler(c *echo.Context) error {
	conversationID := c.Param("conversation_id")
	userID := resolveUserID(c)

	conn, err := websocket.Accept(c.Response(), c.Request(), &websocket.AcceptOptions{
		OriginPatterns: s.allowedOriginPatterns(),
	})
	if err != nil {
		return err
	}

	s.bus.HandleConnection(c.Request().Context(), conn, userID, conversationID)
	return nil
}

// allowedOriginPatterns returns the configured embed allowlist, or nil
// (coder/websocket's default same-origin check) when none is configured.
func (s *Server) allowedOriginPatterns() []string {
	if len(s.cfg.EmbedAllowedOrigins) == 0 {
		return nil
	}
	return s.cfg.EmbedAllowedOrigins
}
