// Package api implements the HTTP/WS surface of spec.md §6: map/layer/style
// CRUD, layer byte-stream and vector-tile serving, conversation and message
// endpoints, and the agentic-loop send/cancel/updates trio. Grounded on the
// teacher's pkg/api/server.go route-registration shape and its per-endpoint
// handler_*.go file convention.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"

	"github.com/mundiai/agent-runtime/internal/agent"
	"github.com/mundiai/agent-runtime/internal/cancelflag"
	"github.com/mundiai/agent-runtime/internal/config"
	"github.com/mundiai/agent-runtime/internal/events"
	"github.com/mundiai/agent-runtime/internal/metrics"
	"github.com/mundiai/agent-runtime/internal/objectstore"
	"github.com/mundiai/agent-runtime/internal/qgis"
	"github.com/mundiai/agent-runtime/internal/store"
)

// Server is the HTTP/WS API server.
type Server struct {
	echo       *echo.Echo
	httpServer *http.Server
	cfg        *config.Config

	store       *store.Store
	objectStore *objectstore.Store
	qgis        *qgis.Client
	cancel      *cancelflag.Flags
	bus         *events.Bus
	loop        *agent.Loop
}

// NewServer creates a new API server with Echo v5 and registers all routes.
func NewServer(cfg *config.Config, st *store.Store, objStore *objectstore.Store, qgisClient *qgis.Client, cancel *cancelflag.Flags, bus *events.Bus) *Server {
	e := echo.New()
	s := &Server{
		echo:        e,
		cfg:         cfg,
		store:       st,
		objectStore: objStore,
		qgis:        qgisClient,
		cancel:      cancel,
		bus:         bus,
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// SetLoop wires the agentic loop used by the message-send endpoint.
func (s *Server) SetLoop(l *agent.Loop) {
	s.loop = l
}

// ValidateWiring checks that every Set* dependency has been provided,
// catching wiring gaps at startup rather than as 500s at request time.
func (s *Server) ValidateWiring() error {
	var errs []error
	if s.loop == nil {
		errs = append(errs, fmt.Errorf("loop not set (call SetLoop)"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("server wiring incomplete: %w", errors.Join(errs...))
	}
	return nil
}

func (s *Server) setupMiddleware() {
	s.echo.Use(middleware.BodyLimit(64 * 1024 * 1024))
	s.echo.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: s.cfg.EmbedAllowedOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost},
	}))
}

func (s *Server) setupRoutes() {
	s.echo.GET("/health", s.healthHandler)
	s.echo.GET("/metrics", echo.WrapHandler(metrics.Handler()))

	s.echo.POST("/api/maps/create", s.createMapHandler)
	s.echo.POST("/api/maps/:map_id/layers", s.uploadLayerHandler)
	s.echo.GET("/api/maps/:map_id/style.json", s.mapStyleJSONHandler)
	s.echo.POST("/api/maps/:map_id/messages/cancel", s.cancelMessageHandler)

	s.echo.GET("/api/layer/:layer_id_ext", s.layerFileHandler)
	s.echo.GET("/api/layer/:layer_id/:z/:x/:yext", s.layerTileHandler)
	s.echo.POST("/api/layers/:layer_id/style", s.setLayerStyleHandler)

	s.echo.POST("/api/projects/:project_id/postgis-connections", s.createPGConnectionHandler)
	s.echo.GET("/api/projects/:project_id/postgis-connections", s.listPGConnectionsHandler)

	s.echo.POST("/api/conversations", s.createConversationHandler)
	s.echo.GET("/api/conversations", s.listConversationsHandler)
	s.echo.GET("/api/conversations/:id/messages", s.listMessagesHandler)

	s.echo.POST("/api/maps/conversations/:conversation_id/maps/:map_id/send", s.sendMessageHandler)

	s.echo.GET("/api/maps/ws/:conversation_id/messages/updates", s.wsHandler)
}

// Start starts the HTTP server on the given address and blocks until the
// server stops; callers run it in its own goroutine.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.echo}
	return s.httpServer.ListenAndServe()
}

// StartWithListener starts the HTTP server on a pre-created listener, used
// by test infrastructure to serve on a random OS-assigned port.
func (s *Server) StartWithListener(ln net.Listener) error {
	s.httpServer = &http.Server{Handler: s.echo}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) healthHandler(c *echo.Context) error {
	reqCtx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	if err := s.store.Ping(reqCtx); err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "healthy"})
}
