// Package api is the control plane's HTTP and WebSocket surface (spec.md
// §6): worker registration/heartbeat/credentials, universe dispatch, and
// conversation/turn read endpoints, fronted by Echo v5 — grounded on the
// teacher's pkg/api/server.go wiring style (constructor takes its
// collaborators, setupRoutes registers everything up front).
package api

import (
	"context"
	"net"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"

	"github.com/sawuapara/jarvis/pkg/conversations"
	"github.com/sawuapara/jarvis/pkg/credentials"
	"github.com/sawuapara/jarvis/pkg/database"
	"github.com/sawuapara/jarvis/pkg/dispatch"
	"github.com/sawuapara/jarvis/pkg/fanout"
	"github.com/sawuapara/jarvis/pkg/registry"
	"github.com/sawuapara/jarvis/pkg/version"
)

// Server is the control plane's HTTP API server.
type Server struct {
	echo       *echo.Echo
	httpServer *http.Server

	dbClient   *database.Client
	registry   *registry.Registry
	dispatcher *dispatch.Dispatcher
	hub        *fanout.Hub
	store      *conversations.Store
	secrets    credentials.SecretStore
}

// NewServer wires an Echo instance over the control plane's collaborators.
func NewServer(
	dbClient *database.Client,
	reg *registry.Registry,
	dispatcher *dispatch.Dispatcher,
	hub *fanout.Hub,
	store *conversations.Store,
	secrets credentials.SecretStore,
) *Server {
	e := echo.New()

	s := &Server{
		echo:       e,
		dbClient:   dbClient,
		registry:   reg,
		dispatcher: dispatcher,
		hub:        hub,
		store:      store,
		secrets:    secrets,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.echo.Use(middleware.BodyLimit(2 * 1024 * 1024))
	s.echo.Use(securityHeaders())

	s.echo.GET("/health", s.healthHandler)
	s.echo.GET("/version", s.versionHandler)

	s.echo.POST("/api/workers/register", s.registerWorkerHandler)
	s.echo.POST("/api/workers/:id/heartbeat", s.heartbeatHandler)
	s.echo.POST("/api/workers/:id/deregister", s.deregisterHandler)
	s.echo.GET("/api/workers/credentials/:key_name", s.credentialHandler)
	s.echo.GET("/api/workers", s.listWorkersHandler)
	s.echo.GET("/api/workers/:id", s.getWorkerHandler)

	s.echo.POST("/api/universes/launch", s.launchUniverseHandler)
	s.echo.GET("/api/universes", s.listUniversesHandler)

	s.echo.GET("/api/conversations/by-universe/:id", s.conversationsByUniverseHandler)
	s.echo.GET("/api/conversations/:id/turns", s.listTurnsHandler)
	s.echo.GET("/api/conversations/:id/turns/:turn_id", s.getTurnHandler)

	s.echo.GET("/ws/worker/:id", s.workerWSHandler)
	s.echo.GET("/ws/universes", s.dashboardWSHandler)
}

// ServeHTTP lets a *Server stand in directly for net/http.Handler, so
// tests can wrap it with httptest.NewServer without going through Start.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// Start starts the HTTP server on addr (blocking).
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.echo}
	return s.httpServer.ListenAndServe()
}

// StartWithListener serves on a pre-created listener — used by tests that
// need a random OS-assigned port.
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

type healthResponse struct {
	Status   string                 `json:"status"`
	Version  string                 `json:"version"`
	Database *database.HealthStatus `json:"database"`
}

func (s *Server) healthHandler(c *echo.Context) error {
	reqCtx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	dbHealth, err := database.Health(reqCtx, s.dbClient.DB())
	if err != nil {
		return c.JSON(http.StatusServiceUnavailable, healthResponse{Status: "unhealthy", Database: dbHealth})
	}
	return c.JSON(http.StatusOK, healthResponse{Status: "healthy", Version: version.Full(), Database: dbHealth})
}

func (s *Server) versionHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"version": version.Full()})
}
