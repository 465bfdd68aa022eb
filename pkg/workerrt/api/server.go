// Package api is the worker's local HTTP surface (spec.md §6): health,
// info, and on-demand universe/agent launch, fronted by Echo v5 and
// grounded on original_source/backend/src/worker/server.py, following the
// control plane's pkg/controlplane/api wiring style.
package api

import (
	"context"
	"net"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"

	"github.com/sawuapara/jarvis/pkg/version"
	"github.com/sawuapara/jarvis/pkg/workerrt/config"
	"github.com/sawuapara/jarvis/pkg/workerrt/manager"
)

// Server is the worker's local HTTP API server.
type Server struct {
	echo       *echo.Echo
	httpServer *http.Server

	cfg       config.Config
	mgr       *manager.Manager
	startedAt time.Time
}

// NewServer wires an Echo instance over the worker's collaborators. mgr may
// be nil before the manager is constructed. In that case /launch,
// /universes/:id and /universes/:id/agents return 503, matching server.py's
// "Manager not initialized" behavior; /universes returns an empty list, and
// /health, /version and /info still answer 200.
func NewServer(cfg config.Config, mgr *manager.Manager) *Server {
	e := echo.New()
	s := &Server{echo: e, cfg: cfg, mgr: mgr, startedAt: time.Now()}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.echo.Use(middleware.BodyLimit(2 * 1024 * 1024))

	s.echo.GET("/health", s.healthHandler)
	s.echo.GET("/version", s.versionHandler)
	s.echo.GET("/info", s.infoHandler)
	s.echo.POST("/launch", s.launchHandler)
	s.echo.GET("/universes", s.listUniversesHandler)
	s.echo.GET("/universes/:id", s.getUniverseHandler)
	s.echo.POST("/universes/:id/agents", s.addAgentHandler)
}

// ServeHTTP lets a *Server stand in directly for net/http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// Start starts the HTTP server on addr (blocking).
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.echo}
	return s.httpServer.ListenAndServe()
}

// StartWithListener serves on a pre-created listener.
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
	Status string `json:"status"`
}

func (s *Server) healthHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, healthResponse{Status: "healthy"})
}

func (s *Server) versionHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"version": version.Full()})
}

type infoResponse struct {
	WorkerID            string   `json:"worker_id"`
	WorkerName          string   `json:"worker_name"`
	Hostname            string   `json:"hostname"`
	Status              string   `json:"status"`
	CurrentAgents       int      `json:"current_agents"`
	MaxConcurrentAgents int      `json:"max_concurrent_agents"`
	ActiveUniverses     int      `json:"active_universes,omitempty"`
	Capabilities        []string `json:"capabilities"`
	UptimeSeconds       float64  `json:"uptime_seconds"`
	APIURL              string   `json:"api_url"`
	Version             string   `json:"version"`
}

func (s *Server) infoHandler(c *echo.Context) error {
	resp := infoResponse{
		WorkerID:            s.cfg.WorkerID,
		WorkerName:          s.cfg.WorkerName,
		Hostname:            s.cfg.WorkerName,
		Status:              "online",
		MaxConcurrentAgents: s.cfg.Capacity,
		Capabilities:        s.cfg.Capabilities,
		UptimeSeconds:       time.Since(s.startedAt).Seconds(),
		APIURL:              s.cfg.APIURL,
		Version:             version.Full(),
	}
	if s.mgr != nil {
		status := s.mgr.GetStatus()
		resp.CurrentAgents = status.RunningAgents
		resp.ActiveUniverses = status.ActiveUniverses
	}
	return c.JSON(http.StatusOK, resp)
}
