package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/sawuapara/jarvis/pkg/models"
)

func (s *Server) requireManager(c *echo.Context) bool {
	if s.mgr == nil {
		c.JSON(http.StatusServiceUnavailable, map[string]string{"detail": "Manager not initialized"})
		return false
	}
	return true
}

func (s *Server) launchHandler(c *echo.Context) error {
	if !s.requireManager(c) {
		return nil
	}

	var req models.LaunchUniverseRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"detail": err.Error()})
	}

	universe, err := s.mgr.LaunchUniverse(c.Request().Context(), req.Name, req.DimensionID, req.WorktreePath, req.Agents)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"detail": err.Error()})
	}

	return c.JSON(http.StatusOK, map[string]string{"universe_id": universe.ID, "status": "launched"})
}

func (s *Server) listUniversesHandler(c *echo.Context) error {
	if s.mgr == nil {
		return c.JSON(http.StatusOK, map[string]any{"universes": []*models.Universe{}})
	}
	return c.JSON(http.StatusOK, map[string]any{"universes": s.mgr.Universes()})
}

func (s *Server) getUniverseHandler(c *echo.Context) error {
	if !s.requireManager(c) {
		return nil
	}

	universe, ok := s.mgr.Universe(c.Param("id"))
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"detail": "Universe not found"})
	}
	return c.JSON(http.StatusOK, universe)
}

func (s *Server) addAgentHandler(c *echo.Context) error {
	if !s.requireManager(c) {
		return nil
	}

	var req models.AddAgentRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"detail": err.Error()})
	}

	agent, err := s.mgr.LaunchAgent(c.Request().Context(), c.Param("id"), req.Name, req.Role, req.Model, req.Task)
	if err != nil {
		return c.JSON(http.StatusNotFound, map[string]string{"detail": err.Error()})
	}

	return c.JSON(http.StatusOK, map[string]string{"agent_id": agent.ID, "status": "launched"})
}
