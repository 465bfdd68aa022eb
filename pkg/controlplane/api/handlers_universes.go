package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/sawuapara/jarvis/pkg/models"
)

func (s *Server) launchUniverseHandler(c *echo.Context) error {
	var req models.LaunchUniverseDispatchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	resp, err := s.dispatcher.Launch(c.Request().Context(), req)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, resp)
}

// listUniversesHandler serves GET /api/universes from the in-memory
// fan-out cache (spec.md §4.5) — there is no durable universe table, only
// the conversation/turn record of what agents did.
func (s *Server) listUniversesHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, s.hub.Cache.Snapshot())
}
