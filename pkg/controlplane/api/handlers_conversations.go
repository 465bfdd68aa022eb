package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"
)

func (s *Server) conversationsByUniverseHandler(c *echo.Context) error {
	convs, err := s.store.ByUniverse(c.Request().Context(), c.Param("id"), s.hub.Cache.StartedAt())
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, convs)
}

func (s *Server) listTurnsHandler(c *echo.Context) error {
	turns, err := s.store.TurnsByConversation(c.Request().Context(), c.Param("id"))
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, turns)
}

func (s *Server) getTurnHandler(c *echo.Context) error {
	turn, err := s.store.TurnDetail(c.Request().Context(), c.Param("id"), c.Param("turn_id"))
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, turn)
}
