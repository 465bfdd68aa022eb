package api

import (
	"github.com/coder/websocket"
	echo "github.com/labstack/echo/v5"
)

// workerWSHandler upgrades WS /ws/worker/{id}: one persistent connection
// per worker, read until it closes.
func (s *Server) workerWSHandler(c *echo.Context) error {
	conn, err := websocket.Accept(c.Response(), c.Request(), &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		return err
	}
	s.hub.HandleWorkerConnection(c.Request().Context(), c.Param("id"), conn)
	return nil
}

// dashboardWSHandler upgrades WS /ws/universes: sends the initial snapshot
// frame, then relays every subsequent worker event.
func (s *Server) dashboardWSHandler(c *echo.Context) error {
	conn, err := websocket.Accept(c.Response(), c.Request(), &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		return err
	}
	s.hub.HandleDashboardConnection(c.Request().Context(), conn)
	return nil
}
