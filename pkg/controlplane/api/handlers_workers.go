package api

import (
	"net/http"
	"strings"

	echo "github.com/labstack/echo/v5"

	"github.com/sawuapara/jarvis/pkg/credentials"
	"github.com/sawuapara/jarvis/pkg/models"
)

func (s *Server) registerWorkerHandler(c *echo.Context) error {
	var req models.RegisterRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	resp, err := s.registry.Register(c.Request().Context(), req)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) heartbeatHandler(c *echo.Context) error {
	var req models.HeartbeatRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	w, err := s.registry.Heartbeat(c.Request().Context(), c.Param("id"), req)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, w)
}

func (s *Server) deregisterHandler(c *echo.Context) error {
	id := c.Param("id")
	if err := s.registry.Deregister(c.Request().Context(), id); err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "deregistered", "worker_id": id})
}

func (s *Server) listWorkersHandler(c *echo.Context) error {
	workers, err := s.registry.List(c.Request().Context(), c.QueryParam("status"))
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, workers)
}

func (s *Server) getWorkerHandler(c *echo.Context) error {
	w, err := s.registry.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, w)
}

// credentialHandler serves GET /api/workers/credentials/{key_name}.
// The caller authenticates with its own worker bearer token (spec.md §4.3):
// 401 for a bad/missing token, 403 if the worker is not online, 400 for a
// key name outside the allow-list, 404 if no store has the value.
func (s *Server) credentialHandler(c *echo.Context) error {
	token := bearerToken(c.Request().Header.Get("Authorization"))
	if token == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "missing bearer token")
	}

	worker, err := s.registry.AuthenticateByTokenHash(c.Request().Context(), token)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid bearer token")
	}
	if worker.Status != models.WorkerOnline {
		return echo.NewHTTPError(http.StatusForbidden, "worker is not online")
	}

	keyName := c.Param("key_name")
	if !credentials.IsAllowed(keyName) {
		return echo.NewHTTPError(http.StatusBadRequest, "credential name not in allow-list")
	}

	value, err := credentials.Resolve(c.Request().Context(), s.secrets, keyName)
	if err != nil {
		return mapError(err)
	}

	return c.JSON(http.StatusOK, map[string]string{"key_name": keyName, "key_value": value})
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimPrefix(header, prefix)
}
