package api

import (
	"errors"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/sawuapara/jarvis/pkg/conversations"
	"github.com/sawuapara/jarvis/pkg/credentials"
	"github.com/sawuapara/jarvis/pkg/dispatch"
	"github.com/sawuapara/jarvis/pkg/registry"
)

// mapError maps domain-layer errors to the HTTP status codes spec.md §6
// and §7 call for.
func mapError(err error) *echo.HTTPError {
	switch {
	case errors.Is(err, registry.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "worker not found")
	case errors.Is(err, conversations.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "turn not found")
	case errors.Is(err, credentials.ErrNotAllowed):
		return echo.NewHTTPError(http.StatusBadRequest, "credential name not in allow-list")
	case errors.Is(err, credentials.ErrKeyNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "credential not found")
	case errors.Is(err, dispatch.ErrNoWorkerAvailable):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "no worker available")
	}

	var rejected *dispatch.ErrWorkerRejected
	if errors.As(err, &rejected) {
		return echo.NewHTTPError(http.StatusBadGateway, "worker rejected launch")
	}

	slog.Error("controlplane/api: unexpected error", "error", err)
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
}
