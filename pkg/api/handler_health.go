package api

import (
	"context"
	"net/http"

	echo "github.com/labstack/echo/v5"
)

// healthzHandler handles GET /healthz: liveness only, no dependency
// checks, so an orchestrator never restarts the process for a problem a
// restart can't fix (a downed Postgres or Redis).
func (s *Server) healthzHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, &HealthResponse{Status: "ok"})
}

// readyzHandler handles GET /readyz: pings the relational store and the
// updates queue's Redis backend, returning 503 on any failure per §6.
func (s *Server) readyzHandler(c *echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), readyzTimeout)
	defer cancel()

	checks := make(map[string]string)
	healthy := true

	if err := s.db.PingContext(ctx); err != nil {
		healthy = false
		checks["database"] = err.Error()
	} else {
		checks["database"] = "ok"
	}

	if _, _, _, err := s.updatesQueue.Depths(ctx); err != nil {
		healthy = false
		checks["queue"] = err.Error()
	} else {
		checks["queue"] = "ok"
	}

	status := http.StatusOK
	resp := &HealthResponse{Status: "ok", Checks: checks}
	if !healthy {
		status = http.StatusServiceUnavailable
		resp.Status = "unhealthy"
	}
	return c.JSON(status, resp)
}
