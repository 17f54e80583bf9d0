package api

import (
	"errors"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/chatbridge/core/pkg/ingestion"
)

// mapIngestError maps ingestion-layer errors to HTTP responses, mirroring
// the teacher's mapServiceError sentinel-to-status translation.
func mapIngestError(err error) *echo.HTTPError {
	if errors.Is(err, ingestion.ErrInvalidPayload) {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid update payload")
	}

	slog.Error("unexpected ingestion error", "error", err)
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
}
