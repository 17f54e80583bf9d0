package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/chatbridge/core/pkg/queue"
)

type replayRequest struct {
	UpdateID int64 `json:"update_id"`
}

// replayHandler handles POST /internal/replay-update: bearer-token
// protected, enqueues a previously-stored update again (§6). Unlike the
// webhook path this never calls TryInsert — the update is already
// recorded, and re-recording it would be rejected as a duplicate — it
// goes straight to the broker. The job id is distinguished from the
// original "update-<id>" id (which the broker's 24h dedup window would
// otherwise silently swallow as a repeat) so a replay always actually
// redelivers.
func (s *Server) replayHandler(c *echo.Context) error {
	var req replayRequest
	if err := json.NewDecoder(c.Request().Body).Decode(&req); err != nil || req.UpdateID == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "update_id is required")
	}

	ctx := c.Request().Context()

	exists, err := s.updates.Exists(ctx, req.UpdateID)
	if err != nil {
		return mapIngestError(err)
	}
	if !exists {
		return echo.NewHTTPError(http.StatusNotFound, "update not found")
	}

	jobID := fmt.Sprintf("update-%d-replay-%d", req.UpdateID, time.Now().UnixNano())
	payload := []byte(fmt.Sprintf("%d", req.UpdateID))
	if err := s.updatesQueue.Enqueue(ctx, jobID, payload, queue.EnqueueOptions{}); err != nil {
		return mapIngestError(err)
	}

	return c.JSON(http.StatusOK, &ReplayResponse{UpdateID: req.UpdateID, Replayed: true})
}
