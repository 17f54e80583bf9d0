package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/chatbridge/core/pkg/ingestion"
)

const maxWebhookBodyBytes = 1 << 20 // 1 MiB, comfortably under the server-wide BodyLimit

// webhookHandler handles POST /:transport/webhook[/:secret]: persist-then-
// ack, then enqueue asynchronously (§6). The whole decoded JSON body is
// stored as the update's raw payload; the queue worker that later picks
// up the job is responsible for re-decoding it into whatever shape the
// named transport's events take.
func (s *Server) webhookHandler(c *echo.Context) error {
	name := c.Param("transport")
	pipeline, ok := s.pipelines[name]
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "unknown transport")
	}

	if err := s.checkWebhookAuth(c, name); err != nil {
		return err
	}

	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBodyBytes+1))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "failed to read body")
	}
	if len(body) > maxWebhookBodyBytes {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "body too large")
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return mapIngestError(fmt.Errorf("%w: %v", ingestion.ErrInvalidPayload, err))
	}

	updateID, err := extractUpdateID(raw)
	if err != nil {
		return mapIngestError(err)
	}

	duplicate, err := pipeline.Ingest(c.Request().Context(), updateID, raw)
	if err != nil {
		return mapIngestError(err)
	}

	return c.JSON(http.StatusOK, &WebhookResponse{Duplicate: duplicate, UpdateID: updateID})
}

// checkWebhookAuth verifies the header and/or URL-segment secret
// configured for the named transport, per §6's "authenticates via header
// X-...-Secret-Token and/or URL segment". A transport registered with no
// auth configured (WebhookAuth{}) accepts any caller.
func (s *Server) checkWebhookAuth(c *echo.Context, transport string) error {
	auth, ok := s.webhookAuth[transport]
	if !ok || auth.Secret == "" {
		return nil
	}

	if c.Param("secret") != "" && secureCompare(c.Param("secret"), auth.Secret) {
		return nil
	}
	if auth.HeaderName != "" && secureCompare(c.Request().Header.Get(auth.HeaderName), auth.Secret) {
		return nil
	}
	return echo.NewHTTPError(http.StatusUnauthorized, "invalid webhook secret")
}

// extractUpdateID pulls the transport's own monotonic update identifier
// out of the decoded body, trying the field names observed across the
// transports this core has adapters for (§6 calls it generically
// "update_id"; platform webhooks often name it update_id or event_id).
func extractUpdateID(raw map[string]interface{}) (int64, error) {
	for _, field := range []string{"update_id", "event_id"} {
		v, ok := raw[field]
		if !ok {
			continue
		}
		switch n := v.(type) {
		case float64:
			return int64(n), nil
		case string:
			var id int64
			if _, err := fmt.Sscanf(n, "%d", &id); err == nil {
				return id, nil
			}
		}
	}
	return 0, fmt.Errorf("%w: missing update_id/event_id field", ingestion.ErrInvalidPayload)
}
