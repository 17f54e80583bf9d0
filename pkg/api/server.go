// Package api provides the thin HTTP surface named in §6: a webhook
// ingress, liveness/readiness probes, and an internal replay endpoint.
// None of this is part of the hard core — it exists only to get updates
// from a transport into the ingestion pipeline and to let an operator
// observe or nudge the system from outside.
package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"

	"github.com/chatbridge/core/pkg/ingestion"
	"github.com/chatbridge/core/pkg/queue"
)

// Server is the HTTP API server: webhook ingress plus health/replay.
type Server struct {
	echo       *echo.Echo
	httpServer *http.Server

	db           Pinger
	updatesQueue *queue.Broker

	pipelines    map[string]*ingestion.Pipeline // transport name -> pipeline
	webhookAuth  map[string]WebhookAuth         // transport name -> secret config
	replayBearer string                         // empty disables the endpoint (fails closed)

	updates ReplayLookup
}

// Pinger is the subset of *sql.DB readyz needs — pass dbClient.DB().
type Pinger interface {
	PingContext(ctx context.Context) error
}

// ReplayLookup is the subset of *updatestore.Store the replay endpoint
// needs to confirm an update id actually exists before re-enqueuing it.
type ReplayLookup interface {
	Exists(ctx context.Context, updateID int64) (bool, error)
}

// WebhookAuth names the header and/or URL-segment secret a transport's
// webhook route checks before handing the body to ingestion, per §6's
// "authenticates via header X-...-Secret-Token and/or URL segment".
type WebhookAuth struct {
	HeaderName string // e.g. "X-Slack-Secret-Token"; empty skips header check
	Secret     string // URL segment and/or header value expected
}

// NewServer creates a new API server with routes registered. db and
// updatesQueue back /readyz; replayBearer is the bearer token
// /internal/replay-update requires (an empty value disables the route
// entirely rather than accepting an unauthenticated call).
func NewServer(db Pinger, updatesQueue *queue.Broker, updates ReplayLookup, replayBearer string) *Server {
	e := echo.New()

	s := &Server{
		echo:         e,
		db:           db,
		updatesQueue: updatesQueue,
		pipelines:    make(map[string]*ingestion.Pipeline),
		webhookAuth:  make(map[string]WebhookAuth),
		updates:      updates,
		replayBearer: replayBearer,
	}

	s.echo.Use(middleware.BodyLimit(2 * 1024 * 1024))
	s.echo.Use(securityHeaders())
	s.setupRoutes()
	return s
}

// RegisterTransport wires a transport's webhook route. name appears in the
// route path (POST /<name>/webhook/<secret>); pipeline is the ingestion
// pipeline that transport's updates feed into.
func (s *Server) RegisterTransport(name string, pipeline *ingestion.Pipeline, auth WebhookAuth) {
	s.pipelines[name] = pipeline
	s.webhookAuth[name] = auth
}

// ValidateWiring checks that at least one transport has been registered.
// Call after all RegisterTransport calls and before Start.
func (s *Server) ValidateWiring() error {
	if len(s.pipelines) == 0 {
		return fmt.Errorf("server wiring incomplete: no transport registered (call RegisterTransport)")
	}
	return nil
}

func (s *Server) setupRoutes() {
	s.echo.GET("/healthz", s.healthzHandler)
	s.echo.GET("/readyz", s.readyzHandler)
	s.echo.POST("/internal/replay-update", s.replayHandler, bearerAuth(func() string { return s.replayBearer }))
	s.echo.POST("/:transport/webhook", s.webhookHandler)
	s.echo.POST("/:transport/webhook/:secret", s.webhookHandler)
}

// Start starts the HTTP server on the given address and blocks until the
// server stops.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.echo}
	return s.httpServer.ListenAndServe()
}

// StartWithListener starts the HTTP server on a pre-created listener, used
// by tests to serve on a random OS-assigned port.
func (s *Server) StartWithListener(ln net.Listener) error {
	s.httpServer = &http.Server{Handler: s.echo}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

const readyzTimeout = 5 * time.Second
