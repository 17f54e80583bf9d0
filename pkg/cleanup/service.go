// Package cleanup runs the two retention sweeps named in SPEC_FULL.md:
// trimming processed ProcessedUpdate rows (C2) and idle ConvSessions
// (C10) past their configured age.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/chatbridge/core/pkg/config"
)

// UpdateStore is the narrow slice of updatestore.Store this service needs.
type UpdateStore interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}

// ConversationStore is the narrow slice of convstore.Store this service
// needs.
type ConversationStore interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}

// Service periodically enforces retention policies. Both sweeps are
// idempotent deletes and safe to run from multiple pods.
type Service struct {
	config  *config.RetentionConfig
	updates UpdateStore
	convs   ConversationStore

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a cleanup Service.
func NewService(cfg *config.RetentionConfig, updates UpdateStore, convs ConversationStore) *Service {
	return &Service{config: cfg, updates: updates, convs: convs}
}

// Start launches the background cleanup loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("Cleanup service started",
		"update_retention", s.config.UpdateRetention,
		"session_retention", s.config.SessionRetention,
		"interval", s.config.CleanupInterval)
}

// Stop signals the cleanup loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("Cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.runAll(ctx)

	ticker := time.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runAll(ctx)
		}
	}
}

func (s *Service) runAll(ctx context.Context) {
	s.deleteOldUpdates(ctx)
	s.deleteOldSessions(ctx)
}

func (s *Service) deleteOldUpdates(ctx context.Context) {
	cutoff := time.Now().Add(-s.config.UpdateRetention)
	count, err := s.updates.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		slog.Error("Retention: processed-update cleanup failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("Retention: deleted processed updates", "count", count)
	}
}

func (s *Service) deleteOldSessions(ctx context.Context) {
	cutoff := time.Now().Add(-s.config.SessionRetention)
	count, err := s.convs.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		slog.Error("Retention: session cleanup failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("Retention: deleted idle sessions", "count", count)
	}
}
