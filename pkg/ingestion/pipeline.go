// Package ingestion implements the two-transport-mode ingestion contract
// (C6): record an update exactly once, hand it to the queue layer, and run
// a recovery sweep so no durably-recorded update is ever lost even if the
// queue backing store was briefly unavailable at ingest time.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chatbridge/core/ent"
	"github.com/chatbridge/core/pkg/queue"
	"github.com/chatbridge/core/pkg/updatestore"
)

// Store is the subset of *updatestore.Store the pipeline needs; narrowed to
// an interface so tests can substitute a fake instead of a live database.
type Store interface {
	TryInsert(ctx context.Context, updateID int64, rawPayload map[string]interface{}) error
	MarkEnqueued(ctx context.Context, updateID int64) error
	StuckSince(ctx context.Context, cutoff time.Time, limit int) ([]*ent.ProcessedUpdate, error)
}

// Enqueuer is the subset of *queue.Broker the pipeline needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, jobID string, payload []byte, opts queue.EnqueueOptions) error
}

// ErrInvalidPayload is returned by callers' own decoding step (the
// webhook handler) when an inbound body can't be parsed into an update
// id; kept here so the HTTP layer and the pipeline share one sentinel.
var ErrInvalidPayload = errors.New("ingestion: invalid update payload")

// sweepInterval matches §4.6's "runs every 5s at service start and forever".
const sweepInterval = 5 * time.Second

// stuckThreshold is how long an update may sit in "received" before the
// sweep considers it abandoned by the original enqueue attempt and
// re-drives it. Comfortably larger than sweepInterval so an update isn't
// raced by its own original ingest call.
const stuckThreshold = 2 * time.Minute

// sweepBatch caps how many stuck updates one sweep tick re-enqueues, so a
// large backlog doesn't stall the tick.
const sweepBatch = 200

// Pipeline ingests updates from either a push (webhook) or pull (poll)
// transport into the durable update store and the updates queue.
type Pipeline struct {
	store  Store
	broker Enqueuer

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a Pipeline. broker must be the "updates" queue's Broker.
func New(store Store, broker Enqueuer) *Pipeline {
	return &Pipeline{
		store:  store,
		broker: broker,
		stopCh: make(chan struct{}),
	}
}

// Ingest records updateID exactly once and enqueues it for routing
// (§4.6 steps 1-2). Both push and pull transports call this; the caller
// (an HTTP handler for push, a poll loop for pull) decides when to
// acknowledge the transport, per step 3 — Ingest itself always durably
// inserts before returning, so callers in push mode may ack immediately
// after a nil error without waiting for the enqueue sub-step, since a
// failed enqueue here is caught by the recovery sweep.
func (p *Pipeline) Ingest(ctx context.Context, updateID int64, rawPayload map[string]interface{}) (duplicate bool, err error) {
	insertErr := p.store.TryInsert(ctx, updateID, rawPayload)
	if insertErr != nil {
		if errors.Is(insertErr, updatestore.ErrAlreadyProcessed) {
			return true, nil // duplicate delivery: acknowledge and stop (I1)
		}
		return false, fmt.Errorf("record update %d: %w", updateID, insertErr)
	}

	if err := p.enqueueAndMark(ctx, updateID); err != nil {
		// Left in "received"; the recovery sweep will retry. Not an error
		// the caller needs to react to beyond logging, since the durable
		// insert (the part that matters for exactly-once) already
		// succeeded.
		slog.Warn("enqueue after ingest failed, recovery sweep will retry", "update_id", updateID, "error", err)
	}
	return false, nil
}

func (p *Pipeline) enqueueAndMark(ctx context.Context, updateID int64) error {
	jobID := fmt.Sprintf("update-%d", updateID)
	if err := p.broker.Enqueue(ctx, jobID, []byte(fmt.Sprintf("%d", updateID)), queue.EnqueueOptions{}); err != nil {
		return fmt.Errorf("enqueue %s: %w", jobID, err)
	}
	if err := p.store.MarkEnqueued(ctx, updateID); err != nil {
		return fmt.Errorf("mark update %d enqueued: %w", updateID, err)
	}
	return nil
}

// StartRecoverySweep runs the periodic sweep in a goroutine until Stop is
// called or ctx is cancelled. Safe to call once.
func (p *Pipeline) StartRecoverySweep(ctx context.Context) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.runSweepLoop(ctx)
	}()
}

// Stop signals the recovery sweep to stop and waits for it to finish.
func (p *Pipeline) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()
}

func (p *Pipeline) runSweepLoop(ctx context.Context) {
	p.sweepOnce(ctx) // run immediately at service start, per §4.6

	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.sweepOnce(ctx)
		}
	}
}

// sweepOnce lists updates stuck in "received" and re-enqueues each. A
// failure to re-enqueue leaves the row in "received" (it already is) so
// the next tick retries — no explicit re-mark needed, unlike a design
// where the row could have moved to another state in between.
func (p *Pipeline) sweepOnce(ctx context.Context) {
	cutoff := time.Now().Add(-stuckThreshold)
	stuck, err := p.store.StuckSince(ctx, cutoff, sweepBatch)
	if err != nil {
		slog.Error("recovery sweep: list stuck updates failed", "error", err)
		return
	}
	if len(stuck) == 0 {
		return
	}

	slog.Info("recovery sweep: re-enqueuing stuck updates", "count", len(stuck))
	for _, row := range stuck {
		if err := p.enqueueAndMark(ctx, row.UpdateID); err != nil {
			slog.Warn("recovery sweep: re-enqueue failed, will retry next tick", "update_id", row.UpdateID, "error", err)
		}
	}
}
