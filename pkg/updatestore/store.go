// Package updatestore provides the idempotency record for inbound transport
// updates (C2). Every update is recorded exactly once, keyed by the
// transport's own monotonically increasing update id; a second delivery of
// the same id is detected via a unique-constraint violation rather than a
// prior read, so the check-and-insert step is race-free under concurrent
// deliveries.
package updatestore

import (
	"context"
	"fmt"
	"time"

	"github.com/chatbridge/core/ent"
	"github.com/chatbridge/core/ent/processedupdate"
)

// Store records and tracks the processing status of inbound updates.
type Store struct {
	client *ent.Client
}

// New creates a Store backed by the given ent client.
func New(client *ent.Client) *Store {
	return &Store{client: client}
}

// TryInsert records a newly-seen update in "received" status. If updateID
// has already been recorded, it returns ErrAlreadyProcessed and the caller
// drops the delivery instead of re-enqueueing it (exactly-once ingestion,
// §4.2 / invariant I1).
func (s *Store) TryInsert(ctx context.Context, updateID int64, rawPayload map[string]interface{}) error {
	_, err := s.client.ProcessedUpdate.Create().
		SetUpdateID(updateID).
		SetRawPayload(rawPayload).
		SetStatus(processedupdate.StatusReceived).
		Save(ctx)
	if err != nil {
		if ent.IsConstraintError(err) {
			return ErrAlreadyProcessed
		}
		return fmt.Errorf("insert processed update %d: %w", updateID, err)
	}
	return nil
}

// MarkEnqueued transitions an update from received to enqueued, recording
// that it has been handed to the queue layer.
func (s *Store) MarkEnqueued(ctx context.Context, updateID int64) error {
	return s.setStatus(ctx, updateID, processedupdate.StatusEnqueued, nil)
}

// MarkProcessed transitions an update to processed and stamps handled_at.
func (s *Store) MarkProcessed(ctx context.Context, updateID int64) error {
	return s.setStatus(ctx, updateID, processedupdate.StatusProcessed, nil)
}

// MarkFailed transitions an update to failed, recording the error that
// caused it to give up (after retry exhaustion, per §7).
func (s *Store) MarkFailed(ctx context.Context, updateID int64, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return s.setStatus(ctx, updateID, processedupdate.StatusFailed, &msg)
}

func (s *Store) setStatus(ctx context.Context, updateID int64, status processedupdate.Status, errMsg *string) error {
	update := s.client.ProcessedUpdate.Update().
		Where(processedupdate.UpdateID(updateID)).
		SetStatus(status)

	if status == processedupdate.StatusProcessed || status == processedupdate.StatusFailed {
		update = update.SetHandledAt(time.Now().UTC())
	}
	if errMsg != nil {
		update = update.SetErrorMessage(*errMsg)
	}

	n, err := update.Save(ctx)
	if err != nil {
		return fmt.Errorf("update status of update %d: %w", updateID, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Exists reports whether updateID has ever been recorded, used by the
// replay endpoint (§6) to reject replaying an id the system never saw
// rather than silently enqueuing a job nothing will find a payload for.
func (s *Store) Exists(ctx context.Context, updateID int64) (bool, error) {
	n, err := s.client.ProcessedUpdate.Query().
		Where(processedupdate.UpdateID(updateID)).
		Count(ctx)
	if err != nil {
		return false, fmt.Errorf("check update %d exists: %w", updateID, err)
	}
	return n > 0, nil
}

// Get fetches a recorded update by id, used by the updates-queue worker to
// recover the raw payload a job only carries the id for.
func (s *Store) Get(ctx context.Context, updateID int64) (*ent.ProcessedUpdate, error) {
	row, err := s.client.ProcessedUpdate.Query().
		Where(processedupdate.UpdateID(updateID)).
		Only(ctx)
	if err != nil {
		if ent.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get processed update %d: %w", updateID, err)
	}
	return row, nil
}

// StuckSince lists updates still in "received" status older than cutoff:
// candidates for the recovery sweep to re-enqueue (§4.2, §4.6).
func (s *Store) StuckSince(ctx context.Context, cutoff time.Time, limit int) ([]*ent.ProcessedUpdate, error) {
	rows, err := s.client.ProcessedUpdate.Query().
		Where(
			processedupdate.StatusEQ(processedupdate.StatusReceived),
			processedupdate.ReceivedAtLT(cutoff),
		).
		Order(ent.Asc(processedupdate.FieldReceivedAt)).
		Limit(limit).
		All(ctx)
	if err != nil {
		return nil, fmt.Errorf("query stuck updates: %w", err)
	}
	return rows, nil
}

// DeleteOlderThan removes processed/failed rows past the retention window
// (30 days, per SPEC_FULL.md's retention sweep), mirroring the teacher's
// soft-delete-then-purge cleanup cadence but as a hard delete: a
// ProcessedUpdate row carries no information worth retaining past its
// idempotency window.
func (s *Store) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	n, err := s.client.ProcessedUpdate.Delete().
		Where(
			processedupdate.ReceivedAtLT(cutoff),
			processedupdate.StatusIn(processedupdate.StatusProcessed, processedupdate.StatusFailed),
		).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("delete old processed updates: %w", err)
	}
	return n, nil
}
