// Package audit provides an append-only, hash-chained event log (C1).
//
// Each event commits to the previous event's hash, so tampering with or
// removing a row breaks the chain for every row after it. Readers verify
// integrity by recomputing the chain forward from a known-good root.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/chatbridge/core/ent"
	"github.com/chatbridge/core/ent/auditevent"
)

// Event is the input to Append.
type Event struct {
	ActorType     string
	ActorID       string
	EventType     string
	Metadata      map[string]interface{}
	CorrelationID string // optional
}

// Critical event types must not silently fail to audit (§4.1): a failure
// to append one of these is returned to the caller instead of swallowed.
var criticalEventTypes = map[string]bool{
	"approval.decided":             true,
	"approval.expired":             true,
	"agent.turn.provider.fallback": true,
	"agent.turn.reask_blocked":     true,
}

// IsCritical reports whether eventType must propagate append failures.
func IsCritical(eventType string) bool {
	return criticalEventTypes[eventType]
}

// Chain appends to and verifies the hash-chained audit log.
type Chain struct {
	client *ent.Client
}

// New creates a Chain backed by the given ent client.
func New(client *ent.Client) *Chain {
	return &Chain{client: client}
}

// Append inserts a new audit row, chaining it to the current tip.
//
// The read-latest-then-insert step runs inside a single transaction. The tip
// read takes no lock, so two concurrent appenders can read the same tip;
// the unique index on seq then rejects the second insert, so the chain does
// not fork and the losing append fails.
// Non-critical event types log and return nil on failure instead of
// propagating the error to the caller (§4.1: "non-critical audit failures
// log and continue"); critical event types (see IsCritical) return the
// error so the caller can decide how to react.
func (c *Chain) Append(ctx context.Context, ev Event) error {
	err := c.appendTx(ctx, ev)
	if err != nil {
		if IsCritical(ev.EventType) {
			return fmt.Errorf("audit append failed for critical event %q: %w", ev.EventType, err)
		}
		slog.Warn("audit append failed (non-critical, continuing)",
			"event_type", ev.EventType, "error", err)
		return nil
	}
	return nil
}

func (c *Chain) appendTx(ctx context.Context, ev Event) error {
	tx, err := c.client.Tx(ctx)
	if err != nil {
		return fmt.Errorf("begin audit tx: %w", err)
	}
	defer tx.Rollback()

	latest, err := tx.AuditEvent.Query().
		Order(ent.Desc(auditevent.FieldSeq)).
		First(ctx)
	var prevHash *string
	nextSeq := 0
	if err != nil {
		if !ent.IsNotFound(err) {
			return fmt.Errorf("query chain tip: %w", err)
		}
	} else {
		h := latest.HashChain
		prevHash = &h
		nextSeq = latest.Seq + 1
	}

	// Truncate to microsecond precision before hashing: Postgres timestamptz
	// columns store no finer than microseconds, so hashing the untruncated
	// nanosecond-precision clock reading here would make VerifyFrom's
	// recomputation (over the value read back from the database) disagree
	// with the hash stored alongside it.
	createdAt := time.Now().UTC().Truncate(time.Microsecond)
	hash, err := computeHash(prevHash, ev.EventType, ev.Metadata, createdAt)
	if err != nil {
		return fmt.Errorf("compute hash: %w", err)
	}

	create := tx.AuditEvent.Create().
		SetSeq(nextSeq).
		SetActorType(ev.ActorType).
		SetActorID(ev.ActorID).
		SetEventType(ev.EventType).
		SetMetadata(ev.Metadata).
		SetCreatedAt(createdAt).
		SetHashChain(hash)
	if prevHash != nil {
		create = create.SetPrevHash(*prevHash)
	}
	if ev.CorrelationID != "" {
		create = create.SetCorrelationID(ev.CorrelationID)
	}

	if _, err := create.Save(ctx); err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit audit tx: %w", err)
	}
	return nil
}

// VerifyFrom recomputes the chain forward from seq 0 (or from the given
// rootHash, if non-empty, skipping rows up to and including it) and reports
// the first mismatch found. A nil error means the chain (or the verified
// suffix of it) is intact.
func (c *Chain) VerifyFrom(ctx context.Context, rootHash string) error {
	rows, err := c.client.AuditEvent.Query().
		Order(ent.Asc(auditevent.FieldSeq)).
		All(ctx)
	if err != nil {
		return fmt.Errorf("load audit rows: %w", err)
	}

	var prevHash *string
	skipping := rootHash != ""
	for _, row := range rows {
		if skipping {
			if row.HashChain == rootHash {
				skipping = false
				h := row.HashChain
				prevHash = &h
			}
			continue
		}
		want, err := computeHash(prevHash, row.EventType, row.Metadata, row.CreatedAt)
		if err != nil {
			return fmt.Errorf("recompute hash for seq %d: %w", row.Seq, err)
		}
		if want != row.HashChain {
			return fmt.Errorf("hash mismatch at seq %d: stored %q computed %q", row.Seq, row.HashChain, want)
		}
		h := row.HashChain
		prevHash = &h
	}
	if skipping {
		return fmt.Errorf("root hash %q not found in chain", rootHash)
	}
	return nil
}

// computeHash implements §6's "Audit hash": SHA-256 over
// JSON({previousHash, eventType, metadata, createdAtIso}) with lexicographic
// key ordering and no trailing whitespace.
func computeHash(prevHash *string, eventType string, metadata map[string]interface{}, createdAt time.Time) (string, error) {
	payload := map[string]interface{}{
		"previousHash": "",
		"eventType":    eventType,
		"metadata":     canonicalize(metadata),
		"createdAtIso": createdAt.UTC().Format(time.RFC3339Nano),
	}
	if prevHash != nil {
		payload["previousHash"] = *prevHash
	}

	encoded, err := canonicalJSON(payload)
	if err != nil {
		return "", err
	}

	sum := sha256.Sum256(encoded)
	return hex.EncodeToString(sum[:]), nil
}

// canonicalize recursively sorts map keys so repeated calls over
// semantically-equal metadata always serialize identically. encoding/json
// already sorts map[string]interface{} keys lexicographically when
// marshaling, but we do it explicitly to make the invariant self-documenting
// and resilient to future refactors that replace the marshaler.
func canonicalize(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make(map[string]interface{}, len(val))
		for _, k := range keys {
			out[k] = canonicalize(val[k])
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, e := range val {
			out[i] = canonicalize(e)
		}
		return out
	default:
		return v
	}
}

func canonicalJSON(v interface{}) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal canonical payload: %w", err)
	}
	return b, nil
}
