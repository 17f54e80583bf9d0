package approval

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/chatbridge/core/ent"
	"github.com/chatbridge/core/ent/approval"
	"github.com/chatbridge/core/pkg/queue"
)

// Notifier lets the expiry/countdown workers update the approval card in
// the chat without this package knowing anything about transport adapters.
type Notifier interface {
	// EditApprovalCard rewrites the prompt message for an approval (e.g. to
	// show "expired" or a remaining-time countdown). messageID may be empty
	// if no prompt message was ever tracked, in which case the notifier
	// should send a fresh message instead of editing.
	EditApprovalCard(ctx context.Context, sessionID, messageID, text string) error
}

// ExpiryHandler builds a queue.Handler that transitions a due approval to
// expired and tells the user, per §4.8's expiry behavior.
func (e *Engine) ExpiryHandler(notifier Notifier) queue.Handler {
	return func(ctx context.Context, job *queue.Job) error {
		var payload expiryJobPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return fmt.Errorf("decode expiry payload: %w", err)
		}

		row, err := e.expireIfDue(ctx, payload.ApprovalID)
		if err != nil {
			return fmt.Errorf("expire approval %s: %w", payload.ApprovalID, err)
		}
		if row == nil {
			return nil // already decided before the expiry job fired
		}

		messageID := ""
		if row.PromptMessageID != nil {
			messageID = *row.PromptMessageID
		}
		if err := notifier.EditApprovalCard(ctx, row.SessionID, messageID, expiredCardText(row)); err != nil {
			return fmt.Errorf("notify expiry for approval %s: %w", payload.ApprovalID, err)
		}
		return nil
	}
}

// CountdownHandler builds a queue.Handler that refreshes the approval card
// with a remaining-time display and re-schedules itself until the approval
// is decided or expires.
func (e *Engine) CountdownHandler(notifier Notifier) queue.Handler {
	return func(ctx context.Context, job *queue.Job) error {
		var payload countdownJobPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return fmt.Errorf("decode countdown payload: %w", err)
		}

		row, err := e.client.Approval.Get(ctx, payload.ApprovalID)
		if err != nil {
			if ent.IsNotFound(err) {
				return nil
			}
			return fmt.Errorf("get approval %s: %w", payload.ApprovalID, err)
		}
		if row.Status != approval.StatusRequested {
			return nil // decided or already expired; nothing left to refresh
		}

		remaining := time.Until(row.ExpiresAt)
		if remaining <= 0 {
			return nil // the expiry job will handle this delivery
		}

		messageID := ""
		if row.PromptMessageID != nil {
			messageID = *row.PromptMessageID
		}
		if err := notifier.EditApprovalCard(ctx, row.SessionID, messageID, countdownCardText(row, remaining)); err != nil {
			return fmt.Errorf("notify countdown for approval %s: %w", payload.ApprovalID, err)
		}

		next := countdownInterval
		if remaining < next {
			next = remaining
		}
		return e.scheduleCountdown(ctx, payload.ApprovalID, next)
	}
}

// expireIfDue transitions row to expired if it is still requested and past
// its TTL. Returns (nil, nil) if there is nothing to do (already decided,
// already expired, or somehow not yet due).
func (e *Engine) expireIfDue(ctx context.Context, approvalID string) (*ent.Approval, error) {
	row, err := e.client.Approval.Get(ctx, approvalID)
	if err != nil {
		if ent.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get approval %s: %w", approvalID, err)
	}
	if row.Status != approval.StatusRequested {
		return nil, nil
	}
	if time.Now().Before(row.ExpiresAt) {
		return nil, nil
	}
	return e.transitionExpired(ctx, row)
}

func expiredCardText(row *ent.Approval) string {
	return fmt.Sprintf("⏱ Approval request for `%s` expired without a decision.", row.ToolName)
}

func countdownCardText(row *ent.Approval, remaining time.Duration) string {
	secs := int(remaining.Round(time.Second).Seconds())
	return fmt.Sprintf("Approval request for `%s` — %ds remaining.", row.ToolName, secs)
}
