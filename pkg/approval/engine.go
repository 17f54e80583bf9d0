// Package approval implements the Approval Engine (C8): the two-phase
// human-in-the-loop gate on sensitive tool calls, including the
// cautious-mode double-tap confirmation and the expiry/countdown workers
// that keep a pending approval's card honest.
package approval

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/chatbridge/core/ent"
	"github.com/chatbridge/core/ent/approval"
	"github.com/chatbridge/core/pkg/agent"
	"github.com/chatbridge/core/pkg/audit"
	"github.com/chatbridge/core/pkg/queue"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// approvalTTL is the "now + 5 min" window from §4.8.
const approvalTTL = 5 * time.Minute

// countdownInterval is the refresh cadence; the worker re-schedules itself
// at min(countdownInterval, time-to-expiry).
const countdownInterval = 30 * time.Second

// intentMarkerTTL is the cautious-mode double-tap window.
const intentMarkerTTL = 30 * time.Second

// callbackTokenBytes yields 16 URL-safe base64 characters (12 random
// bytes), treating the spec's "14-16 chars" as a floor per the recorded
// open-question decision.
const callbackTokenBytes = 12

var (
	// ErrNotRequested is returned by Decide when the approval is not in the
	// requested state.
	ErrNotRequested = fmt.Errorf("approval is not in the requested state")
	// ErrExpired is returned by Decide when the approval's TTL has passed.
	ErrExpired = fmt.Errorf("approval has expired")
)

// Enqueuer is the subset of *queue.Broker the engine needs to schedule the
// expiry and countdown jobs.
type Enqueuer interface {
	Enqueue(ctx context.Context, jobID string, payload []byte, opts queue.EnqueueOptions) error
}

// AuditLogger is the subset of *audit.Chain the engine needs.
type AuditLogger interface {
	Append(ctx context.Context, ev audit.Event) error
}

// Engine creates, decides, and expires approvals.
type Engine struct {
	client    *ent.Client
	rdb       redis.UniversalClient
	timeouts  Enqueuer
	countdown Enqueuer
	auditLog  AuditLogger

	// toolClasses maps a tool name to its risk class for AssessRisk; a tool
	// absent from the map defaults to ToolRiskClassWrite, the conservative
	// choice for an unclassified sensitive action.
	toolClasses map[string]ToolRiskClass
}

// New creates an Engine. toolClasses may be nil; unknown tools default to
// ToolRiskClassWrite.
func New(client *ent.Client, rdb redis.UniversalClient, timeouts, countdown Enqueuer, auditLog AuditLogger, toolClasses map[string]ToolRiskClass) *Engine {
	return &Engine{client: client, rdb: rdb, timeouts: timeouts, countdown: countdown, auditLog: auditLog, toolClasses: toolClasses}
}

// expiryJobPayload and countdownJobPayload are the wire payloads for the
// two delayed job kinds this package schedules.
type expiryJobPayload struct {
	ApprovalID string `json:"approval_id"`
}

type countdownJobPayload struct {
	ApprovalID string `json:"approval_id"`
}

// Register implements agent.ApprovalRegistrar: it classifies and persists a
// new pending approval and schedules its expiry/countdown jobs (§4.8's
// creation step). The returned RegisteredApproval.RiskLevel lets the
// executor mark the corresponding ToolApprovalRequestPart.
func (e *Engine) Register(ctx context.Context, req agent.ApprovalRequest) (agent.RegisteredApproval, error) {
	class := e.toolClasses[req.ToolName]
	if class == "" {
		class = ToolRiskClassWrite
	}
	level, confidence := AssessRisk(req.ToolName, req.ToolInput, class, req.RiskProfile)

	approvalID := uuid.NewString()
	token, err := newCallbackToken()
	if err != nil {
		return agent.RegisteredApproval{}, fmt.Errorf("generate callback token: %w", err)
	}
	now := time.Now()
	expiresAt := now.Add(approvalTTL)

	_, err = e.client.Approval.Create().
		SetID(approvalID).
		SetCallbackToken(token).
		SetSessionID(req.SessionID).
		SetToolCallID(req.ToolCallID).
		SetToolName(req.ToolName).
		SetToolInput(req.ToolInput).
		SetRiskLevel(approval.RiskLevel(level)).
		SetRiskConfidence(string(confidence)).
		SetStatus(approval.StatusRequested).
		SetExpiresAt(expiresAt).
		Save(ctx)
	if err != nil {
		return agent.RegisteredApproval{}, fmt.Errorf("create approval: %w", err)
	}

	if err := e.auditLog.Append(ctx, audit.Event{
		ActorType:     "system",
		ActorID:       "approval-engine",
		EventType:     "approval.requested",
		CorrelationID: req.CorrelationID,
		Metadata: map[string]interface{}{
			"approval_id": approvalID, "session_id": req.SessionID,
			"tool_name": req.ToolName, "risk_level": string(level),
		},
	}); err != nil {
		return agent.RegisteredApproval{}, fmt.Errorf("audit approval.requested: %w", err)
	}

	if err := e.scheduleExpiry(ctx, approvalID, approvalTTL); err != nil {
		return agent.RegisteredApproval{}, fmt.Errorf("schedule expiry: %w", err)
	}
	if err := e.scheduleCountdown(ctx, approvalID, countdownInterval); err != nil {
		return agent.RegisteredApproval{}, fmt.Errorf("schedule countdown: %w", err)
	}

	return agent.RegisteredApproval{ApprovalID: approvalID, RiskLevel: string(level)}, nil
}

// PendingCount implements agent.ApprovalRegistrar.
func (e *Engine) PendingCount(ctx context.Context, sessionID string) (int, error) {
	n, err := e.client.Approval.Query().
		Where(approval.SessionID(sessionID), approval.StatusEQ(approval.StatusRequested)).
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("count pending approvals for session %s: %w", sessionID, err)
	}
	return n, nil
}

// DecisionOutcome is what Decide hands back to the router, which turns it
// into a follow-up TurnExecutionRequest.
type DecisionOutcome struct {
	// AwaitingConfirmation is true when this tap only recorded the
	// cautious-mode intent marker; no decision was made yet.
	AwaitingConfirmation bool

	ApprovalID string
	SessionID  string
	ToolCallID string
	Decided    agent.Decision
}

// Decide implements §4.8's decision logic, including the cautious-mode
// double-tap. riskProfile is the deciding user's effective risk profile
// (looked up by the caller from preferences, since the approval row itself
// only knows the risk *level* of the action, not the user's profile).
func (e *Engine) Decide(ctx context.Context, approvalID, actorID string, decision agent.Decision, riskProfile agent.RiskProfile) (DecisionOutcome, error) {
	row, err := e.client.Approval.Get(ctx, approvalID)
	if err != nil {
		if ent.IsNotFound(err) {
			return DecisionOutcome{}, fmt.Errorf("approval %s: %w", approvalID, ErrNotRequested)
		}
		return DecisionOutcome{}, fmt.Errorf("get approval %s: %w", approvalID, err)
	}

	if row.Status != approval.StatusRequested {
		return DecisionOutcome{}, fmt.Errorf("approval %s: already %s: %w", approvalID, row.Status, ErrNotRequested)
	}
	if time.Now().After(row.ExpiresAt) {
		if _, err := e.transitionExpired(ctx, row); err != nil {
			return DecisionOutcome{}, err
		}
		return DecisionOutcome{}, fmt.Errorf("approval %s: %w", approvalID, ErrExpired)
	}

	needsDoubleTap := (row.RiskLevel == approval.RiskLevelHigh || row.RiskLevel == approval.RiskLevelCritical) &&
		riskProfile == agent.RiskProfileCautious
	if needsDoubleTap {
		confirmed, err := e.consumeIntentMarker(ctx, approvalID, actorID)
		if err != nil {
			return DecisionOutcome{}, fmt.Errorf("cautious double-tap check: %w", err)
		}
		if !confirmed {
			return DecisionOutcome{ApprovalID: approvalID, AwaitingConfirmation: true}, nil
		}
	}

	status := approval.StatusDenied
	if decision == agent.DecisionApproved {
		status = approval.StatusApproved
	}

	updated, err := e.client.Approval.UpdateOneID(approvalID).
		SetStatus(status).
		SetDecidedBy(actorID).
		SetDecidedAt(time.Now()).
		Save(ctx)
	if err != nil {
		return DecisionOutcome{}, fmt.Errorf("transition approval %s: %w", approvalID, err)
	}

	if err := e.auditLog.Append(ctx, audit.Event{
		ActorType: "user",
		ActorID:   actorID,
		EventType: "approval.decided",
		Metadata: map[string]interface{}{
			"approval_id": approvalID, "session_id": updated.SessionID, "status": string(status),
		},
	}); err != nil {
		return DecisionOutcome{}, fmt.Errorf("audit approval.decided: %w", err)
	}

	return DecisionOutcome{ApprovalID: approvalID, SessionID: updated.SessionID, ToolCallID: updated.ToolCallID, Decided: decision}, nil
}

// DecideByToken resolves the unguessable callback token from a transport
// callback payload to its approval and delegates to Decide. The router
// only ever sees the token, never the server-side approval id.
func (e *Engine) DecideByToken(ctx context.Context, token, actorID string, decision agent.Decision, riskProfile agent.RiskProfile) (DecisionOutcome, error) {
	row, err := e.client.Approval.Query().Where(approval.CallbackToken(token)).Only(ctx)
	if err != nil {
		if ent.IsNotFound(err) {
			return DecisionOutcome{}, fmt.Errorf("callback token: %w", ErrNotRequested)
		}
		return DecisionOutcome{}, fmt.Errorf("lookup callback token: %w", err)
	}
	return e.Decide(ctx, row.ID, actorID, decision, riskProfile)
}

// SetPromptMessageID records the transport message id of an approval's
// card, so the expiry/countdown workers can edit it in place instead of
// sending a fresh message.
func (e *Engine) SetPromptMessageID(ctx context.Context, approvalID, messageID string) error {
	n, err := e.client.Approval.Update().
		Where(approval.ID(approvalID)).
		SetPromptMessageID(messageID).
		Save(ctx)
	if err != nil {
		return fmt.Errorf("set prompt message id for approval %s: %w", approvalID, err)
	}
	if n == 0 {
		return fmt.Errorf("approval %s: %w", approvalID, ErrNotRequested)
	}
	return nil
}

var intentMarkerScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  redis.call("DEL", KEYS[1])
  return 1
end
return redis.call("SET", KEYS[1], ARGV[1], "NX", "PX", ARGV[2])
`)

// consumeIntentMarker implements the cautious-mode double-tap: the first
// tap sets a marker (TTL 30s) and returns false (not confirmed yet); the
// second tap within the TTL finds its own marker, deletes it, and returns
// true.
func (e *Engine) consumeIntentMarker(ctx context.Context, approvalID, actorID string) (bool, error) {
	key := fmt.Sprintf("approval:intent:%s:%s", approvalID, actorID)
	res, err := intentMarkerScript.Run(ctx, e.rdb, []string{key}, actorID, intentMarkerTTL.Milliseconds()).Result()
	if err != nil {
		return false, err
	}
	switch v := res.(type) {
	case int64:
		return v == 1, nil
	case string:
		return false, nil // "OK" from the SET NX branch: marker just created
	default:
		return false, nil
	}
}

func (e *Engine) transitionExpired(ctx context.Context, row *ent.Approval) (*ent.Approval, error) {
	updated, err := e.client.Approval.UpdateOneID(row.ID).SetStatus(approval.StatusExpired).Save(ctx)
	if err != nil {
		return nil, fmt.Errorf("transition approval %s to expired: %w", row.ID, err)
	}
	if err := e.auditLog.Append(ctx, audit.Event{
		ActorType: "system",
		ActorID:   "approval-engine",
		EventType: "approval.expired",
		Metadata:  map[string]interface{}{"approval_id": row.ID, "session_id": row.SessionID},
	}); err != nil {
		return nil, fmt.Errorf("audit approval.expired: %w", err)
	}
	return updated, nil
}

func (e *Engine) scheduleExpiry(ctx context.Context, approvalID string, delay time.Duration) error {
	payload, err := json.Marshal(expiryJobPayload{ApprovalID: approvalID})
	if err != nil {
		return err
	}
	return e.timeouts.Enqueue(ctx, "approval-expiry-"+approvalID, payload, queue.EnqueueOptions{Delay: delay})
}

func (e *Engine) scheduleCountdown(ctx context.Context, approvalID string, delay time.Duration) error {
	payload, err := json.Marshal(countdownJobPayload{ApprovalID: approvalID})
	if err != nil {
		return err
	}
	return e.countdown.Enqueue(ctx, fmt.Sprintf("approval-countdown-%s-%d", approvalID, time.Now().UnixNano()), payload, queue.EnqueueOptions{Delay: delay})
}

func newCallbackToken() (string, error) {
	buf := make([]byte, callbackTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
