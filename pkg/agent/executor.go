package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/chatbridge/core/pkg/audit"
	"github.com/chatbridge/core/pkg/chatlock"
	"github.com/chatbridge/core/pkg/queue"
)

// ChatLocker is the subset of *chatlock.Locker the executor needs.
type ChatLocker interface {
	Acquire(ctx context.Context, chatID, threadID string) (*chatlock.Lock, error)
}

// StoredMessage is one persisted turn message, as returned by
// ConversationStore.LoadRecentMessages.
type StoredMessage struct {
	ID        string
	Role      string
	Parts     []Part
	CreatedAt time.Time
}

// ConversationStore is the subset of the conversation store the executor
// needs: load bounded history, append a new message.
type ConversationStore interface {
	LoadRecentMessages(ctx context.Context, sessionID string) ([]StoredMessage, error)
	AppendMessage(ctx context.Context, sessionID, role string, parts []Part, correlationID string) (StoredMessage, error)
	TouchLastMessageAt(ctx context.Context, sessionID string) error
}

// ApprovalRequest is what the executor asks the approval engine to create
// when a tool call is flagged NeedsApproval.
type ApprovalRequest struct {
	SessionID     string
	CorrelationID string
	ToolCallID    string
	ToolName      string
	ToolInput     map[string]interface{}
	RiskProfile   RiskProfile
}

// RegisteredApproval is what the approval engine hands back after creating
// a pending approval.
type RegisteredApproval struct {
	ApprovalID string
	RiskLevel  string
}

// ApprovalRegistrar is the subset of the approval engine the executor needs.
type ApprovalRegistrar interface {
	Register(ctx context.Context, req ApprovalRequest) (RegisteredApproval, error)
	PendingCount(ctx context.Context, sessionID string) (int, error)
}

// AuditLogger is the subset of *audit.Chain the executor needs.
type AuditLogger interface {
	Append(ctx context.Context, ev audit.Event) error
}

// FollowupEnqueuer is the subset of *queue.Broker the executor needs to
// schedule the next turn once a response is ready (e.g. nothing further for
// this spec's single-turn model, kept for symmetry with the other queue
// consumers and for a future multi-step turn).
type FollowupEnqueuer interface {
	Enqueue(ctx context.Context, jobID string, payload []byte, opts queue.EnqueueOptions) error
}

// ModelAttempt is one entry in the primary/fallback chain §4.9 builds for a
// turn.
type ModelAttempt struct {
	Provider *ProviderConfig
	Client   LLMClient
}

// ModelResolver resolves a model id (from TurnExecutionRequest.ModelID) to
// the ordered attempt chain: index 0 is primary, index 1 (if present) is
// the configured fallback.
type ModelResolver interface {
	Resolve(modelID string) ([]ModelAttempt, error)
}

// ToolCatalogueFactory builds the tool surface for one turn, already scoped
// to whether the chat is private (§4.9's non-read-only-in-group-chats
// rule).
type ToolCatalogueFactory interface {
	Build(isPrivateChat bool) ToolExecutor
}

// Executor runs the C9 per-conversation turn loop.
type Executor struct {
	Locker    ChatLocker
	Models    ModelResolver
	Store     ConversationStore
	Tools     ToolCatalogueFactory
	Approvals ApprovalRegistrar
	Audit     AuditLogger
}

// TurnResult is what Run hands back to the caller (the router/worker that
// dispatched the job), for delivery over the transport.
type TurnResult struct {
	Text                 string
	ForcedApprovedStatus bool
	RegisteredApprovals  []RegisteredApproval
}

var errStreamFailedNoPartial = errors.New("agent: stream failed before any partial output")

// Run executes one turn end to end: steps 1-7 of §4.9.
func (e *Executor) Run(ctx context.Context, req TurnExecutionRequest, draft DraftSink) (*TurnResult, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	// Step 1: serialize all work for this chat/thread.
	lock, err := e.Locker.Acquire(ctx, req.ChatID, req.ThreadID)
	if err != nil {
		return nil, fmt.Errorf("acquire chat lock: %w", err)
	}
	defer lock.Release(ctx)

	// Step 2: model attempt chain.
	attempts, err := e.Models.Resolve(req.ModelID)
	if err != nil || len(attempts) == 0 {
		return nil, fmt.Errorf("resolve model %q: %w", req.ModelID, err)
	}

	// Step 3: system prompt.
	systemPrompt := BuildSystemPrompt(PromptParams{
		Network:       req.Network,
		ResponseStyle: req.ResponseStyle,
		RiskProfile:   req.RiskProfile,
		WalletLinked:  req.WalletAddress != "",
		IsPrivateChat: req.IsPrivateChat,
	})

	// Step 4: load history, append + persist the incoming turn.
	history, err := e.Store.LoadRecentMessages(ctx, req.SessionID)
	if err != nil {
		return nil, fmt.Errorf("load conversation history: %w", err)
	}

	incomingParts, incomingRole := e.incomingTurnParts(req)
	if _, err := e.Store.AppendMessage(ctx, req.SessionID, incomingRole, incomingParts, req.CorrelationID); err != nil {
		return nil, fmt.Errorf("persist incoming message: %w", err)
	}

	tools := e.Tools.Build(req.IsPrivateChat)
	toolDefs, err := tools.ListTools(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tools: %w", err)
	}

	messages := buildModelMessages(systemPrompt, history, incomingRole, incomingParts)

	throttled := NewThrottledDraftSink(draft)

	// Step 5/6: stream, with fallback-iff-no-partial-output on failure.
	var (
		accumulated  string
		toolCalls    []ToolCall
		usedFallback bool
	)
	for i, attempt := range attempts {
		accumulated, toolCalls, err = e.streamOne(ctx, attempt, messages, toolDefs, throttled, req)
		if err == nil {
			usedFallback = i > 0
			break
		}
		if !errors.Is(err, errStreamFailedNoPartial) || i == len(attempts)-1 {
			return nil, fmt.Errorf("stream turn: %w", err)
		}
		if auditErr := e.auditFallback(ctx, req, attempts[i], attempts[i+1]); auditErr != nil {
			return nil, auditErr
		}
	}
	_ = usedFallback

	// Execute any tool calls the model asked for, applying approval policy.
	toolResultParts, approvalParts, registered, summary := e.runToolCalls(ctx, req, tools, toolCalls)

	assistantParts := []Part{}
	if accumulated != "" {
		assistantParts = append(assistantParts, TextPart{Text: accumulated})
	}
	for _, tc := range toolCalls {
		assistantParts = append(assistantParts, ToolCallPart{CallID: tc.ID, Name: tc.Name, Arguments: tc.Arguments})
	}
	if len(assistantParts) > 0 {
		if _, err := e.Store.AppendMessage(ctx, req.SessionID, RoleAssistant, assistantParts, req.CorrelationID); err != nil {
			slog.Warn("persist assistant message failed", "session_id", req.SessionID, "error", err)
		}
	}
	if len(toolResultParts) > 0 || len(approvalParts) > 0 {
		toolParts := append(append([]Part{}, toolResultParts...), approvalParts...)
		if _, err := e.Store.AppendMessage(ctx, req.SessionID, RoleTool, toolParts, req.CorrelationID); err != nil {
			slog.Warn("persist tool-result message failed", "session_id", req.SessionID, "error", err)
		}
	}

	if err := e.Store.TouchLastMessageAt(ctx, req.SessionID); err != nil {
		slog.Warn("touch last_message_at failed", "session_id", req.SessionID, "error", err)
	}

	pending, err := e.Approvals.PendingCount(ctx, req.SessionID)
	if err != nil {
		slog.Warn("pending approval count lookup failed", "session_id", req.SessionID, "error", err)
	}

	wasApprovedCallback := req.ApprovalResponse != nil && req.ApprovalResponse.Decision == DecisionApproved
	policy := ApplyResponsePolicy(ResponsePolicyInput{
		RawText:              accumulated,
		WasApprovedCallback:  wasApprovedCallback,
		ToolResultSummary:    summary,
		OriginalUserRequest:  req.Text,
		PendingApprovalCount: pending,
	})

	if policy.ReaskBlocked {
		if err := e.auditReaskBlocked(ctx, req); err != nil {
			return nil, err
		}
	}

	return &TurnResult{
		Text:                 policy.Text,
		ForcedApprovedStatus: policy.ForcedApprovedStatus,
		RegisteredApprovals:  registered,
	}, nil
}

// incomingTurnParts builds either a user text part or a synthetic
// tool-approval-response part, per §4.8's approval-resumption step.
func (e *Executor) incomingTurnParts(req TurnExecutionRequest) ([]Part, string) {
	if req.ApprovalResponse != nil {
		return []Part{ToolApprovalResponsePart{
			ApprovalID: req.ApprovalResponse.ApprovalID,
			Decision:   req.ApprovalResponse.Decision,
		}}, RoleTool
	}
	return []Part{TextPart{Text: req.Text}}, RoleUser
}

func buildModelMessages(systemPrompt string, history []StoredMessage, incomingRole string, incomingParts []Part) []ConversationMessage {
	messages := make([]ConversationMessage, 0, len(history)+2)
	messages = append(messages, ConversationMessage{Role: RoleSystem, Content: systemPrompt})
	for _, m := range history {
		messages = append(messages, flattenMessage(m.Role, m.Parts)...)
	}
	messages = append(messages, flattenMessage(incomingRole, incomingParts)...)
	return messages
}

// flattenMessage splits a Parts-based stored message into the
// provider-agnostic ConversationMessage shape Generate expects.
//
// A single stored message can hold several tool-keyed parts at once — a
// parallel tool-call turn stores all of that turn's ToolResultPart entries
// in one "tool" message (see runToolCalls/AppendMessage) — but
// ConversationMessage carries only one ToolCallID/ToolName pair, the shape
// Anthropic- and langchain-style APIs expect: each tool result needs its own
// message keyed to its own call id. So every tool-keyed part becomes its own
// ConversationMessage; only text and assistant tool-call parts (which the
// wire format already represents as a slice on one message) accumulate onto
// a shared base message.
func flattenMessage(role string, parts []Part) []ConversationMessage {
	base := ConversationMessage{Role: role}
	hasBase := false
	var toolMsgs []ConversationMessage

	for _, p := range parts {
		switch v := p.(type) {
		case TextPart:
			base.Content += v.Text
			hasBase = true
		case ToolCallPart:
			base.ToolCalls = append(base.ToolCalls, ToolCall{ID: v.CallID, Name: v.Name, Arguments: v.Arguments})
			hasBase = true
		case ToolResultPart:
			toolMsgs = append(toolMsgs, ConversationMessage{
				Role: role, ToolCallID: v.CallID, ToolName: v.Name, Content: v.Content,
			})
		case ToolApprovalRequestPart:
			toolMsgs = append(toolMsgs, ConversationMessage{
				Role: role, ToolCallID: v.CallID, ToolName: v.Name,
				Content: "[action parked pending human approval]",
			})
		case ToolApprovalResponsePart:
			content := "[human denied the pending action]"
			if v.Decision == DecisionApproved {
				content = "[human approved the pending action]"
			}
			toolMsgs = append(toolMsgs, ConversationMessage{Role: role, ToolCallID: v.CallID, Content: content})
		}
	}

	if !hasBase {
		if len(toolMsgs) == 0 {
			return []ConversationMessage{base}
		}
		return toolMsgs
	}
	return append([]ConversationMessage{base}, toolMsgs...)
}

// streamOne drives one model attempt's Generate call to completion,
// forwarding text chunks to the draft sink as they arrive. Returns
// errStreamFailedNoPartial (wrapped) when the stream fails before any text
// was emitted, so Run knows it's still safe to try the next attempt.
func (e *Executor) streamOne(ctx context.Context, attempt ModelAttempt, messages []ConversationMessage, tools []ToolDefinition, draft *ThrottledDraftSink, req TurnExecutionRequest) (string, []ToolCall, error) {
	chunks, err := attempt.Client.Generate(ctx, &GenerateInput{
		CorrelationID: req.CorrelationID,
		SessionID:     req.SessionID,
		Messages:      messages,
		Tools:         tools,
		Provider:      attempt.Provider,
	})
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", errStreamFailedNoPartial, err)
	}

	var (
		text      string
		toolCalls []ToolCall
		gotAny    bool
	)
	for chunk := range chunks {
		switch c := chunk.(type) {
		case *TextChunk:
			text += c.Content
			gotAny = true
			_ = draft.SendDraft(ctx, text)
		case *ToolCallChunk:
			toolCalls = append(toolCalls, ToolCall{ID: c.CallID, Name: c.Name, Arguments: c.Arguments})
			gotAny = true
		case *ErrorChunk:
			if !gotAny {
				return "", nil, fmt.Errorf("%w: %s", errStreamFailedNoPartial, c.Message)
			}
			return text, toolCalls, fmt.Errorf("stream error after partial output: %s", c.Message)
		case *UsageChunk, *ThinkingChunk, *CodeExecutionChunk, *GroundingChunk:
			// Not surfaced to transport; nothing to accumulate for the
			// response policy or persisted message text.
		}
	}

	_ = draft.Flush(ctx, text)
	return text, toolCalls, nil
}

// runToolCalls executes each tool call through the turn's policy-wrapped
// executor, registering approvals for calls flagged NeedsApproval instead
// of running them, and returns the parts to persist plus a human-readable
// summary for the response policy's synthesized approval message.
func (e *Executor) runToolCalls(ctx context.Context, req TurnExecutionRequest, tools ToolExecutor, calls []ToolCall) ([]Part, []Part, []RegisteredApproval, string) {
	var (
		resultParts   []Part
		approvalParts []Part
		registered    []RegisteredApproval
		summary       string
	)

	for _, call := range calls {
		result, err := tools.Execute(ctx, call)
		if err != nil {
			resultParts = append(resultParts, ToolResultPart{CallID: call.ID, Name: call.Name, Content: err.Error(), IsError: true})
			continue
		}

		if result.NeedsApproval {
			var input map[string]interface{}
			_ = json.Unmarshal([]byte(call.Arguments), &input)

			reg, err := e.Approvals.Register(ctx, ApprovalRequest{
				SessionID:     req.SessionID,
				CorrelationID: req.CorrelationID,
				ToolCallID:    call.ID,
				ToolName:      call.Name,
				ToolInput:     input,
				RiskProfile:   req.RiskProfile,
			})
			if err != nil {
				resultParts = append(resultParts, ToolResultPart{CallID: call.ID, Name: call.Name, Content: "could not create approval request: " + err.Error(), IsError: true})
				continue
			}
			registered = append(registered, reg)
			approvalParts = append(approvalParts, ToolApprovalRequestPart{
				ApprovalID: reg.ApprovalID, CallID: call.ID, Name: call.Name, Arguments: call.Arguments, RiskLevel: reg.RiskLevel,
			})
			continue
		}

		resultParts = append(resultParts, ToolResultPart{CallID: call.ID, Name: call.Name, Content: result.Content, IsError: result.IsError})
		if !result.IsError && summary == "" {
			summary = result.Content
		}
	}

	return resultParts, approvalParts, registered, summary
}

// auditFallback records a provider-fallback event. It is critical per
// §4.1 (audit.IsCritical), so Append's error comes back here rather than
// being logged and swallowed — the caller must fail the turn rather than
// let a security-critical event go permanently unrecorded.
func (e *Executor) auditFallback(ctx context.Context, req TurnExecutionRequest, primary, fallback ModelAttempt) error {
	err := e.Audit.Append(ctx, audit.Event{
		ActorType:     "system",
		ActorID:       "agent-turn-executor",
		EventType:     "agent.turn.provider.fallback",
		CorrelationID: req.CorrelationID,
		Metadata: map[string]interface{}{
			"session_id":        req.SessionID,
			"primary_provider":  providerName(primary.Provider),
			"fallback_provider": providerName(fallback.Provider),
		},
	})
	if err != nil {
		return fmt.Errorf("audit provider fallback: %w", err)
	}
	return nil
}

// auditReaskBlocked records a reask-blocked event; see auditFallback for
// why its Append error propagates rather than being swallowed.
func (e *Executor) auditReaskBlocked(ctx context.Context, req TurnExecutionRequest) error {
	err := e.Audit.Append(ctx, audit.Event{
		ActorType:     "system",
		ActorID:       "agent-turn-executor",
		EventType:     "agent.turn.reask_blocked",
		CorrelationID: req.CorrelationID,
		Metadata:      map[string]interface{}{"session_id": req.SessionID},
	})
	if err != nil {
		return fmt.Errorf("audit reask blocked: %w", err)
	}
	return nil
}

func providerName(p *ProviderConfig) string {
	if p == nil {
		return "unknown"
	}
	return p.Type
}
