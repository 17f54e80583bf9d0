package agent

import (
	"context"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/chatbridge/core/pkg/audit"
	"github.com/chatbridge/core/pkg/chatlock"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type assertErr string

func (e assertErr) Error() string { return string(e) }

func newTestChatLocker(t *testing.T) *chatlock.Locker {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return chatlock.New(rdb)
}

type fakeConvStore struct {
	history  []StoredMessage
	appended []struct {
		role  string
		parts []Part
	}
}

func (s *fakeConvStore) LoadRecentMessages(ctx context.Context, sessionID string) ([]StoredMessage, error) {
	return s.history, nil
}

func (s *fakeConvStore) AppendMessage(ctx context.Context, sessionID, role string, parts []Part, correlationID string) (StoredMessage, error) {
	s.appended = append(s.appended, struct {
		role  string
		parts []Part
	}{role, parts})
	return StoredMessage{Role: role, Parts: parts}, nil
}

func (s *fakeConvStore) TouchLastMessageAt(ctx context.Context, sessionID string) error { return nil }

type fakeApprovals struct {
	registeredCalls int
	pending         int
}

func (a *fakeApprovals) Register(ctx context.Context, req ApprovalRequest) (RegisteredApproval, error) {
	a.registeredCalls++
	return RegisteredApproval{ApprovalID: "apr_1", RiskLevel: "high"}, nil
}

func (a *fakeApprovals) PendingCount(ctx context.Context, sessionID string) (int, error) {
	return a.pending, nil
}

type fakeAudit struct {
	events []audit.Event
	failOn string // EventType to fail Append for; empty means never fail
}

func (a *fakeAudit) Append(ctx context.Context, ev audit.Event) error {
	if a.failOn != "" && ev.EventType == a.failOn {
		return assertErr("audit storage unavailable")
	}
	a.events = append(a.events, ev)
	return nil
}

type scriptedLLMClient struct {
	chunks []Chunk
	err    error
}

func (c *scriptedLLMClient) Generate(ctx context.Context, input *GenerateInput) (<-chan Chunk, error) {
	if c.err != nil {
		return nil, c.err
	}
	ch := make(chan Chunk, len(c.chunks))
	for _, chunk := range c.chunks {
		ch <- chunk
	}
	close(ch)
	return ch, nil
}

func (c *scriptedLLMClient) Close() error { return nil }

type fixedModelResolver struct {
	attempts []ModelAttempt
}

func (r *fixedModelResolver) Resolve(modelID string) ([]ModelAttempt, error) {
	return r.attempts, nil
}

type emptyToolCatalogue struct{}

func (emptyToolCatalogue) Build(isPrivateChat bool) ToolExecutor {
	return NewPolicyExecutor(nil, isPrivateChat)
}

type recordingDraftSink struct {
	sent []string
}

func (d *recordingDraftSink) SendDraft(ctx context.Context, text string) error {
	d.sent = append(d.sent, text)
	return nil
}

func baseRequest() TurnExecutionRequest {
	return TurnExecutionRequest{
		CorrelationID: "corr-1",
		SessionID:     "sess-1",
		ChatID:        "chat-1",
		UserID:        "user-1",
		Text:          "what's my balance",
		ModelID:       "default",
		IsPrivateChat: true,
	}
}

func TestExecutor_HappyPath_ReturnsModelText(t *testing.T) {
	primary := &scriptedLLMClient{chunks: []Chunk{&TextChunk{Content: "Your balance is 12 TON."}}}
	exec := &Executor{
		Locker:    newTestChatLocker(t),
		Models:    &fixedModelResolver{attempts: []ModelAttempt{{Provider: &ProviderConfig{Type: "anthropic"}, Client: primary}}},
		Store:     &fakeConvStore{},
		Tools:     emptyToolCatalogue{},
		Approvals: &fakeApprovals{},
		Audit:     &fakeAudit{},
	}

	result, err := exec.Run(context.Background(), baseRequest(), &recordingDraftSink{})
	require.NoError(t, err)
	assert.Equal(t, "Your balance is 12 TON.", result.Text)
}

// TestExecutor_ProviderFallback_PreStream covers scenario 6: the primary
// fails before any delta, a fallback is configured, and the turn completes
// from the fallback with exactly one audit event recorded.
func TestExecutor_ProviderFallback_PreStream(t *testing.T) {
	primary := &scriptedLLMClient{err: assertErr("primary unavailable")}
	fallback := &scriptedLLMClient{chunks: []Chunk{&TextChunk{Content: "Fallback response."}}}
	auditLog := &fakeAudit{}

	exec := &Executor{
		Locker: newTestChatLocker(t),
		Models: &fixedModelResolver{attempts: []ModelAttempt{
			{Provider: &ProviderConfig{Type: "anthropic"}, Client: primary},
			{Provider: &ProviderConfig{Type: "langchain"}, Client: fallback},
		}},
		Store:     &fakeConvStore{},
		Tools:     emptyToolCatalogue{},
		Approvals: &fakeApprovals{},
		Audit:     auditLog,
	}

	result, err := exec.Run(context.Background(), baseRequest(), &recordingDraftSink{})
	require.NoError(t, err)
	assert.Equal(t, "Fallback response.", result.Text)

	require.Len(t, auditLog.events, 1)
	assert.Equal(t, "agent.turn.provider.fallback", auditLog.events[0].EventType)
	assert.Equal(t, "anthropic", auditLog.events[0].Metadata["primary_provider"])
	assert.Equal(t, "langchain", auditLog.events[0].Metadata["fallback_provider"])
}

// TestExecutor_ProviderFallback_SuppressedMidStream covers scenario 7: the
// primary emits partial deltas before failing, so no fallback is attempted
// and the turn fails outright.
func TestExecutor_ProviderFallback_SuppressedMidStream(t *testing.T) {
	primary := &scriptedLLMClient{chunks: []Chunk{
		&TextChunk{Content: "Sure, "},
		&TextChunk{Content: "let me check"},
		&ErrorChunk{Message: "upstream reset", Retryable: true},
	}}
	fallback := &scriptedLLMClient{chunks: []Chunk{&TextChunk{Content: "should never be called"}}}
	auditLog := &fakeAudit{}

	exec := &Executor{
		Locker: newTestChatLocker(t),
		Models: &fixedModelResolver{attempts: []ModelAttempt{
			{Provider: &ProviderConfig{Type: "anthropic"}, Client: primary},
			{Provider: &ProviderConfig{Type: "langchain"}, Client: fallback},
		}},
		Store:     &fakeConvStore{},
		Tools:     emptyToolCatalogue{},
		Approvals: &fakeApprovals{},
		Audit:     auditLog,
	}

	_, err := exec.Run(context.Background(), baseRequest(), &recordingDraftSink{})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "partial output"))
	assert.Empty(t, auditLog.events, "mid-stream failures must not fall back or audit a fallback event")
}

// TestExecutor_CriticalAuditFailure_FailsTheTurn covers §4.1's "failures
// here are fatal for the caller" rule for critical event types: a provider
// fallback whose audit append fails must fail the turn rather than
// complete silently with the critical event unrecorded.
func TestExecutor_CriticalAuditFailure_FailsTheTurn(t *testing.T) {
	primary := &scriptedLLMClient{err: assertErr("primary unavailable")}
	fallback := &scriptedLLMClient{chunks: []Chunk{&TextChunk{Content: "Fallback response."}}}
	auditLog := &fakeAudit{failOn: "agent.turn.provider.fallback"}

	exec := &Executor{
		Locker: newTestChatLocker(t),
		Models: &fixedModelResolver{attempts: []ModelAttempt{
			{Provider: &ProviderConfig{Type: "anthropic"}, Client: primary},
			{Provider: &ProviderConfig{Type: "langchain"}, Client: fallback},
		}},
		Store:     &fakeConvStore{},
		Tools:     emptyToolCatalogue{},
		Approvals: &fakeApprovals{},
		Audit:     auditLog,
	}

	_, err := exec.Run(context.Background(), baseRequest(), &recordingDraftSink{})
	require.Error(t, err, "a turn must not succeed when a critical audit event fails to record")
}

func TestExecutor_ToolCallNeedingApproval_RegistersAndParksResult(t *testing.T) {
	primary := &scriptedLLMClient{chunks: []Chunk{
		&ToolCallChunk{CallID: "call-1", Name: "wallet.send", Arguments: `{"amount":2.5}`},
	}}
	store := &fakeConvStore{}
	approvals := &fakeApprovals{}

	catalogue := writeToolCatalogue{}
	exec := &Executor{
		Locker:    newTestChatLocker(t),
		Models:    &fixedModelResolver{attempts: []ModelAttempt{{Provider: &ProviderConfig{Type: "anthropic"}, Client: primary}}},
		Store:     store,
		Tools:     catalogue,
		Approvals: approvals,
		Audit:     &fakeAudit{},
	}

	req := baseRequest()
	req.Text = "send 2.5 TON to bob"
	result, err := exec.Run(context.Background(), req, &recordingDraftSink{})
	require.NoError(t, err)
	require.Len(t, result.RegisteredApprovals, 1)
	assert.Equal(t, "apr_1", result.RegisteredApprovals[0].ApprovalID)
	assert.Equal(t, 1, approvals.registeredCalls)
}

// writeToolCatalogue exposes a single critical-write tool in private chats,
// for the approval-registration test.
type writeToolCatalogue struct{}

func (writeToolCatalogue) Build(isPrivateChat bool) ToolExecutor {
	send := &fakeTool{def: ToolDefinition{Name: "wallet.send"}, readOnly: false, result: &ToolResult{Content: "sent"}}
	return NewPolicyExecutor([]PolicyTool{{Tool: send, Class: ToolClassCriticalWrite}}, isPrivateChat)
}

func TestFlattenMessage_ParallelToolResultsEachGetOwnMessage(t *testing.T) {
	parts := []Part{
		ToolResultPart{CallID: "call-1", Name: "weather.lookup", Content: "sunny"},
		ToolResultPart{CallID: "call-2", Name: "wallet.balance", Content: "12.5 TON"},
	}

	got := flattenMessage(RoleTool, parts)

	require.Len(t, got, 2, "each tool result in a parallel-call turn must become its own message, "+
		"since ConversationMessage can only carry one ToolCallID")
	assert.Equal(t, "call-1", got[0].ToolCallID)
	assert.Equal(t, "weather.lookup", got[0].ToolName)
	assert.Equal(t, "sunny", got[0].Content)
	assert.Equal(t, "call-2", got[1].ToolCallID)
	assert.Equal(t, "wallet.balance", got[1].ToolName)
	assert.Equal(t, "12.5 TON", got[1].Content)
}

func TestFlattenMessage_AssistantTextAndToolCallsShareOneMessage(t *testing.T) {
	parts := []Part{
		TextPart{Text: "checking that for you"},
		ToolCallPart{CallID: "call-1", Name: "weather.lookup", Arguments: `{"city":"ny"}`},
		ToolCallPart{CallID: "call-2", Name: "wallet.balance", Arguments: `{}`},
	}

	got := flattenMessage(RoleAssistant, parts)

	require.Len(t, got, 1, "an assistant message's text and tool calls stay on one message; "+
		"ToolCalls is already a slice so it doesn't need the per-part split tool results do")
	assert.Equal(t, "checking that for you", got[0].Content)
	require.Len(t, got[0].ToolCalls, 2)
	assert.Equal(t, "call-1", got[0].ToolCalls[0].ID)
	assert.Equal(t, "call-2", got[0].ToolCalls[1].ID)
}

func TestBuildModelMessages_FlattensParallelToolResultsAcrossHistory(t *testing.T) {
	history := []StoredMessage{
		{Role: RoleAssistant, Parts: []Part{
			ToolCallPart{CallID: "call-1", Name: "weather.lookup", Arguments: `{}`},
			ToolCallPart{CallID: "call-2", Name: "wallet.balance", Arguments: `{}`},
		}},
		{Role: RoleTool, Parts: []Part{
			ToolResultPart{CallID: "call-1", Name: "weather.lookup", Content: "sunny"},
			ToolResultPart{CallID: "call-2", Name: "wallet.balance", Content: "12.5 TON"},
		}},
	}

	msgs := buildModelMessages("system prompt", history, RoleUser, []Part{TextPart{Text: "thanks"}})

	// system + assistant(tool_calls) + 2 tool results + incoming user = 5
	require.Len(t, msgs, 5)
	assert.Equal(t, "call-1", msgs[2].ToolCallID)
	assert.Equal(t, "call-2", msgs[3].ToolCallID)
}
