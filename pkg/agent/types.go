// Package agent implements the Agent Turn Executor (C9): the per-conversation
// serial turn loop that streams a model response, wraps tool execution in a
// safety policy, and hands sensitive actions off to the approval engine.
package agent

import (
	"fmt"
)

// Role mirrors the message.role enum on ent.Message.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ResponseStyle and RiskProfile mirror the UserPreference/ChatPreference
// enums; kept as plain strings here rather than a shared enum package so
// this package has no compile-time dependency on the generated ent code for
// values it only ever passes through.
type ResponseStyle string

const (
	ResponseStyleConcise  ResponseStyle = "concise"
	ResponseStyleDetailed ResponseStyle = "detailed"
)

type RiskProfile string

const (
	RiskProfileCautious RiskProfile = "cautious"
	RiskProfileBalanced RiskProfile = "balanced"
	RiskProfileAdvanced RiskProfile = "advanced"
)

// Decision is the outcome carried by an approval-response turn.
type Decision string

const (
	DecisionApproved Decision = "approved"
	DecisionDenied   Decision = "denied"
)

// ApprovalResponse resumes a turn that was waiting on a human decision
// (§4.8's "approval -> agent resumption" step).
type ApprovalResponse struct {
	ApprovalID string
	Decision   Decision
}

// TurnExecutionRequest is the Agent Turn Executor's input, per §4.9.
type TurnExecutionRequest struct {
	CorrelationID string
	SessionID     string
	ChatID        string
	UserID        string
	ThreadID      string // empty if the chat has no forum topic

	// Exactly one of Text or ApprovalResponse is set.
	Text             string
	ApprovalResponse *ApprovalResponse

	Network       string
	ModelID       string
	ResponseStyle ResponseStyle
	RiskProfile   RiskProfile
	WalletAddress string // opaque identifier, never interpreted here
	IsPrivateChat bool
}

// PartType tags the members of the Part tagged union stored in
// ent.Message.Parts.
type PartType string

const (
	PartTypeText                 PartType = "text"
	PartTypeToolCall             PartType = "tool-call"
	PartTypeToolResult           PartType = "tool-result"
	PartTypeToolApprovalRequest  PartType = "tool-approval-request"
	PartTypeToolApprovalResponse PartType = "tool-approval-response"
)

// Part is one element of a message's content. Concrete types implement
// partType() and ToMap()/fill their fields from a decoded map so a
// []Part round-trips through ent's JSON []map[string]interface{} column.
type Part interface {
	partType() PartType
	ToMap() map[string]interface{}
}

type TextPart struct {
	Text string
}

func (p TextPart) partType() PartType { return PartTypeText }
func (p TextPart) ToMap() map[string]interface{} {
	return map[string]interface{}{"type": string(PartTypeText), "text": p.Text}
}

type ToolCallPart struct {
	CallID    string
	Name      string
	Arguments string
}

func (p ToolCallPart) partType() PartType { return PartTypeToolCall }
func (p ToolCallPart) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"type": string(PartTypeToolCall), "call_id": p.CallID, "name": p.Name, "arguments": p.Arguments,
	}
}

type ToolResultPart struct {
	CallID  string
	Name    string
	Content string
	IsError bool
}

func (p ToolResultPart) partType() PartType { return PartTypeToolResult }
func (p ToolResultPart) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"type": string(PartTypeToolResult), "call_id": p.CallID, "name": p.Name,
		"content": p.Content, "is_error": p.IsError,
	}
}

// ToolApprovalRequestPart marks that a tool call has been parked pending a
// human decision; the approval id ties it back to the Approval row.
type ToolApprovalRequestPart struct {
	ApprovalID string
	CallID     string
	Name       string
	Arguments  string
	RiskLevel  string
}

func (p ToolApprovalRequestPart) partType() PartType { return PartTypeToolApprovalRequest }
func (p ToolApprovalRequestPart) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"type": string(PartTypeToolApprovalRequest), "approval_id": p.ApprovalID,
		"call_id": p.CallID, "name": p.Name, "arguments": p.Arguments, "risk_level": p.RiskLevel,
	}
}

// ToolApprovalResponsePart is the synthetic "role: tool" turn fed back to
// the model once a human decision resolves an approval (§4.8).
type ToolApprovalResponsePart struct {
	ApprovalID string
	CallID     string
	Decision   Decision
}

func (p ToolApprovalResponsePart) partType() PartType { return PartTypeToolApprovalResponse }
func (p ToolApprovalResponsePart) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"type": string(PartTypeToolApprovalResponse), "approval_id": p.ApprovalID,
		"call_id": p.CallID, "decision": string(p.Decision),
	}
}

// PartsToMaps converts a slice of Part into the shape ent.Message.Parts
// stores.
func PartsToMaps(parts []Part) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(parts))
	for _, p := range parts {
		out = append(out, p.ToMap())
	}
	return out
}

// PartsFromMaps reconstructs a []Part from a decoded ent.Message.Parts
// value. Unknown/malformed entries are skipped rather than failing the
// whole message, since this is read off already-persisted rows.
func PartsFromMaps(maps []map[string]interface{}) []Part {
	out := make([]Part, 0, len(maps))
	for _, m := range maps {
		p, ok := partFromMap(m)
		if ok {
			out = append(out, p)
		}
	}
	return out
}

func partFromMap(m map[string]interface{}) (Part, bool) {
	t, _ := m["type"].(string)
	switch PartType(t) {
	case PartTypeText:
		return TextPart{Text: str(m["text"])}, true
	case PartTypeToolCall:
		return ToolCallPart{CallID: str(m["call_id"]), Name: str(m["name"]), Arguments: str(m["arguments"])}, true
	case PartTypeToolResult:
		return ToolResultPart{
			CallID: str(m["call_id"]), Name: str(m["name"]), Content: str(m["content"]), IsError: boolv(m["is_error"]),
		}, true
	case PartTypeToolApprovalRequest:
		return ToolApprovalRequestPart{
			ApprovalID: str(m["approval_id"]), CallID: str(m["call_id"]), Name: str(m["name"]),
			Arguments: str(m["arguments"]), RiskLevel: str(m["risk_level"]),
		}, true
	case PartTypeToolApprovalResponse:
		return ToolApprovalResponsePart{
			ApprovalID: str(m["approval_id"]), CallID: str(m["call_id"]), Decision: Decision(str(m["decision"])),
		}, true
	default:
		return nil, false
	}
}

func str(v interface{}) string {
	s, _ := v.(string)
	return s
}

func boolv(v interface{}) bool {
	b, _ := v.(bool)
	return b
}

// TextOf concatenates the text parts of a message, for response-policy
// triviality checks and for rendering outbound transport text.
func TextOf(parts []Part) string {
	out := ""
	for _, p := range parts {
		if tp, ok := p.(TextPart); ok {
			out += tp.Text
		}
	}
	return out
}

func (r TurnExecutionRequest) validate() error {
	if r.SessionID == "" {
		return fmt.Errorf("turn execution request: session_id required")
	}
	if r.Text == "" && r.ApprovalResponse == nil {
		return fmt.Errorf("turn execution request: exactly one of text or approval_response required")
	}
	if r.Text != "" && r.ApprovalResponse != nil {
		return fmt.Errorf("turn execution request: text and approval_response are mutually exclusive")
	}
	return nil
}
