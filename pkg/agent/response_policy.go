package agent

import (
	"fmt"
	"strings"
)

// trivialCompletionPhrases are raw-text completions too thin to stand on
// their own after an approved callback (§4.9's response policy, step 1).
var trivialCompletionPhrases = []string{
	"done", "completed", "all set", "ok", "okay", "sure", "got it",
}

// ResponsePolicyInput is everything ApplyResponsePolicy needs to decide
// whether to rewrite the raw model text.
type ResponsePolicyInput struct {
	RawText string

	// WasApprovedCallback is true when this turn resumed from an approved
	// human decision (TurnExecutionRequest.ApprovalResponse with Decision
	// == DecisionApproved).
	WasApprovedCallback bool

	// ToolResultSummary, when non-empty, is folded into the synthesized
	// "Approval received" message (a destination/hash/amount line, when the
	// executed tool produced one).
	ToolResultSummary string

	// OriginalUserRequest is the text of the turn that led to the approval,
	// used to quote back a context-aware completion when the raw text is
	// trivial but the user had asked for something specific.
	OriginalUserRequest string

	// PendingApprovalCount is how many approvals are still outstanding
	// after this turn (§4.9's "pending approvals" suffix).
	PendingApprovalCount int
}

// ResponsePolicyResult is what ApplyResponsePolicy decided.
type ResponsePolicyResult struct {
	Text                 string
	ForcedApprovedStatus bool
	ReaskBlocked         bool
}

const pendingApprovalSuffix = "\n\n_Approval pending — I'll follow up once it's decided._"

// ApplyResponsePolicy rewrites raw LLM text per §4.9 / invariant I8 before
// it reaches the transport.
func ApplyResponsePolicy(in ResponsePolicyInput) ResponsePolicyResult {
	text := in.RawText

	if in.WasApprovedCallback && isTrivialOrReask(text) {
		synth := "Approval received. Protected action executed."
		if in.ToolResultSummary != "" {
			synth = fmt.Sprintf("%s %s", synth, in.ToolResultSummary)
		}
		return withPendingSuffix(ResponsePolicyResult{
			Text:                 synth,
			ForcedApprovedStatus: true,
			ReaskBlocked:         true,
		}, in.PendingApprovalCount)
	}

	if isTrivialOrReask(text) && in.OriginalUserRequest != "" {
		synth := fmt.Sprintf("Done — regarding your request (%q), that's been handled.", truncate(in.OriginalUserRequest, 120))
		return withPendingSuffix(ResponsePolicyResult{Text: synth}, in.PendingApprovalCount)
	}

	return withPendingSuffix(ResponsePolicyResult{Text: text}, in.PendingApprovalCount)
}

func withPendingSuffix(r ResponsePolicyResult, pending int) ResponsePolicyResult {
	if pending > 0 {
		r.Text += pendingApprovalSuffix
	}
	return r
}

// isTrivialOrReask reports whether text is empty, one of the known trivial
// completion phrases, or looks like a plain-text re-ask for approval
// ("please approve", "can you confirm", …) that should have been a tool
// call + approval card instead.
func isTrivialOrReask(text string) bool {
	trimmed := strings.TrimSpace(strings.ToLower(text))
	if trimmed == "" {
		return true
	}
	for _, phrase := range trivialCompletionPhrases {
		if trimmed == phrase || strings.TrimSuffix(trimmed, ".") == phrase {
			return true
		}
	}
	reaskMarkers := []string{"please approve", "can you confirm", "do you approve", "reply yes to confirm", "shall i proceed"}
	for _, marker := range reaskMarkers {
		if strings.Contains(trimmed, marker) {
			return true
		}
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
