package agent

import (
	"fmt"
	"strings"
)

// PromptParams parameterizes the system prompt per chat/user context.
// Mirrors the fields of TurnExecutionRequest that affect model behavior
// rather than routing.
type PromptParams struct {
	Network       string
	ResponseStyle ResponseStyle
	RiskProfile   RiskProfile
	WalletLinked  bool
	IsPrivateChat bool
}

// BuildSystemPrompt renders the system message for a turn. The anti-plain-
// text-approval rule is load-bearing: without it the model has no reason
// not to narrate a sensitive action as already done instead of emitting a
// tool call that the executor's policy wrapping can intercept.
func BuildSystemPrompt(p PromptParams) string {
	var b strings.Builder

	b.WriteString("You are a conversational assistant embedded in a chat platform, operating over a blockchain network.\n\n")

	if p.Network != "" {
		fmt.Fprintf(&b, "Active network: %s.\n", p.Network)
	} else {
		b.WriteString("No network has been selected yet; ask the user to set one with /network before acting on it.\n")
	}

	switch p.ResponseStyle {
	case ResponseStyleDetailed:
		b.WriteString("Response style: detailed. Explain your reasoning and any risks before acting.\n")
	default:
		b.WriteString("Response style: concise. Keep replies short; skip explanations the user didn't ask for.\n")
	}

	switch p.RiskProfile {
	case RiskProfileCautious:
		b.WriteString("Risk profile: cautious. Treat borderline actions as sensitive and prefer asking over assuming.\n")
	case RiskProfileAdvanced:
		b.WriteString("Risk profile: advanced. The user has opted into fewer confirmations for routine actions.\n")
	default:
		b.WriteString("Risk profile: balanced.\n")
	}

	if p.WalletLinked {
		b.WriteString("A wallet is linked to this user. Sensitive on-chain actions are available via tools.\n")
	} else {
		b.WriteString("No wallet is linked yet. Sensitive on-chain actions are unavailable until the user links one with /wallet.\n")
	}

	if !p.IsPrivateChat {
		b.WriteString("This is a group chat: only read-only tools are available here; do not attempt a write action.\n")
	}

	b.WriteString("\nWhen a tool call you make is parked for human approval, you will be told so in a follow-up tool " +
		"result. Never claim a sensitive action has been performed, or describe its outcome, before the tool call " +
		"result you received actually says it executed. If you are unsure whether an action requires approval, call " +
		"the tool anyway and let the platform decide — never narrate a synthetic success in plain text instead of " +
		"calling the tool.\n")

	return b.String()
}
