package router

import (
	"fmt"
	"regexp"
	"strings"
)

// Callback namespaces, the first segment of the
// "<namespace>:<section>:<action>:<value>" grammar (§4.7 rule 1).
const (
	NamespaceApproval = "ap"
	NamespaceSettings = "cfg"
	NamespaceWallet   = "wallet"
)

// callbackGrammar validates "<namespace>:<field>[:<field>...]": a
// lowercase namespace token followed by one or more non-empty,
// colon-separated fields. Modeled on the teacher's strict
// server.tool-format validation in pkg/mcp/router.go, generalized from a
// fixed two-part name to a variable-length field list.
var callbackGrammar = regexp.MustCompile(`^([a-z]+)((?::[^:]+)+)$`)

// ParsedCallback is a callback payload split into its namespace and the
// fields that follow it.
type ParsedCallback struct {
	Namespace string
	Fields    []string
}

// ParseCallback parses a transport callback payload against the grammar.
// A payload that doesn't match is not an error a caller should surface —
// per §6, unknown/malformed callback payloads are ignored — so callers
// should treat a false ok as "not a callback this router understands."
func ParseCallback(data string) (ParsedCallback, bool) {
	matches := callbackGrammar.FindStringSubmatch(data)
	if matches == nil {
		return ParsedCallback{}, false
	}
	fields := strings.Split(strings.TrimPrefix(matches[2], ":"), ":")
	return ParsedCallback{Namespace: matches[1], Fields: fields}, true
}

// ApprovalAction is the decision encoded in an "ap:" callback.
type ApprovalAction string

const (
	ApprovalActionApprove ApprovalAction = "approve"
	ApprovalActionDeny    ApprovalAction = "deny"
	ApprovalActionDetails ApprovalAction = "details"
	ApprovalActionRefresh ApprovalAction = "refresh"
)

// ApprovalCallback is a parsed "ap:<token>:<action>" payload.
type ApprovalCallback struct {
	Token  string
	Action ApprovalAction
}

// parseApprovalCallback expects exactly two fields after the namespace:
// the callback token and the action.
func parseApprovalCallback(p ParsedCallback) (ApprovalCallback, error) {
	if len(p.Fields) != 2 {
		return ApprovalCallback{}, fmt.Errorf("approval callback: want 2 fields, got %d", len(p.Fields))
	}
	action := ApprovalAction(p.Fields[1])
	switch action {
	case ApprovalActionApprove, ApprovalActionDeny, ApprovalActionDetails, ApprovalActionRefresh:
	default:
		return ApprovalCallback{}, fmt.Errorf("approval callback: unknown action %q", p.Fields[1])
	}
	return ApprovalCallback{Token: p.Fields[0], Action: action}, nil
}

// SettingsCallback is a parsed "cfg:<section>:<target>:<value>" payload —
// e.g. "cfg:risk_profile:set:cautious".
type SettingsCallback struct {
	Section string
	Target  string
	Value   string
}

func parseSettingsCallback(p ParsedCallback) (SettingsCallback, error) {
	if len(p.Fields) != 3 {
		return SettingsCallback{}, fmt.Errorf("settings callback: want 3 fields, got %d", len(p.Fields))
	}
	return SettingsCallback{Section: p.Fields[0], Target: p.Fields[1], Value: p.Fields[2]}, nil
}

// WalletAction is the action encoded in a "wallet:" callback.
type WalletAction string

const (
	WalletActionStatus WalletAction = "status"
	WalletActionCancel WalletAction = "cancel"
)

// WalletCallback is a parsed "wallet:<action>:<session_id>" payload.
type WalletCallback struct {
	Action    WalletAction
	SessionID string
}

func parseWalletCallback(p ParsedCallback) (WalletCallback, error) {
	if len(p.Fields) != 2 {
		return WalletCallback{}, fmt.Errorf("wallet callback: want 2 fields, got %d", len(p.Fields))
	}
	action := WalletAction(p.Fields[0])
	switch action {
	case WalletActionStatus, WalletActionCancel:
	default:
		return WalletCallback{}, fmt.Errorf("wallet callback: unknown action %q", p.Fields[0])
	}
	return WalletCallback{Action: action, SessionID: p.Fields[1]}, nil
}
