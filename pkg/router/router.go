// Package router implements the Router (C7): classifies an inbound update
// into a callback, an exempt command, or a quota-gated agent turn, and
// dispatches each to its owning component, per §4.7's ordered rule list.
package router

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/chatbridge/core/pkg/agent"
	"github.com/chatbridge/core/pkg/approval"
	"github.com/chatbridge/core/pkg/preferences"
	"github.com/chatbridge/core/pkg/ratelimit"
	"github.com/google/uuid"
)

// InboundUpdate is the normalized event a transport adapter hands the
// router, decoded from whatever wire format that transport uses. Exactly
// one of Text or CallbackData should be set; CallbackData wins if somehow
// both are (§4.7's defensive tie-break).
type InboundUpdate struct {
	ChatID        string
	UserID        string
	ThreadID      string
	Text          string
	CallbackData  string
	IsPrivateChat bool
}

// Outcome is what routing one update produces: nothing, a user-visible
// notice, or a turn ready to enqueue (never more than one of the latter
// two in the reference flows below, but callers should treat them as
// independent).
type Outcome struct {
	Turn   *agent.TurnExecutionRequest
	Notice string
}

// RateLimiter is the subset of *ratelimit.Limiter the router needs.
type RateLimiter interface {
	CheckChatFlood(ctx context.Context, chatID string) ratelimit.Decision
	CheckUserTurn(ctx context.Context, userID, chatID string) ratelimit.Decision
}

// SessionResolver is the subset of *convstore.Store the router needs,
// narrowed to return a bare session id so this package doesn't need to
// import ent's generated types.
type SessionResolver interface {
	GetOrCreateSessionID(ctx context.Context, chatID, userID, threadID string) (string, error)
}

// PreferenceResolver is the subset of *preferences.Resolver the router
// needs.
type PreferenceResolver interface {
	Resolve(ctx context.Context, chatID, userID string) (preferences.Effective, error)
}

// ApprovalDecider is the subset of *approval.Engine the router needs to
// dispatch an "ap:" callback.
type ApprovalDecider interface {
	DecideByToken(ctx context.Context, token, actorID string, decision agent.Decision, riskProfile agent.RiskProfile) (approval.DecisionOutcome, error)
}

// Command is a recognized slash-command invocation, exempt from the
// user-turn quota per §4.4's explicit allow-list.
type Command struct {
	Name   string // lowercased leading token, e.g. "/wallet"
	Args   []string
	Update InboundUpdate
}

// CommandHandler dispatches /start, /settings, /network, /wallet, /cancel.
// The core treats command behavior itself as an external collaborator
// (§1) — this interface is the seam.
type CommandHandler interface {
	HandleCommand(ctx context.Context, cmd Command) (notice string, err error)
}

// SettingsCallbackHandler dispatches "cfg:" callbacks (settings chips).
type SettingsCallbackHandler interface {
	HandleSettingsCallback(ctx context.Context, cb SettingsCallback, upd InboundUpdate) (notice string, err error)
}

// WalletCallbackHandler dispatches "wallet:" callbacks.
type WalletCallbackHandler interface {
	HandleWalletCallback(ctx context.Context, cb WalletCallback, upd InboundUpdate) (notice string, err error)
}

// Router implements the four-rule dispatch of §4.7.
type Router struct {
	Limiter   RateLimiter
	Sessions  SessionResolver
	Prefs     PreferenceResolver
	Approvals ApprovalDecider
	Commands  CommandHandler
	Settings  SettingsCallbackHandler
	Wallet    WalletCallbackHandler
}

// Route classifies upd and returns the resulting Outcome. A nil error with
// a zero-value Outcome means "nothing to do" (e.g. a malformed or unknown
// callback payload, which §6 says to ignore rather than reject).
func (r *Router) Route(ctx context.Context, upd InboundUpdate) (Outcome, error) {
	// Rule 1: callback actions win the tie-break against text (§4.7).
	if upd.CallbackData != "" {
		return r.routeCallback(ctx, upd)
	}

	// Rule 2: chat anti-flood gate, applies to every non-callback update
	// including commands.
	flood := r.Limiter.CheckChatFlood(ctx, upd.ChatID)
	if !flood.Allowed {
		notice := ""
		if flood.NotifyUser {
			notice = "This chat is sending messages too quickly. Please slow down."
		}
		return Outcome{Notice: notice}, nil
	}

	// Rule 3: recognized commands are exempt from the turn quota and
	// dispatched directly.
	if cmd, ok := extractCommand(upd.Text); ok && ratelimit.IsExemptCommand(cmd) {
		notice, err := r.Commands.HandleCommand(ctx, Command{Name: cmd, Args: commandArgs(upd.Text), Update: upd})
		if err != nil {
			return Outcome{}, fmt.Errorf("handle command %s: %w", cmd, err)
		}
		return Outcome{Notice: notice}, nil
	}

	// Rule 4: everything else needs the user-turn quota, a session, and
	// effective preferences before it can become a turn request.
	return r.routeTurn(ctx, upd)
}

func (r *Router) routeTurn(ctx context.Context, upd InboundUpdate) (Outcome, error) {
	quota := r.Limiter.CheckUserTurn(ctx, upd.UserID, upd.ChatID)
	if !quota.Allowed {
		notice := ""
		if quota.NotifyUser {
			notice = turnQuotaNotice(quota.Reason)
		}
		return Outcome{Notice: notice}, nil
	}

	sessionID, err := r.Sessions.GetOrCreateSessionID(ctx, upd.ChatID, upd.UserID, upd.ThreadID)
	if err != nil {
		return Outcome{}, fmt.Errorf("resolve session: %w", err)
	}

	eff, err := r.Prefs.Resolve(ctx, upd.ChatID, upd.UserID)
	if err != nil {
		return Outcome{}, fmt.Errorf("resolve preferences: %w", err)
	}

	req := &agent.TurnExecutionRequest{
		CorrelationID: uuid.NewString(),
		SessionID:     sessionID,
		ChatID:        upd.ChatID,
		UserID:        upd.UserID,
		ThreadID:      upd.ThreadID,
		Text:          upd.Text,
		Network:       eff.Network,
		ResponseStyle: eff.ResponseStyle,
		RiskProfile:   eff.RiskProfile,
		WalletAddress: eff.WalletAddress,
		IsPrivateChat: upd.IsPrivateChat,
	}
	return Outcome{Turn: req}, nil
}

func (r *Router) routeCallback(ctx context.Context, upd InboundUpdate) (Outcome, error) {
	parsed, ok := ParseCallback(upd.CallbackData)
	if !ok {
		return Outcome{}, nil // malformed payload: ignore, per §6
	}

	switch parsed.Namespace {
	case NamespaceApproval:
		cb, err := parseApprovalCallback(parsed)
		if err != nil {
			return Outcome{}, nil // unknown payload shape: ignore
		}
		return r.routeApprovalCallback(ctx, upd, cb)

	case NamespaceSettings:
		cb, err := parseSettingsCallback(parsed)
		if err != nil {
			return Outcome{}, nil
		}
		notice, err := r.Settings.HandleSettingsCallback(ctx, cb, upd)
		if err != nil {
			return Outcome{}, fmt.Errorf("handle settings callback: %w", err)
		}
		return Outcome{Notice: notice}, nil

	case NamespaceWallet:
		cb, err := parseWalletCallback(parsed)
		if err != nil {
			return Outcome{}, nil
		}
		notice, err := r.Wallet.HandleWalletCallback(ctx, cb, upd)
		if err != nil {
			return Outcome{}, fmt.Errorf("handle wallet callback: %w", err)
		}
		return Outcome{Notice: notice}, nil

	default:
		return Outcome{}, nil // unknown namespace: ignore
	}
}

// routeApprovalCallback implements the only callback path that can
// synthesize a follow-up turn (§4.7 rule 1): an approve/deny decision
// becomes a tool-role TurnExecutionRequest carrying the decision. details
// and refresh are read-only and never produce a turn.
func (r *Router) routeApprovalCallback(ctx context.Context, upd InboundUpdate, cb ApprovalCallback) (Outcome, error) {
	switch cb.Action {
	case ApprovalActionDetails, ApprovalActionRefresh:
		return Outcome{}, nil

	case ApprovalActionApprove, ApprovalActionDeny:
		eff, err := r.Prefs.Resolve(ctx, upd.ChatID, upd.UserID)
		if err != nil {
			return Outcome{}, fmt.Errorf("resolve preferences for approval decision: %w", err)
		}

		decision := agent.DecisionDenied
		if cb.Action == ApprovalActionApprove {
			decision = agent.DecisionApproved
		}

		outcome, err := r.Approvals.DecideByToken(ctx, cb.Token, upd.UserID, decision, eff.RiskProfile)
		if err != nil {
			if errors.Is(err, approval.ErrNotRequested) || errors.Is(err, approval.ErrExpired) {
				return Outcome{Notice: "This approval is no longer pending."}, nil
			}
			return Outcome{}, fmt.Errorf("decide approval: %w", err)
		}
		if outcome.AwaitingConfirmation {
			return Outcome{Notice: "Tap again within 30 seconds to confirm."}, nil
		}

		req := &agent.TurnExecutionRequest{
			CorrelationID: uuid.NewString(),
			SessionID:     outcome.SessionID,
			ChatID:        upd.ChatID,
			UserID:        upd.UserID,
			ThreadID:      upd.ThreadID,
			ApprovalResponse: &agent.ApprovalResponse{
				ApprovalID: outcome.ApprovalID,
				Decision:   outcome.Decided,
			},
			Network:       eff.Network,
			ResponseStyle: eff.ResponseStyle,
			RiskProfile:   eff.RiskProfile,
			WalletAddress: eff.WalletAddress,
			IsPrivateChat: upd.IsPrivateChat,
		}
		return Outcome{Turn: req}, nil

	default:
		return Outcome{}, nil
	}
}

func turnQuotaNotice(reason string) string {
	switch reason {
	case ratelimit.WindowUserBurst:
		return "You're sending requests too quickly — please wait a few seconds."
	case ratelimit.WindowUserMinute:
		return "You've hit the per-minute request limit. Try again shortly."
	case ratelimit.WindowUserDaily:
		return "You've reached today's request limit. It resets at midnight UTC."
	case ratelimit.WindowChatMinute:
		return "This chat is sending messages too quickly. Please slow down."
	default:
		return ""
	}
}

func extractCommand(text string) (string, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", false
	}
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return "", false
	}
	return strings.ToLower(fields[0]), true
}

func commandArgs(text string) []string {
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) <= 1 {
		return nil
	}
	return fields[1:]
}
