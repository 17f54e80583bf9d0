// Package preferences implements the three-way effective-preference
// fallback the router needs before building a turn request: chat-level
// override, then user-level default, then a fixed system default.
package preferences

import (
	"context"
	"fmt"

	"github.com/chatbridge/core/ent"
	"github.com/chatbridge/core/ent/chatpreference"
	"github.com/chatbridge/core/ent/userpreference"
	"github.com/chatbridge/core/pkg/agent"
)

// System defaults, used when neither a chat override nor a user default is
// set for a given field.
const (
	DefaultResponseStyle = agent.ResponseStyleConcise
	DefaultRiskProfile   = agent.RiskProfileBalanced
)

// Effective is the resolved preference set a turn request is built from.
type Effective struct {
	ResponseStyle agent.ResponseStyle
	RiskProfile   agent.RiskProfile
	Network       string
	WalletAddress string
}

// Resolver computes effective preferences over the ChatPreference and
// UserPreference tables.
type Resolver struct {
	client *ent.Client
}

// New creates a Resolver.
func New(client *ent.Client) *Resolver {
	return &Resolver{client: client}
}

// Resolve implements the chat-override ?? user-default ?? system-default
// fallback per field independently (§3's Entities section). WalletAddress
// has no chat-level override and no system default: it is either the
// user's linked wallet or empty.
func (r *Resolver) Resolve(ctx context.Context, chatID, userID string) (Effective, error) {
	eff := Effective{ResponseStyle: DefaultResponseStyle, RiskProfile: DefaultRiskProfile}

	userPref, err := r.client.UserPreference.Query().Where(userpreference.UserID(userID)).Only(ctx)
	if err != nil && !ent.IsNotFound(err) {
		return Effective{}, fmt.Errorf("load user preference for %s: %w", userID, err)
	}
	if userPref != nil {
		if userPref.ResponseStyle != nil {
			eff.ResponseStyle = agent.ResponseStyle(*userPref.ResponseStyle)
		}
		if userPref.RiskProfile != nil {
			eff.RiskProfile = agent.RiskProfile(*userPref.RiskProfile)
		}
		if userPref.Network != nil {
			eff.Network = *userPref.Network
		}
		if userPref.DefaultWalletAddress != nil {
			eff.WalletAddress = *userPref.DefaultWalletAddress
		}
	}

	chatPref, err := r.client.ChatPreference.Query().Where(chatpreference.ChatID(chatID)).Only(ctx)
	if err != nil && !ent.IsNotFound(err) {
		return Effective{}, fmt.Errorf("load chat preference for %s: %w", chatID, err)
	}
	if chatPref != nil {
		if chatPref.ResponseStyle != nil {
			eff.ResponseStyle = agent.ResponseStyle(*chatPref.ResponseStyle)
		}
		if chatPref.RiskProfile != nil {
			eff.RiskProfile = agent.RiskProfile(*chatPref.RiskProfile)
		}
		if chatPref.Network != nil {
			eff.Network = *chatPref.Network
		}
	}

	return eff, nil
}

// UserUpdate carries the fields a settings command may change; nil means
// "leave unchanged".
type UserUpdate struct {
	ResponseStyle        *agent.ResponseStyle
	RiskProfile          *agent.RiskProfile
	Network              *string
	DefaultWalletAddress *string
}

// UpsertUser creates or updates a user's preference row, applying only the
// non-nil fields of update.
func (r *Resolver) UpsertUser(ctx context.Context, userID string, update UserUpdate) error {
	existing, err := r.client.UserPreference.Query().Where(userpreference.UserID(userID)).Only(ctx)
	if err != nil && !ent.IsNotFound(err) {
		return fmt.Errorf("load user preference for %s: %w", userID, err)
	}

	if existing == nil {
		create := r.client.UserPreference.Create().SetUserID(userID)
		applyUserCreate(create, update)
		_, err := create.Save(ctx)
		if err != nil {
			return fmt.Errorf("create user preference for %s: %w", userID, err)
		}
		return nil
	}

	edit := existing.Update()
	applyUserUpdate(edit, update)
	if _, err := edit.Save(ctx); err != nil {
		return fmt.Errorf("update user preference for %s: %w", userID, err)
	}
	return nil
}

func applyUserCreate(b *ent.UserPreferenceCreate, u UserUpdate) {
	if u.ResponseStyle != nil {
		b.SetResponseStyle(userpreference.ResponseStyle(*u.ResponseStyle))
	}
	if u.RiskProfile != nil {
		b.SetRiskProfile(userpreference.RiskProfile(*u.RiskProfile))
	}
	if u.Network != nil {
		b.SetNetwork(*u.Network)
	}
	if u.DefaultWalletAddress != nil {
		b.SetDefaultWalletAddress(*u.DefaultWalletAddress)
	}
}

func applyUserUpdate(b *ent.UserPreferenceUpdateOne, u UserUpdate) {
	if u.ResponseStyle != nil {
		b.SetResponseStyle(userpreference.ResponseStyle(*u.ResponseStyle))
	}
	if u.RiskProfile != nil {
		b.SetRiskProfile(userpreference.RiskProfile(*u.RiskProfile))
	}
	if u.Network != nil {
		b.SetNetwork(*u.Network)
	}
	if u.DefaultWalletAddress != nil {
		b.SetDefaultWalletAddress(*u.DefaultWalletAddress)
	}
}
