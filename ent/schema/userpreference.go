package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/field"
)

// UserPreference holds per-user defaults (§3): response style, risk profile
// and network. Chat-level overrides live in ChatPreference.
type UserPreference struct {
	ent.Schema
}

// Fields of the UserPreference.
func (UserPreference) Fields() []ent.Field {
	return []ent.Field{
		field.String("user_id").
			StorageKey("user_id").
			Unique().
			Immutable(),
		field.Enum("response_style").
			Values("concise", "detailed").
			Optional().
			Nillable(),
		field.Enum("risk_profile").
			Values("cautious", "balanced", "advanced").
			Optional().
			Nillable(),
		field.String("network").
			Optional().
			Nillable(),
		field.String("default_wallet_address").
			Optional().
			Nillable().
			Comment("Opaque identifier, never interpreted by the core"),
		field.Time("updated_at").
			Default(time.Now).
			UpdateDefault(time.Now),
	}
}
