package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/field"
)

// ChatPreference holds per-chat overrides of UserPreference (§3). A nil
// field means "no override"; the effective value falls back to the user
// default and then to the system default.
type ChatPreference struct {
	ent.Schema
}

// Fields of the ChatPreference.
func (ChatPreference) Fields() []ent.Field {
	return []ent.Field{
		field.String("chat_id").
			StorageKey("chat_id").
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
		field.Time("updated_at").
			Default(time.Now).
			UpdateDefault(time.Now),
	}
}
