package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/edge"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// Approval holds the schema definition for a human-approval gate on a
// sensitive tool call (§4.8). Identified by a server-issued approval id and
// a short unguessable callback token used in transport callback data.
type Approval struct {
	ent.Schema
}

// Fields of the Approval.
func (Approval) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("approval_id").
			Unique().
			Immutable(),
		field.String("callback_token").
			Unique().
			Immutable().
			Comment("14-16 char URL-safe random token used in callback data"),
		field.String("session_id").
			Immutable(),
		field.String("tool_call_id").
			Immutable(),
		field.String("tool_name").
			Immutable(),
		field.JSON("tool_input", map[string]interface{}{}).
			Immutable(),
		field.Enum("risk_level").
			Values("low", "medium", "high", "critical"),
		field.String("risk_confidence").
			Comment("low | medium | high"),
		field.Enum("status").
			Values("requested", "approved", "denied", "expired", "failed").
			Default("requested"),
		field.Time("created_at").
			Default(time.Now).
			Immutable(),
		field.Time("expires_at").
			Immutable(),
		field.String("decided_by").
			Optional().
			Nillable(),
		field.Time("decided_at").
			Optional().
			Nillable(),
		field.String("prompt_message_id").
			Optional().
			Nillable().
			Comment("Transport message id of the approval card, for edit-on-expiry/refresh"),
	}
}

// Edges of the Approval.
func (Approval) Edges() []ent.Edge {
	return []ent.Edge{
		edge.From("session", ConvSession.Type).
			Ref("approvals").
			Field("session_id").
			Unique().
			Required().
			Immutable(),
	}
}

// Indexes of the Approval.
func (Approval) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("status", "expires_at"),
	}
}
