package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/dialect/entsql"
	"entgo.io/ent/schema/edge"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// ConvSession holds the schema definition for a conversation session — a
// thread scoped by (chat_id, user_id, optional thread_id). Named ConvSession
// rather than Session to avoid clashing with the generated ent runtime's own
// "session" vocabulary.
type ConvSession struct {
	ent.Schema
}

// Fields of the ConvSession.
func (ConvSession) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("session_id").
			Unique().
			Immutable(),
		field.String("chat_id").
			Immutable(),
		field.String("user_id").
			Immutable(),
		field.String("thread_id").
			Optional().
			Nillable().
			Immutable(),
		field.JSON("state", map[string]interface{}{}).
			Optional().
			Comment("Opaque JSON state used by external collaborators (e.g. wallet-link flow)"),
		field.Time("created_at").
			Default(time.Now).
			Immutable(),
		field.Time("last_message_at").
			Default(time.Now),
	}
}

// Edges of the ConvSession.
func (ConvSession) Edges() []ent.Edge {
	return []ent.Edge{
		edge.To("messages", Message.Type).
			Annotations(entsql.OnDelete(entsql.Cascade)),
		edge.To("approvals", Approval.Type).
			Annotations(entsql.OnDelete(entsql.Cascade)),
	}
}

// Indexes of the ConvSession.
func (ConvSession) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("chat_id", "user_id", "thread_id").Unique(),
	}
}
