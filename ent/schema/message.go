package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/edge"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// Message holds the schema definition for a single turn message within a
// ConvSession. Ordered strictly by created_at for replay to the LLM.
type Message struct {
	ent.Schema
}

// Fields of the Message.
func (Message) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("message_id").
			Unique().
			Immutable(),
		field.String("session_id").
			Immutable(),
		field.Enum("role").
			Values("system", "user", "assistant", "tool"),
		field.JSON("parts", []map[string]interface{}{}).
			Comment("Tagged-union content parts: text, tool-call, tool-result, tool-approval-request, tool-approval-response"),
		field.String("correlation_id").
			Optional().
			Nillable(),
		field.Time("created_at").
			Default(time.Now).
			Immutable(),
	}
}

// Edges of the Message.
func (Message) Edges() []ent.Edge {
	return []ent.Edge{
		edge.From("session", ConvSession.Type).
			Ref("messages").
			Field("session_id").
			Unique().
			Required().
			Immutable(),
	}
}

// Indexes of the Message.
func (Message) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("session_id", "created_at"),
	}
}
