package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// ProcessedUpdate holds the schema definition for the ProcessedUpdate entity.
// It is the idempotency record for an inbound transport update (§4.2 of the
// ingestion design): one row per update_id, insert-or-ignore keyed.
type ProcessedUpdate struct {
	ent.Schema
}

// Fields of the ProcessedUpdate.
func (ProcessedUpdate) Fields() []ent.Field {
	return []ent.Field{
		field.Int64("update_id").
			StorageKey("update_id").
			Unique().
			Immutable().
			Comment("External, monotonically increasing transport update id"),
		field.JSON("raw_payload", map[string]interface{}{}).
			Comment("Opaque structured document as delivered by the transport"),
		field.Enum("status").
			Values("received", "enqueued", "processed", "failed").
			Default("received"),
		field.Time("received_at").
			Default(time.Now).
			Immutable(),
		field.Time("handled_at").
			Optional().
			Nillable(),
		field.String("error_message").
			Optional().
			Nillable(),
	}
}

// Indexes of the ProcessedUpdate.
func (ProcessedUpdate) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("status", "received_at"),
	}
}
