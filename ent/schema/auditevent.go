package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// AuditEvent holds the schema definition for an append-only, hash-chained
// audit log entry (§4.1). Rows are never updated.
type AuditEvent struct {
	ent.Schema
}

// Fields of the AuditEvent.
func (AuditEvent) Fields() []ent.Field {
	return []ent.Field{
		field.Int("seq").
			Unique().
			Immutable().
			Comment("Monotonic chain position, 0-based"),
		field.String("actor_type").
			Immutable(),
		field.String("actor_id").
			Immutable(),
		field.String("event_type").
			Immutable(),
		field.JSON("metadata", map[string]interface{}{}).
			Optional().
			Immutable(),
		field.String("correlation_id").
			Optional().
			Nillable().
			Immutable(),
		field.Time("created_at").
			Default(time.Now).
			Immutable(),
		field.String("hash_chain").
			Immutable().
			Comment("SHA-256 hex of prev_hash || event_type || canonical(metadata) || created_at_iso"),
		field.String("prev_hash").
			Optional().
			Nillable().
			Immutable(),
	}
}

// Indexes of the AuditEvent.
func (AuditEvent) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("correlation_id"),
	}
}
