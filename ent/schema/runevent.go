package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// RunEvent holds the schema definition for the RunEvent entity.
//
// One row per emission, never mutated. seq is the client-visible resume
// cursor; it is DB-issued and globally monotone (stricter than required,
// but the cheapest correct implementation — see spec's Open Questions).
type RunEvent struct {
	ent.Schema
}

// Fields of the RunEvent.
func (RunEvent) Fields() []ent.Field {
	return []ent.Field{
		field.Int("seq").
			StorageKey("seq"),
		field.String("thread_id").
			Immutable(),
		field.String("run_id").
			Immutable(),
		field.String("event_type").
			Immutable(),
		field.JSON("data", map[string]any{}).
			Optional(),
		field.String("message_id").
			Optional().
			Nillable(),
		field.Time("created_at").
			Default(time.Now).
			Immutable(),
	}
}

// Indexes of the RunEvent.
func (RunEvent) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("thread_id", "run_id", "seq"),
	}
}
