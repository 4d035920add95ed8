package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/dialect/entsql"
	"entgo.io/ent/schema/edge"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// LeaseEvent holds the schema definition for the LeaseEvent entity.
//
// Append-only audit log of every apply() transition attempted against a
// SandboxLease, successful or not.
type LeaseEvent struct {
	ent.Schema
}

// Fields of the LeaseEvent.
func (LeaseEvent) Fields() []ent.Field {
	return []ent.Field{
		field.Int("event_id").
			StorageKey("event_id"),
		field.String("lease_id").
			Immutable(),
		field.Enum("event_type").
			Values(
				"intent.ensure_running",
				"intent.pause",
				"intent.resume",
				"intent.destroy",
				"observe.status",
				"provider.error",
			).
			Immutable(),
		field.String("source").
			Immutable().
			Comment("who emitted it: api, reaper, webhook, reconciler, runtime"),
		field.JSON("payload", map[string]any{}).
			Optional(),
		field.String("error").
			Optional().
			Nillable(),
		field.Time("created_at").
			Default(time.Now).
			Immutable(),
	}
}

// Edges of the LeaseEvent.
func (LeaseEvent) Edges() []ent.Edge {
	return []ent.Edge{
		edge.From("lease", SandboxLease.Type).
			Ref("events").
			Field("lease_id").
			Unique().
			Required().
			Annotations(entsql.OnDelete(entsql.Cascade)),
	}
}

// Indexes of the LeaseEvent.
func (LeaseEvent) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("lease_id", "created_at"),
	}
}
