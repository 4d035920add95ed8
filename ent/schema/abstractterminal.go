package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/dialect/entsql"
	"entgo.io/ent/schema/edge"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// AbstractTerminal holds the schema definition for the AbstractTerminal entity.
//
// Durable per-terminal snapshot of cwd + env deltas, independent of any
// live process.
type AbstractTerminal struct {
	ent.Schema
}

// Fields of the AbstractTerminal.
func (AbstractTerminal) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("terminal_id").
			Unique().
			Immutable(),
		field.String("thread_id").
			Immutable(),
		field.String("lease_id").
			Immutable(),
		field.Bool("is_default").
			Default(false),
		field.String("cwd"),
		field.JSON("env_delta", map[string]string{}).
			Optional(),
		field.Int("state_version").
			Default(0),
		field.Time("created_at").
			Default(time.Now).
			Immutable(),
		field.Time("updated_at").
			Default(time.Now).
			UpdateDefault(time.Now),
	}
}

// Edges of the AbstractTerminal.
func (AbstractTerminal) Edges() []ent.Edge {
	return []ent.Edge{
		edge.From("lease", SandboxLease.Type).
			Ref("terminals").
			Field("lease_id").
			Unique().
			Required().
			Annotations(entsql.OnDelete(entsql.Cascade)),
	}
}

// Indexes of the AbstractTerminal.
func (AbstractTerminal) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("thread_id"),
		index.Fields("lease_id"),
		// At most one default terminal per thread.
		index.Fields("thread_id", "is_default").
			Unique().
			Annotations(entsql.IndexWhere("is_default")),
	}
}
