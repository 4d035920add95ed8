package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema"
	"entgo.io/ent/schema/edge"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// SandboxLease holds the schema definition for the SandboxLease entity.
//
// A lease is the durable handle to a compute reservation; it survives
// instance churn and is the single writer of physical lifecycle state.
type SandboxLease struct {
	ent.Schema
}

// Fields of the SandboxLease.
func (SandboxLease) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("lease_id").
			Unique().
			Immutable(),
		field.String("provider_name").
			Comment("Registered SandboxProvider name, e.g. 'local', 'e2b', 'daytona'"),
		field.String("workspace_key").
			Optional().
			Nillable().
			Comment("Advisory dedup hint shared by threads pointing at the same workdir"),
		field.String("current_instance_id").
			Optional().
			Nillable(),
		field.Time("instance_created_at").
			Optional().
			Nillable(),
		field.Enum("desired_state").
			Values("running", "paused", "destroyed").
			Default("running"),
		field.Enum("observed_state").
			Values("running", "paused", "detached", "unknown").
			Default("detached"),
		field.Int("version").
			Default(0),
		field.Time("observed_at").
			Optional().
			Nillable(),
		field.String("last_error").
			Optional().
			Nillable(),
		field.Bool("needs_refresh").
			Default(false),
		field.Time("refresh_hint_at").
			Optional().
			Nillable(),
		field.String("status").
			Default("active"),
		field.Time("created_at").
			Default(time.Now).
			Immutable(),
		field.Time("updated_at").
			Default(time.Now).
			UpdateDefault(time.Now),
	}
}

// Edges of the SandboxLease.
func (SandboxLease) Edges() []ent.Edge {
	return []ent.Edge{
		edge.To("instances", SandboxInstance.Type),
		edge.To("events", LeaseEvent.Type),
		edge.To("terminals", AbstractTerminal.Type),
	}
}

// Indexes of the SandboxLease.
func (SandboxLease) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("provider_name"),
		index.Fields("needs_refresh"),
		index.Fields("workspace_key"),
	}
}

// Annotations for PostgreSQL-specific features.
func (SandboxLease) Annotations() []schema.Annotation {
	return []schema.Annotation{}
}
