package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/dialect/entsql"
	"entgo.io/ent/schema/edge"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// SandboxInstance holds the schema definition for the SandboxInstance entity.
//
// An instance is the ephemeral compute entity currently bound to a lease.
type SandboxInstance struct {
	ent.Schema
}

// Fields of the SandboxInstance.
func (SandboxInstance) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("instance_id").
			Unique().
			Immutable(),
		field.String("lease_id").
			Immutable(),
		field.String("provider_session_id").
			Optional().
			Nillable().
			Comment("Raw provider-assigned session/sandbox id, when distinct from instance_id"),
		field.Enum("status").
			Values("running", "paused", "detached", "unknown").
			Default("unknown"),
		field.Time("created_at").
			Default(time.Now).
			Immutable(),
		field.Time("last_seen_at").
			Default(time.Now).
			UpdateDefault(time.Now),
	}
}

// Edges of the SandboxInstance.
func (SandboxInstance) Edges() []ent.Edge {
	return []ent.Edge{
		edge.From("lease", SandboxLease.Type).
			Ref("instances").
			Field("lease_id").
			Unique().
			Required().
			Annotations(entsql.OnDelete(entsql.Cascade)),
	}
}

// Indexes of the SandboxInstance.
func (SandboxInstance) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("lease_id"),
		index.Fields("status"),
	}
}
