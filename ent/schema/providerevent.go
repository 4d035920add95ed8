package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// ProviderEvent holds the schema definition for the ProviderEvent entity.
//
// Append-only ingestion log of raw provider webhook deliveries, persisted
// regardless of whether a matching lease was found.
type ProviderEvent struct {
	ent.Schema
}

// Fields of the ProviderEvent.
func (ProviderEvent) Fields() []ent.Field {
	return []ent.Field{
		field.Int("id"),
		field.String("provider_name").
			Immutable(),
		field.String("instance_id").
			Immutable(),
		field.String("event_type").
			Immutable(),
		field.JSON("payload", map[string]any{}).
			Optional(),
		field.String("matched_lease_id").
			Optional().
			Nillable(),
		field.Time("created_at").
			Default(time.Now).
			Immutable(),
	}
}

// Indexes of the ProviderEvent.
func (ProviderEvent) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("created_at"),
		index.Fields("provider_name", "instance_id"),
	}
}
