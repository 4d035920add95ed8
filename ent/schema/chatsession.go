package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/dialect/entsql"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// ChatSession holds the schema definition for the ChatSession entity.
//
// A policy window binding a thread to (terminal, lease, runtime) with
// idle/duration TTLs. At most one row per thread may be in
// {active, idle, paused} at a time — enforced by the partial unique index
// below.
type ChatSession struct {
	ent.Schema
}

// Fields of the ChatSession.
func (ChatSession) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("chat_session_id").
			Unique().
			Immutable(),
		field.String("thread_id").
			Immutable(),
		field.String("terminal_id").
			Immutable(),
		field.String("lease_id").
			Immutable(),
		field.String("runtime_id").
			Optional().
			Nillable(),
		field.Enum("status").
			Values("active", "idle", "paused", "closed", "failed").
			Default("active"),
		field.Int("idle_ttl_sec").
			Default(300),
		field.Int("max_duration_sec").
			Default(86400),
		field.Time("started_at").
			Default(time.Now).
			Immutable(),
		field.Time("last_active_at").
			Default(time.Now),
		field.Time("ended_at").
			Optional().
			Nillable(),
		field.String("close_reason").
			Optional().
			Nillable(),
	}
}

// Indexes of the ChatSession.
func (ChatSession) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("thread_id"),
		// Only one active/idle/paused session per thread.
		index.Fields("thread_id").
			Unique().
			StorageKey("chat_sessions_thread_live_uq").
			Annotations(entsql.IndexWhere("status IN ('active','idle','paused')")),
	}
}
