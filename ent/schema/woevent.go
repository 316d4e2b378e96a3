package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/edge"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// WOEvent holds the schema definition for the WOEvent entity — the journal
// of state-machine transitions applied to a WorkOrder. One row per applied
// transition, written in the same transaction as the status update; a
// transition rejected by its guard or a failed update writes no row.
type WOEvent struct {
	ent.Schema
}

// Fields of the WOEvent.
func (WOEvent) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("event_id").
			Unique().
			Immutable(),
		field.String("work_order_id").
			Immutable(),
		field.String("event_type").
			Immutable().
			Comment("Transition event name, e.g. submit_for_review"),
		field.String("previous_status").
			Immutable(),
		field.String("new_status").
			Immutable(),
		field.String("actor").
			Immutable(),
		field.JSON("payload", map[string]interface{}{}).
			Optional().
			Immutable(),
		field.Time("created_at").
			Default(time.Now).
			Immutable(),
	}
}

// Edges of the WOEvent.
func (WOEvent) Edges() []ent.Edge {
	return []ent.Edge{
		edge.From("work_order", WorkOrder.Type).
			Ref("wo_events").
			Field("work_order_id").
			Unique().
			Required().
			Immutable(),
	}
}

// Indexes of the WOEvent.
func (WOEvent) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("work_order_id", "created_at"),
	}
}
