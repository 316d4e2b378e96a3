package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/edge"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// ExecutionLogEntry holds the schema definition for the ExecutionLogEntry
// entity — the append-only chronological narrative of everything an actor
// did against a WorkOrder, mutating or not. Also the Ops control loop's
// source of activity for stuck-WO detection.
type ExecutionLogEntry struct {
	ent.Schema
}

// Fields of the ExecutionLogEntry.
func (ExecutionLogEntry) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("log_entry_id").
			Unique().
			Immutable(),
		field.String("work_order_id").
			Immutable(),
		field.String("phase").
			Immutable().
			Comment("spec|plan|...|stream|failed|execution_complete|deployment_verification|checkpoint|continuation"),
		field.String("actor").
			Immutable(),
		field.JSON("detail", map[string]interface{}{}).
			Optional().
			Immutable().
			Comment("Contains event_type plus a tool-specific payload"),
		field.Time("created_at").
			Default(time.Now).
			Immutable(),
	}
}

// Edges of the ExecutionLogEntry.
func (ExecutionLogEntry) Edges() []ent.Edge {
	return []ent.Edge{
		edge.From("work_order", WorkOrder.Type).
			Ref("execution_log_entries").
			Field("work_order_id").
			Unique().
			Required().
			Immutable(),
	}
}

// Indexes of the ExecutionLogEntry.
func (ExecutionLogEntry) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("work_order_id", "created_at"),
		index.Fields("phase"),
	}
}
