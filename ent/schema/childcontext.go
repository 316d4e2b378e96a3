package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// ChildContext holds the schema definition for the ChildContext (TeamContext)
// entity — a root-WorkOrder-scoped shared context entry visible to every
// descendant in the delegation tree spawned by delegate_subtask.
type ChildContext struct {
	ent.Schema
}

// Fields of the ChildContext.
func (ChildContext) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("context_id").
			Unique().
			Immutable(),
		field.String("root_work_order_id").
			Immutable().
			Comment("The delegating root WorkOrder; visible to its entire descendant tree"),
		field.String("author_actor").
			Immutable(),
		field.Enum("context_type").
			Values("plan", "finding", "decision", "file_list", "schema_change").
			Immutable(),
		field.Text("content").
			Immutable(),
		field.JSON("metadata", map[string]interface{}{}).
			Optional().
			Immutable(),
		field.Time("created_at").
			Default(time.Now).
			Immutable(),
	}
}

// Edges of the ChildContext.
func (ChildContext) Edges() []ent.Edge {
	return nil
}

// Indexes of the ChildContext.
func (ChildContext) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("root_work_order_id", "created_at"),
		index.Fields("root_work_order_id", "context_type"),
	}
}
