package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/edge"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// QAFinding holds the schema definition for the QAFinding entity — an
// observation logged against a WorkOrder's acceptance criteria or general
// quality, typically produced during review.
type QAFinding struct {
	ent.Schema
}

// Fields of the QAFinding.
func (QAFinding) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("finding_id").
			Unique().
			Immutable(),
		field.String("work_order_id").
			Immutable(),
		field.Enum("finding_type").
			Values("info", "warn", "fail", "pass").
			Immutable(),
		field.String("category").
			Immutable(),
		field.Text("description").
			Immutable(),
		field.Text("evidence").
			Optional().
			Nillable().
			Immutable(),
		field.Time("created_at").
			Default(time.Now).
			Immutable(),
		field.Time("resolved_at").
			Optional().
			Nillable(),
	}
}

// Edges of the QAFinding.
func (QAFinding) Edges() []ent.Edge {
	return []ent.Edge{
		edge.From("work_order", WorkOrder.Type).
			Ref("qa_findings").
			Field("work_order_id").
			Unique().
			Required().
			Immutable(),
	}
}

// Indexes of the QAFinding.
func (QAFinding) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("work_order_id"),
		index.Fields("finding_type"),
	}
}
