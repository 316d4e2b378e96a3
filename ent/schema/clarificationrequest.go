package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/edge"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// ClarificationRequest holds the schema definition for the
// ClarificationRequest entity — a blocking question an actor raises against
// a WorkOrder via request_clarification. Its creation is the canonical
// suspension point for human input; it is resolved via answer_clarification
// or expired by the retention sweep.
type ClarificationRequest struct {
	ent.Schema
}

// Fields of the ClarificationRequest.
func (ClarificationRequest) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("clarification_id").
			Unique().
			Immutable(),
		field.String("work_order_id").
			Immutable(),
		field.Text("question").
			Immutable(),
		field.Text("context").
			Optional().
			Nillable().
			Immutable(),
		field.JSON("options", []string{}).
			Optional().
			Immutable(),
		field.Enum("urgency").
			Values("low", "normal", "high").
			Default("normal").
			Immutable(),
		field.String("asked_by_actor").
			Immutable(),
		field.Enum("status").
			Values("pending", "answered", "expired").
			Default("pending"),
		field.Text("answer").
			Optional().
			Nillable(),
		field.String("answered_by_actor").
			Optional().
			Nillable(),
		field.Time("created_at").
			Default(time.Now).
			Immutable(),
		field.Time("answered_at").
			Optional().
			Nillable(),
		field.Time("expires_at").
			Comment("created_at + retention.clarification_ttl"),
	}
}

// Edges of the ClarificationRequest.
func (ClarificationRequest) Edges() []ent.Edge {
	return []ent.Edge{
		edge.From("work_order", WorkOrder.Type).
			Ref("clarification_requests").
			Field("work_order_id").
			Unique().
			Required().
			Immutable(),
	}
}

// Indexes of the ClarificationRequest.
func (ClarificationRequest) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("work_order_id", "status"),
		index.Fields("status", "expires_at"),
	}
}
