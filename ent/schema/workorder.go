package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/dialect/entsql"
	"entgo.io/ent/schema/edge"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// WorkOrder holds the schema definition for the WorkOrder entity — the
// atomic unit of scheduled, auditable work driven by an agent.
type WorkOrder struct {
	ent.Schema
}

// Fields of the WorkOrder.
func (WorkOrder) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("work_order_id").
			Unique().
			Immutable(),
		field.String("slug").
			Unique().
			Comment("Human-readable identifier, e.g. wo-2026-0142"),
		field.String("name"),
		field.Text("objective"),
		field.JSON("acceptance_criteria", []string{}).
			Optional().
			Comment("Ordered list of acceptance criteria"),
		field.Enum("priority").
			Values("p0_critical", "p1_high", "p2_medium", "p3_low").
			Default("p2_medium"),
		field.Enum("status").
			Values("draft", "ready", "pending_approval", "in_progress", "blocked",
				"blocked_on_input", "review", "done", "cancelled", "failed").
			Default("draft"),
		field.String("assigned_actor").
			Optional().
			Nillable(),
		field.JSON("tags", []string{}).
			Optional().
			Comment("Set of free-form tokens; special: remediation, parent:<slug>, local-filesystem, edge-function, deploy, schema"),
		field.String("parent_id").
			Optional().
			Nillable().
			Comment("Forms a DAG with other WorkOrders; no cycles"),
		field.JSON("qa_checklist", []QAChecklistItem{}).
			Optional(),
		field.JSON("client_info", map[string]interface{}{}).
			Optional().
			Comment("Retry counters and operational bookkeeping (e.g. ops_retry_count, ops_failure_attempt_<id>)"),
		field.Text("summary").
			Optional().
			Nillable(),
		field.Time("created_at").
			Default(time.Now).
			Immutable(),
		field.Time("updated_at").
			Default(time.Now).
			UpdateDefault(time.Now),
		field.Time("completed_at").
			Optional().
			Nillable(),
	}
}

// QAChecklistItem is one entry of a WorkOrder's qa_checklist.
type QAChecklistItem struct {
	ID        string `json:"id"`
	Criterion string `json:"criterion"`
	Status    string `json:"status"` // pass|fail|pending|na
	Evidence  string `json:"evidence,omitempty"`
}

// Edges of the WorkOrder.
func (WorkOrder) Edges() []ent.Edge {
	return []ent.Edge{
		edge.To("children", WorkOrder.Type).
			From("parent").
			Field("parent_id").
			Unique().
			Annotations(entsql.OnDelete(entsql.SetNull)),
		edge.To("mutation_records", MutationRecord.Type).
			Annotations(entsql.OnDelete(entsql.Cascade)),
		edge.To("execution_log_entries", ExecutionLogEntry.Type).
			Annotations(entsql.OnDelete(entsql.Cascade)),
		edge.To("wo_events", WOEvent.Type).
			Annotations(entsql.OnDelete(entsql.Cascade)),
		edge.To("clarification_requests", ClarificationRequest.Type).
			Annotations(entsql.OnDelete(entsql.Cascade)),
		edge.To("qa_findings", QAFinding.Type).
			Annotations(entsql.OnDelete(entsql.Cascade)),
	}
}

// Indexes of the WorkOrder.
func (WorkOrder) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("status"),
		index.Fields("assigned_actor"),
		index.Fields("parent_id"),
		// Ops Control Loop's stuck scan: all in_progress WOs ordered by staleness.
		index.Fields("status", "updated_at"),
	}
}
