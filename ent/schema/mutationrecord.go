package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/edge"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// MutationRecord holds the schema definition for the MutationRecord entity.
// Every mutating tool call produces one append-only record here,
// independent of tool success or failure, once the mutation has actually
// been attempted. github_push_files additionally writes one VERIFY-action
// record per pushed file.
type MutationRecord struct {
	ent.Schema
}

// Fields of the MutationRecord.
func (MutationRecord) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("mutation_id").
			Unique().
			Immutable(),
		field.String("work_order_id").
			Immutable(),
		field.String("tool_name").
			Immutable(),
		field.String("object_type").
			Optional().
			Nillable().
			Immutable(),
		field.String("object_id").
			Optional().
			Nillable().
			Immutable(),
		field.String("action").
			Immutable().
			Comment("Tool-specific verb: SELECT|INSERT|DDL|PUSH|DEPLOY|EXEC|TEST"),
		field.Bool("success").
			Immutable(),
		field.Bool("verified").
			Optional().
			Nillable().
			Comment("Set by a post-hoc verifier, e.g. github_push_files byte-count check"),
		field.String("error_class").
			Optional().
			Nillable().
			Immutable(),
		field.Text("error_detail").
			Optional().
			Nillable().
			Immutable(),
		field.JSON("context", map[string]interface{}{}).
			Optional().
			Immutable(),
		field.String("result_hash").
			Immutable().
			Comment("SHA-256 over the first 10000 bytes of the serialized result"),
		field.Enum("proxy_mode").
			Values("self_report", "edge_proxy").
			Default("self_report").
			Immutable(),
		field.String("actor").
			Immutable(),
		field.Time("created_at").
			Default(time.Now).
			Immutable(),
	}
}

// Edges of the MutationRecord.
func (MutationRecord) Edges() []ent.Edge {
	return []ent.Edge{
		edge.From("work_order", WorkOrder.Type).
			Ref("mutation_records").
			Field("work_order_id").
			Unique().
			Required().
			Immutable(),
	}
}

// Indexes of the MutationRecord.
func (MutationRecord) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("work_order_id", "created_at"),
		index.Fields("tool_name"),
	}
}
