// Package events persists the execution-log journal: the append-only,
// chronological record of everything an actor did against a WorkOrder,
// mutating or not. The teacher's events package additionally broadcasts
// these over WebSocket via a ConnectionManager and Postgres NOTIFY; that
// fan-out is dashboard-facing live-activity machinery this service doesn't
// expose, so Journal keeps only the persistence half.
package events

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/worunner/worunner/ent"
)

// Journal writes ExecutionLogEntry rows. It is the Ops Control Loop's only
// source of activity besides WorkOrder.UpdatedAt: minutes_idle is computed
// from whichever is more recent.
type Journal struct {
	client *ent.Client
}

// NewJournal builds a Journal.
func NewJournal(client *ent.Client) *Journal {
	return &Journal{client: client}
}

// Record appends one entry. detail is optional and may be nil.
func (j *Journal) Record(ctx context.Context, workOrderID, actor, phase string, detail map[string]interface{}) error {
	create := j.client.ExecutionLogEntry.Create().
		SetID("log-" + uuid.NewString()).
		SetWorkOrderID(workOrderID).
		SetPhase(phase).
		SetActor(actor)
	if detail != nil {
		create = create.SetDetail(detail)
	}
	if _, err := create.Save(ctx); err != nil {
		return fmt.Errorf("events: record %s entry for %s: %w", phase, workOrderID, err)
	}
	return nil
}

// RecordToolCall journals one dispatched tool call. eventType is "read" or
// "write" — the Ops Control Loop's exploration_spiral archetype check counts
// "read" entries directly against this journal.
func (j *Journal) RecordToolCall(ctx context.Context, workOrderID, actor, toolName, eventType string, success bool) error {
	return j.Record(ctx, workOrderID, actor, "tool_call", map[string]interface{}{
		"event_type": eventType,
		"tool_name":  toolName,
		"success":    success,
	})
}
