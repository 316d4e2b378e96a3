package handlers

import (
	"context"

	"github.com/google/uuid"
	"github.com/worunner/worunner/ent"
)

// writeExecutionLog appends one phase-tagged entry to a WorkOrder's
// execution log. Used by handlers that must leave a durable trace outside
// the mutation ledger — most notably deploy_edge_function's mandatory
// deployment_verification entry, which the state machine's deployment-tag
// guard depends on.
func writeExecutionLog(ctx context.Context, client *ent.Client, workOrderID, actor, phase string, detail map[string]interface{}) error {
	_, err := client.ExecutionLogEntry.Create().
		SetID("log-" + uuid.NewString()).
		SetWorkOrderID(workOrderID).
		SetPhase(phase).
		SetActor(actor).
		SetDetail(detail).
		Save(ctx)
	return err
}
