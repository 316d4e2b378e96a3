package tools

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/worunner/worunner/pkg/config"
	"github.com/worunner/worunner/pkg/events"
	"github.com/worunner/worunner/pkg/ledger"
	"github.com/worunner/worunner/pkg/woerrors"
)

// destructiveGuardedTools are the tools whose query/statement input is
// subject to SQL classification, the destructive-prefix guard, and the
// bypass-keyword guard before the handler ever runs.
var destructiveGuardedTools = map[string]string{
	"execute_sql":     "query",
	"apply_migration": "query",
}

// Dispatcher is the single entry point every mutating and read-only tool
// call passes through. It enforces, in order: actor permission, the
// read-only actor guard, SQL classification and guards, proxy routing,
// handler execution, post-execution ledger recording, and journaling.
// Proxy routing comes after every guard, so a proxied call has already
// passed the permission, read-only and SQL checks.
type Dispatcher struct {
	registry    *Registry
	permissions *config.PermissionRegistry
	actors      *config.ActorRegistry
	proxy       *VerifyProxy
	ledger      *ledger.Ledger
	journal     *events.Journal
}

// NewDispatcher wires a Dispatcher from its constituent registries. journal
// may be nil, in which case tool calls are not added to the execution-log
// activity timeline (used by tests that don't exercise the Ops Control Loop).
func NewDispatcher(registry *Registry, permissions *config.PermissionRegistry, actors *config.ActorRegistry, proxy *VerifyProxy, led *ledger.Ledger, journal *events.Journal) *Dispatcher {
	return &Dispatcher{
		registry:    registry,
		permissions: permissions,
		actors:      actors,
		proxy:       proxy,
		ledger:      led,
		journal:     journal,
	}
}

// Dispatch runs one tool call through the full processing pipeline and
// returns its outward result. It never panics and never returns a Go error —
// every failure mode is expressed as a ToolResult with Success=false.
func (d *Dispatcher) Dispatch(ctx context.Context, toolName string, input map[string]interface{}, meta CallMeta) ToolResult {
	def, ok := d.registry.Get(toolName)
	if !ok {
		return Fail("unknown tool %q", toolName)
	}

	// execute_sql's mutating-ness is query-dependent: a SELECT-shaped query
	// is a read regardless of the tool's static registration, so it must
	// not trip the mutating-only permission/read-only-actor guards below
	// and must not be recorded as a mutation (§4.A: "SELECT-only execute_sql
	// calls are not recorded").
	effectiveMutating := def.Mutating
	if toolName == "execute_sql" {
		query, _ := input["query"].(string)
		effectiveMutating = Classify(query) != SQLKindRead
	}

	// Step 1: permission check (mutating tools only; unspecified defaults
	// to allow, explicit deny short-circuits).
	if effectiveMutating {
		if d.permissions.Check(meta.Actor, toolName) == config.PermissionDeny {
			return Fail("actor %q is not permitted to call %q", meta.Actor, toolName)
		}
	}

	// Step 5: read-only actor guard. A read_only actor may never invoke a
	// mutating tool, and for SQL tools specifically, may never submit a
	// query carrying any write keyword even if the tool itself is nominally
	// allowed.
	role := d.actors.Role(meta.Actor)
	if role == config.ActorRoleReadOnly {
		if effectiveMutating {
			return Fail("actor %q is read_only and may not call mutating tool %q", meta.Actor, toolName)
		}
	}

	// Step 3/4/5 combined for SQL-bearing tools: classify, reject
	// destructive statements and bypass attempts, and reject any write
	// keyword from a read_only actor before the statement ever reaches the
	// handler.
	if field, guarded := destructiveGuardedTools[toolName]; guarded {
		query, _ := input[field].(string)
		if ContainsBypassKeyword(query) && role != config.ActorRoleMaster {
			return Fail("query contains a row-level-security bypass keyword not permitted for actor %q", meta.Actor)
		}
		if toolName == "execute_sql" && IsDestructive(query) {
			return Fail("execute_sql may not run DROP or TRUNCATE statements; use apply_migration")
		}
		if role == config.ActorRoleReadOnly && HasWriteKeyword(query) {
			return Fail("actor %q is read_only and may not submit a write statement", meta.Actor)
		}
	}

	// Step 2: proxy routing. A successfully proxied call is recorded by the
	// proxy itself (proxy_mode=edge_proxy) and skips the in-process ledger
	// write below.
	if effectiveMutating && d.proxy != nil && d.proxy.Eligible(toolName) {
		if result, handled := d.proxy.Forward(ctx, toolName, input, meta.Actor, meta.WorkOrderID); handled {
			return result
		}
		// Falls through to in-process execution on any proxy failure.
	}

	// Step 6: handler execution.
	result := def.Handler(ctx, input, meta)

	// Step 7: post-execution ledger recording (mutating tools only).
	if effectiveMutating {
		d.recordMutation(ctx, toolName, input, meta, def, result)
	}

	if d.journal != nil {
		eventType := "read"
		if effectiveMutating {
			eventType = "write"
		}
		if err := d.journal.RecordToolCall(ctx, meta.WorkOrderID, meta.Actor, toolName, eventType, result.Success); err != nil {
			slog.Error("dispatcher: journal write failed", "work_order_id", meta.WorkOrderID, "tool_name", toolName, "error", err)
		}
	}

	return result
}

func (d *Dispatcher) recordMutation(ctx context.Context, toolName string, input map[string]interface{}, meta CallMeta, def Definition, result ToolResult) {
	objectType, objectID, action := "", "", toolName
	if def.Extract != nil {
		var extractedAction string
		objectType, objectID, extractedAction = def.Extract(input, result)
		if extractedAction != "" {
			action = extractedAction
		}
	}

	rec := ledger.Record{
		WorkOrderID: meta.WorkOrderID,
		ToolName:    toolName,
		ObjectType:  objectType,
		ObjectID:    objectID,
		Action:      action,
		Success:     result.Success,
		Actor:       meta.Actor,
		Result:      marshalForHash(result),
	}
	if !result.Success {
		rec.ErrorClass = string(woerrors.ExternalFailure)
		rec.ErrorDetail = result.Error
	}

	if ok, _ := d.ledger.Record(ctx, rec); !ok {
		slog.Error("dispatcher: mutation ledger write exhausted retries",
			"work_order_id", meta.WorkOrderID, "tool_name", toolName, "actor", meta.Actor)
	}
}

func marshalForHash(result ToolResult) string {
	b, err := json.Marshal(result.Data)
	if err != nil {
		return result.Error
	}
	return string(b)
}
