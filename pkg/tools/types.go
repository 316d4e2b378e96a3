// Package tools implements the Tool Registry & Dispatcher: the single entry
// point every agent action passes through on its way to a side effect.
package tools

import (
	"context"
	"fmt"
)

// ToolResult is the uniform outward shape of every tool call. Terminal
// signals the outer agent loop to stop driving this WorkOrder further this
// turn (set only by request_clarification).
type ToolResult struct {
	Success  bool        `json:"success"`
	Data     interface{} `json:"data,omitempty"`
	Error    string      `json:"error,omitempty"`
	Terminal bool        `json:"terminal,omitempty"`
}

// Fail builds a failed ToolResult. Handlers use this at their boundary
// instead of returning a Go error, so the dispatcher never has to recover
// from a panic or unwind an error chain to answer the caller.
func Fail(format string, args ...interface{}) ToolResult {
	return ToolResult{Success: false, Error: fmt.Sprintf(format, args...)}
}

// Ok builds a successful ToolResult carrying data.
func Ok(data interface{}) ToolResult {
	return ToolResult{Success: true, Data: data}
}

// CallMeta carries the ambient identity a handler needs but that isn't part
// of the tool's own input schema.
type CallMeta struct {
	Actor         string
	WorkOrderID   string
	WorkOrderSlug string
}

// Handler executes one tool call. It must not panic; validation and
// downstream failures are reported through the returned ToolResult.
type Handler func(ctx context.Context, input map[string]interface{}, meta CallMeta) ToolResult

// ObjectExtractor derives the ledger's object_type/object_id/action triple
// from a mutating tool's input and result. Tools without one record with
// empty object_type/object_id and action=tool name.
type ObjectExtractor func(input map[string]interface{}, result ToolResult) (objectType, objectID, action string)

// Definition registers one tool with the Registry.
type Definition struct {
	Name     string
	Mutating bool
	Handler  Handler
	Extract  ObjectExtractor
}
