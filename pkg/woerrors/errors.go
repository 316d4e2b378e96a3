// Package woerrors defines the error taxonomy used by the state machine and
// the tool dispatcher. The state machine returns its failures as
// ClassifiedErrors, so callers can branch on the class without
// string-matching messages. Tool handlers report failures as plain
// ToolResult error strings, and the dispatcher records every failed
// mutating call in the ledger with error_class external_failure.
package woerrors

import (
	"errors"
	"fmt"
)

// Class is one of the fixed error_class values recorded in the mutation
// ledger and execution log payloads.
type Class string

const (
	// InvalidInput covers missing/malformed parameters and validation
	// failures such as UTF-8 corruption, size-explosion, or a non-unique
	// patch search string.
	InvalidInput Class = "invalid_input"

	// PermissionDenied covers the static permission matrix, the read-only
	// guard, the destructive-DDL guard, and the bypass-embedded-in-SQL
	// guard.
	PermissionDenied Class = "permission_denied"

	// InvalidTransition is returned when the state machine rejects an
	// event for the WorkOrder's current status.
	InvalidTransition Class = "invalid_transition"

	// StatusMismatch is returned when a transition reports success but a
	// post-transition re-read shows a stale status. This is a core
	// integrity invariant violation and should never occur under correct
	// operation.
	StatusMismatch Class = "status_mismatch"

	// LockContention names a DDL advisory lock timeout. apply_migration
	// reports that case as a ToolResult error string, so the ledger records
	// it as external_failure.
	LockContention Class = "lock_contention"

	// ExternalFailure covers non-2xx HTTP responses from the git, sandbox,
	// or deploy endpoints.
	ExternalFailure Class = "external_failure"

	// NetworkTimeout covers aborts/timeouts on outbound I/O.
	NetworkTimeout Class = "network_timeout"

	// LedgerFailure is only ever logged to stderr; it is never propagated
	// to a tool caller as a ToolResult failure.
	LedgerFailure Class = "ledger_failure"

	// CircuitOpen names the Ops control loop refusing further action on a
	// WorkOrder. The loop logs that case and does not return this class.
	CircuitOpen Class = "circuit_open"
)

// ClassifiedError pairs a Class with a human-readable detail and, where
// available, the underlying error that produced it.
type ClassifiedError struct {
	Class  Class
	Detail string
	Err    error
}

// Error implements the error interface.
func (e *ClassifiedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Class, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Class, e.Detail)
}

// Unwrap returns the wrapped error, if any.
func (e *ClassifiedError) Unwrap() error {
	return e.Err
}

// New builds a ClassifiedError with no underlying cause.
func New(class Class, detail string) *ClassifiedError {
	return &ClassifiedError{Class: class, Detail: detail}
}

// Wrap builds a ClassifiedError around an existing error.
func Wrap(class Class, detail string, err error) *ClassifiedError {
	return &ClassifiedError{Class: class, Detail: detail, Err: err}
}

// ClassOf extracts the Class from err if it is (or wraps) a
// *ClassifiedError, defaulting to ExternalFailure for anything else since
// an unclassified error crossing a handler boundary is almost always a
// downstream system failure.
func ClassOf(err error) Class {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class
	}
	return ExternalFailure
}

// DetailOf extracts the Detail string from err, falling back to err.Error().
func DetailOf(err error) string {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Detail
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
