// Package ledger implements the Mutation Ledger: a durable, append-only
// record of every mutating tool call dispatched against a WorkOrder. A
// ledger write failure is never allowed to masquerade as a tool failure —
// the handler's side effect already happened, so the ledger retries on its
// own and, if still unsuccessful, logs to stderr and moves on.
package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/worunner/worunner/ent"
	"github.com/worunner/worunner/ent/mutationrecord"
)

const (
	maxAttempts  = 3
	baseBackoff  = 100 * time.Millisecond
	hashByteCap  = 10_000
	proxySelf    = "self_report"
	proxyEdge    = "edge_proxy"
)

// Record is the input to a single ledger write. Result is whatever the
// handler produced on success, or the error detail string on failure;
// ResultHash is computed over its serialized form.
type Record struct {
	WorkOrderID string
	ToolName    string
	ObjectType  string
	ObjectID    string
	Action      string
	Success     bool
	ErrorClass  string
	ErrorDetail string
	Context     map[string]interface{}
	Actor       string
	ProxyMode   string // defaults to self_report when empty
	Result      string // pre-serialized result or error text to hash
	Verified    *bool  // set by a post-hoc verifier, e.g. github_push_files' byte-count check
}

// Ledger records mutations durably and idempotently.
type Ledger struct {
	client *ent.Client
}

// New builds a Ledger backed by the given Ent client.
func New(client *ent.Client) *Ledger {
	return &Ledger{client: client}
}

// Record persists m, making up to 3 attempts in all with linear backoff
// (100ms * attempt) between them. On exhausted retries it logs to stderr and
// returns ok=false — it never returns an error the caller must propagate.
func (l *Ledger) Record(ctx context.Context, m Record) (ok bool, mutationID string) {
	proxyMode := m.ProxyMode
	if proxyMode == "" {
		proxyMode = proxySelf
	}
	id := "mut-" + uuid.NewString()
	hash := ResultHash(m.Result)

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := l.insert(ctx, id, m, hash, proxyMode)
		if err == nil {
			return true, id
		}
		lastErr = err
		if attempt < maxAttempts {
			time.Sleep(baseBackoff * time.Duration(attempt))
		}
	}

	slog.Error("ledger: record failed, mutation is unaccounted for",
		"work_order_id", m.WorkOrderID,
		"tool_name", m.ToolName,
		"actor", m.Actor,
		"error", lastErr)
	return false, ""
}

func (l *Ledger) insert(ctx context.Context, id string, m Record, hash, proxyMode string) error {
	create := l.client.MutationRecord.Create().
		SetID(id).
		SetWorkOrderID(m.WorkOrderID).
		SetToolName(m.ToolName).
		SetAction(m.Action).
		SetSuccess(m.Success).
		SetResultHash(hash).
		SetProxyMode(mutationrecord.ProxyMode(proxyMode)).
		SetActor(m.Actor)

	if m.ObjectType != "" {
		create.SetObjectType(m.ObjectType)
	}
	if m.ObjectID != "" {
		create.SetObjectID(m.ObjectID)
	}
	if m.ErrorClass != "" {
		create.SetErrorClass(m.ErrorClass)
	}
	if m.ErrorDetail != "" {
		create.SetErrorDetail(m.ErrorDetail)
	}
	if m.Context != nil {
		create.SetContext(m.Context)
	}
	if m.Verified != nil {
		create.SetVerified(*m.Verified)
	}

	_, err := create.Save(ctx)
	return err
}

// ResultHash computes the hex-encoded SHA-256 of the first 10,000 bytes of
// s, matching the audit layer's deterministic-replay cross-check.
func ResultHash(s string) string {
	b := []byte(s)
	if len(b) > hashByteCap {
		b = b[:hashByteCap]
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
