// Package statemachine implements the WorkOrder state machine: a strict
// event x status transition table whose every application is followed by a
// re-read of the row it just wrote, so a silently-rejected or optimistic
// transition is caught at the source instead of drifting the system's
// picture of reality away from the database's.
package statemachine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/worunner/worunner/ent"
	"github.com/worunner/worunner/ent/clarificationrequest"
	"github.com/worunner/worunner/ent/executionlogentry"
	"github.com/worunner/worunner/ent/workorder"
	"github.com/worunner/worunner/pkg/config"
	"github.com/worunner/worunner/pkg/woerrors"
)

// Event is one of the verbs that drives a WorkOrder transition.
type Event string

const (
	EventApprove              Event = "approve"
	EventStartWork            Event = "start_work"
	EventSubmitForReview      Event = "submit_for_review"
	EventMarkDone             Event = "mark_done"
	EventReject               Event = "reject"
	EventMarkFailed           Event = "mark_failed"
	EventCancel               Event = "cancel"
	EventRequestClarification Event = "request_clarification"
	EventAnswerClarification  Event = "answer_clarification"
	EventBlock                Event = "block"
	EventUnblock              Event = "unblock"
)

var nonTerminal = []workorder.Status{
	workorder.StatusDraft,
	workorder.StatusReady,
	workorder.StatusPendingApproval,
	workorder.StatusInProgress,
	workorder.StatusBlocked,
	workorder.StatusBlockedOnInput,
	workorder.StatusReview,
}

type guardFunc func(ctx context.Context, sm *StateMachine, tx *ent.Tx, wo *ent.WorkOrder, actor string, role config.ActorRole, payload map[string]interface{}) error

type rule struct {
	to    workorder.Status
	guard guardFunc
}

// StateMachine applies events to WorkOrders under the transition table in
// spec §4.B.
type StateMachine struct {
	client    *ent.Client
	actors    *config.ActorRegistry
	defaults  *config.Defaults
	retention *config.RetentionConfig
}

// New builds a StateMachine.
func New(client *ent.Client, actors *config.ActorRegistry, defaults *config.Defaults, retention *config.RetentionConfig) *StateMachine {
	return &StateMachine{client: client, actors: actors, defaults: defaults, retention: retention}
}

func (sm *StateMachine) table() map[Event]map[workorder.Status]rule {
	return map[Event]map[workorder.Status]rule{
		EventApprove: {
			workorder.StatusDraft:           {to: workorder.StatusReady, guard: guardApproveFromDraft},
			workorder.StatusPendingApproval: {to: workorder.StatusReady, guard: guardMasterOnly},
		},
		EventStartWork: {
			workorder.StatusReady: {to: workorder.StatusInProgress, guard: guardAssignedOrMaster},
		},
		EventSubmitForReview: {
			workorder.StatusInProgress: {to: workorder.StatusReview, guard: guardDeploymentVerification},
		},
		EventMarkDone: {
			workorder.StatusReview: {to: workorder.StatusDone, guard: guardChecklistPasses},
		},
		EventReject: {
			workorder.StatusReview:          {to: workorder.StatusInProgress, guard: guardReasonRequired},
			workorder.StatusPendingApproval: {to: workorder.StatusDraft, guard: guardReasonRequired},
		},
		EventRequestClarification: {
			workorder.StatusInProgress: {to: workorder.StatusBlockedOnInput, guard: guardCreateClarification},
		},
		EventAnswerClarification: {
			workorder.StatusBlockedOnInput: {to: workorder.StatusInProgress, guard: guardResolveClarification},
		},
		EventBlock: {
			workorder.StatusInProgress: {to: workorder.StatusBlocked, guard: guardReasonRequired},
		},
		EventUnblock: {
			workorder.StatusBlocked: {to: workorder.StatusInProgress, guard: nil},
		},
		EventMarkFailed: ruleSet(nonTerminal, workorder.StatusFailed, guardReasonRequired),
		EventCancel:     ruleSet(nonTerminal, workorder.StatusCancelled, guardCancelAuthorized),
	}
}

func ruleSet(from []workorder.Status, to workorder.Status, guard guardFunc) map[workorder.Status]rule {
	m := make(map[workorder.Status]rule, len(from))
	for _, s := range from {
		m[s] = rule{to: to, guard: guard}
	}
	return m
}

// Apply runs event against woID on behalf of actor. payload carries
// event-specific data (e.g. "reason", "question", "clarification_id").
// After committing the transition it re-reads the row; a mismatch between
// the expected and observed status is reported as woerrors.StatusMismatch
// rather than silently trusted.
func (sm *StateMachine) Apply(ctx context.Context, woID string, event Event, actor string, payload map[string]interface{}) (*ent.WorkOrder, error) {
	tx, err := sm.client.Tx(ctx)
	if err != nil {
		return nil, woerrors.Wrap(woerrors.ExternalFailure, "starting transaction", err)
	}

	wo, err := tx.WorkOrder.Get(ctx, woID)
	if err != nil {
		_ = tx.Rollback()
		return nil, woerrors.Wrap(woerrors.InvalidInput, "work order not found", err)
	}

	rules, ok := sm.table()[event]
	if !ok {
		_ = tx.Rollback()
		return nil, woerrors.New(woerrors.InvalidTransition, fmt.Sprintf("unknown event %q", event))
	}
	r, ok := rules[wo.Status]
	if !ok {
		_ = tx.Rollback()
		return nil, woerrors.New(woerrors.InvalidTransition,
			fmt.Sprintf("event %q is not valid from status %q", event, wo.Status))
	}

	role := sm.actors.Role(actor)

	if r.guard != nil {
		if err := r.guard(ctx, sm, tx, wo, actor, role, payload); err != nil {
			_ = tx.Rollback()
			return nil, err
		}
	}

	previousStatus := wo.Status
	update := tx.WorkOrder.UpdateOneID(woID).SetStatus(r.to)
	applyPayloadMutations(update, event, payload)

	if _, err := update.Save(ctx); err != nil {
		_ = tx.Rollback()
		return nil, woerrors.Wrap(woerrors.ExternalFailure, "transition update failed", err)
	}

	if _, err := tx.WOEvent.Create().
		SetID("evt-" + uuid.NewString()).
		SetWorkOrderID(woID).
		SetEventType(string(event)).
		SetPreviousStatus(string(previousStatus)).
		SetNewStatus(string(r.to)).
		SetActor(actor).
		SetPayload(payload).
		Save(ctx); err != nil {
		_ = tx.Rollback()
		return nil, woerrors.Wrap(woerrors.ExternalFailure, "writing WOEvent journal", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, woerrors.Wrap(woerrors.ExternalFailure, "committing transition", err)
	}

	fresh, err := sm.client.WorkOrder.Get(ctx, woID)
	if err != nil {
		return nil, woerrors.Wrap(woerrors.ExternalFailure, "post-transition re-read failed", err)
	}
	if fresh.Status != r.to {
		slog.Error("statemachine: post-transition verification failed",
			"work_order_id", woID, "event", event, "expected", r.to, "observed", fresh.Status)
		return nil, woerrors.New(woerrors.StatusMismatch,
			fmt.Sprintf("expected status %q, observed %q", r.to, fresh.Status))
	}

	return fresh, nil
}

func applyPayloadMutations(update *ent.WorkOrderUpdateOne, event Event, payload map[string]interface{}) {
	switch event {
	case EventSubmitForReview:
		if s, ok := payload["summary"].(string); ok && s != "" {
			update.SetSummary(s)
		}
	case EventMarkDone:
		if s, ok := payload["summary"].(string); ok && s != "" {
			update.SetSummary(s)
		}
		update.SetCompletedAt(time.Now())
	case EventMarkFailed:
		if s, ok := payload["reason"].(string); ok && s != "" {
			update.SetSummary(s)
		}
		update.SetCompletedAt(time.Now())
	case EventCancel:
		update.SetCompletedAt(time.Now())
	}
}

func guardApproveFromDraft(_ context.Context, sm *StateMachine, _ *ent.Tx, wo *ent.WorkOrder, _ string, role config.ActorRole, _ map[string]interface{}) error {
	if role == config.ActorRoleMaster {
		return nil
	}
	if !isAutoApprovePriority(sm.defaults, wo.Priority) {
		return woerrors.New(woerrors.PermissionDenied, "approval of this priority requires a master actor")
	}
	return nil
}

func isAutoApprovePriority(d *config.Defaults, priority workorder.Priority) bool {
	for _, p := range d.LowPriorityAutoApprove {
		if p == string(priority) {
			return true
		}
	}
	return false
}

func guardMasterOnly(_ context.Context, _ *StateMachine, _ *ent.Tx, _ *ent.WorkOrder, _ string, role config.ActorRole, _ map[string]interface{}) error {
	if role != config.ActorRoleMaster {
		return woerrors.New(woerrors.PermissionDenied, "only a master actor may approve a pending-approval work order")
	}
	return nil
}

func guardAssignedOrMaster(_ context.Context, _ *StateMachine, _ *ent.Tx, wo *ent.WorkOrder, actor string, role config.ActorRole, _ map[string]interface{}) error {
	if role == config.ActorRoleMaster {
		return nil
	}
	if wo.AssignedActor == nil || *wo.AssignedActor != actor {
		return woerrors.New(woerrors.PermissionDenied, "start_work requires the assigned actor or a master actor")
	}
	return nil
}

func guardReasonRequired(_ context.Context, _ *StateMachine, _ *ent.Tx, _ *ent.WorkOrder, _ string, _ config.ActorRole, payload map[string]interface{}) error {
	reason, _ := payload["reason"].(string)
	if strings.TrimSpace(reason) == "" {
		return woerrors.New(woerrors.InvalidInput, "reason is required")
	}
	return nil
}

func guardCancelAuthorized(_ context.Context, _ *StateMachine, _ *ent.Tx, wo *ent.WorkOrder, actor string, role config.ActorRole, _ map[string]interface{}) error {
	if role == config.ActorRoleMaster {
		return nil
	}
	if wo.AssignedActor != nil && *wo.AssignedActor == actor {
		return nil
	}
	return woerrors.New(woerrors.PermissionDenied, "cancel requires the assigned actor or a master actor")
}

func guardDeploymentVerification(ctx context.Context, sm *StateMachine, tx *ent.Tx, wo *ent.WorkOrder, _ string, _ config.ActorRole, _ map[string]interface{}) error {
	if !tagsIntersect(sm.defaults.DeploymentTags, wo.Tags) {
		return nil
	}
	count, err := tx.ExecutionLogEntry.Query().
		Where(
			executionlogentry.WorkOrderID(wo.ID),
			executionlogentry.Phase("deployment_verification"),
		).Count(ctx)
	if err != nil {
		return woerrors.Wrap(woerrors.ExternalFailure, "checking deployment_verification log entries", err)
	}
	if count == 0 {
		return woerrors.New(woerrors.InvalidInput,
			"submit_for_review requires a deployment_verification log entry for deployment-tagged work orders")
	}
	return nil
}

func tagsIntersect(required, actual []string) bool {
	set := make(map[string]bool, len(required))
	for _, t := range required {
		set[t] = true
	}
	for _, t := range actual {
		if set[t] {
			return true
		}
	}
	return false
}

func guardChecklistPasses(_ context.Context, _ *StateMachine, _ *ent.Tx, wo *ent.WorkOrder, _ string, role config.ActorRole, payload map[string]interface{}) error {
	if role == config.ActorRoleMaster {
		if override, _ := payload["master_override"].(bool); override {
			return nil
		}
	}
	for _, item := range wo.QaChecklist {
		if item.Status == "fail" {
			return woerrors.New(woerrors.InvalidInput,
				fmt.Sprintf("qa checklist item %q failed; master override required to mark done", item.ID))
		}
	}
	return nil
}

func guardCreateClarification(ctx context.Context, sm *StateMachine, tx *ent.Tx, wo *ent.WorkOrder, actor string, _ config.ActorRole, payload map[string]interface{}) error {
	question, _ := payload["question"].(string)
	if strings.TrimSpace(question) == "" {
		return woerrors.New(woerrors.InvalidInput, "question is required")
	}

	urgency, _ := payload["urgency"].(string)
	if urgency == "" {
		urgency = "normal"
	}

	create := tx.ClarificationRequest.Create().
		SetID("clr-" + uuid.NewString()).
		SetWorkOrderID(wo.ID).
		SetQuestion(question).
		SetAskedByActor(actor).
		SetUrgency(clarificationrequest.Urgency(urgency)).
		SetExpiresAt(time.Now().Add(sm.retention.ClarificationTTL))

	if c, ok := payload["context"].(string); ok && c != "" {
		create.SetContext(c)
	}
	if opts, ok := payload["options"].([]string); ok {
		create.SetOptions(opts)
	}

	if _, err := create.Save(ctx); err != nil {
		return woerrors.Wrap(woerrors.ExternalFailure, "creating clarification request", err)
	}
	return nil
}

func guardResolveClarification(ctx context.Context, _ *StateMachine, tx *ent.Tx, wo *ent.WorkOrder, actor string, _ config.ActorRole, payload map[string]interface{}) error {
	answer, _ := payload["answer"].(string)
	if strings.TrimSpace(answer) == "" {
		return woerrors.New(woerrors.InvalidInput, "answer is required")
	}

	q := tx.ClarificationRequest.Query().
		Where(
			clarificationrequest.WorkOrderID(wo.ID),
			clarificationrequest.Status(clarificationrequest.StatusPending),
		)
	if id, ok := payload["clarification_id"].(string); ok && id != "" {
		q = q.Where(clarificationrequest.ID(id))
	}

	pending, err := q.Order(ent.Desc(clarificationrequest.FieldCreatedAt)).First(ctx)
	if err != nil {
		return woerrors.Wrap(woerrors.InvalidInput, "no matching pending clarification request", err)
	}

	now := time.Now()
	if _, err := tx.ClarificationRequest.UpdateOneID(pending.ID).
		SetStatus(clarificationrequest.StatusAnswered).
		SetAnswer(answer).
		SetAnsweredByActor(actor).
		SetAnsweredAt(now).
		Save(ctx); err != nil {
		return woerrors.Wrap(woerrors.ExternalFailure, "resolving clarification request", err)
	}
	return nil
}
