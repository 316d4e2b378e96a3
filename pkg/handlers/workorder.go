package handlers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/worunner/worunner/ent"
	"github.com/worunner/worunner/ent/childcontext"
	"github.com/worunner/worunner/ent/workorder"
	"github.com/worunner/worunner/pkg/statemachine"
	"github.com/worunner/worunner/pkg/tools"
)

// NewMarkCompleteHandler implements mark_complete: the in_progress→review
// leg of the state machine (submit_for_review), which is where the
// deployment-verification gate lives for deployment-tagged WOs. Before
// submitting, it appends a concurrent-overlap warning to summary when any
// other in_progress WO shares a non-operational tag.
func NewMarkCompleteHandler(sm *statemachine.StateMachine, client *ent.Client) tools.Handler {
	return func(ctx context.Context, input map[string]interface{}, meta tools.CallMeta) tools.ToolResult {
		summary, _ := input["summary"].(string)
		if summary == "" {
			return tools.Fail("mark_complete requires summary")
		}
		if warning := concurrentOverlapWarning(ctx, client, meta.WorkOrderID); warning != "" {
			summary = summary + "\n" + warning
		}
		wo, err := sm.Apply(ctx, meta.WorkOrderID, statemachine.EventSubmitForReview, meta.Actor, map[string]interface{}{"summary": summary})
		if err != nil {
			return tools.Fail("mark_complete: %v", err)
		}
		return tools.Ok(map[string]interface{}{"status": string(wo.Status)})
	}
}

// isOperationalTag reports whether tag is bookkeeping rather than a
// subject-matter tag — delegation markers and parent lineage tags don't
// count toward the concurrent-overlap check.
func isOperationalTag(tag string) bool {
	return reservedDelegationTags[tag] || strings.HasPrefix(tag, "parent:")
}

func tagsOverlap(a, b []string) bool {
	set := make(map[string]bool, len(a))
	for _, t := range a {
		set[t] = true
	}
	for _, t := range b {
		if set[t] {
			return true
		}
	}
	return false
}

// concurrentOverlapWarning finds other in_progress WorkOrders sharing a
// non-operational tag with woID's WorkOrder and, if any exist, returns a
// warning line naming their slugs. Returns "" if the lookup fails or no
// overlap is found — this check is advisory, never blocking.
func concurrentOverlapWarning(ctx context.Context, client *ent.Client, woID string) string {
	wo, err := client.WorkOrder.Get(ctx, woID)
	if err != nil {
		return ""
	}
	var subjectTags []string
	for _, t := range wo.Tags {
		if !isOperationalTag(t) {
			subjectTags = append(subjectTags, t)
		}
	}
	if len(subjectTags) == 0 {
		return ""
	}

	others, err := client.WorkOrder.Query().
		Where(workorder.Status(workorder.StatusInProgress), workorder.IDNEQ(woID)).
		All(ctx)
	if err != nil {
		return ""
	}

	var conflicts []string
	for _, o := range others {
		if tagsOverlap(subjectTags, o.Tags) {
			conflicts = append(conflicts, o.Slug)
		}
	}
	if len(conflicts) == 0 {
		return ""
	}
	return fmt.Sprintf("WARNING: overlapping in_progress work orders share a tag: %s", strings.Join(conflicts, ", "))
}

// NewMarkFailedHandler implements mark_failed: requires a reason, which the
// guard enforces, and accepts from both assigned actors and master/ops.
func NewMarkFailedHandler(sm *statemachine.StateMachine) tools.Handler {
	return func(ctx context.Context, input map[string]interface{}, meta tools.CallMeta) tools.ToolResult {
		reason, _ := input["reason"].(string)
		if reason == "" {
			return tools.Fail("mark_failed requires reason")
		}
		wo, err := sm.Apply(ctx, meta.WorkOrderID, statemachine.EventMarkFailed, meta.Actor, map[string]interface{}{"reason": reason})
		if err != nil {
			return tools.Fail("mark_failed: %v", err)
		}
		return tools.Ok(map[string]interface{}{"status": string(wo.Status)})
	}
}

// transitionEvents maps a target status to the event that reaches it from
// the most common originating status, for the generic transition_state
// tool. Guard rejection still applies — naming an unreachable target status
// from the WO's current status surfaces as the state machine's own
// invalid_transition error.
var transitionEvents = map[workorder.Status]statemachine.Event{
	workorder.StatusReady:       statemachine.EventApprove,
	workorder.StatusInProgress:  statemachine.EventStartWork,
	workorder.StatusReview:      statemachine.EventSubmitForReview,
	workorder.StatusDone:        statemachine.EventMarkDone,
	workorder.StatusDraft:       statemachine.EventReject,
	workorder.StatusFailed:      statemachine.EventMarkFailed,
	workorder.StatusCancelled:   statemachine.EventCancel,
	workorder.StatusBlocked:     statemachine.EventBlock,
}

// NewTransitionStateHandler implements transition_state: a generic escape
// hatch that resolves new_status to the event that reaches it and runs it
// through the same state machine every other transition tool uses.
func NewTransitionStateHandler(sm *statemachine.StateMachine) tools.Handler {
	return func(ctx context.Context, input map[string]interface{}, meta tools.CallMeta) tools.ToolResult {
		newStatus, _ := input["new_status"].(string)
		summary, _ := input["summary"].(string)
		event, ok := transitionEvents[workorder.Status(newStatus)]
		if !ok {
			return tools.Fail("transition_state: no known event reaches status %q", newStatus)
		}
		payload := map[string]interface{}{}
		if summary != "" {
			payload["summary"] = summary
			payload["reason"] = summary
		}
		wo, err := sm.Apply(ctx, meta.WorkOrderID, event, meta.Actor, payload)
		if err != nil {
			return tools.Fail("transition_state: %v", err)
		}
		return tools.Ok(map[string]interface{}{"status": string(wo.Status)})
	}
}

// NewRequestClarificationHandler implements request_clarification: moves
// the WorkOrder to blocked_on_input and is always terminal for the calling
// turn, since nothing further can proceed until a human answers.
func NewRequestClarificationHandler(sm *statemachine.StateMachine) tools.Handler {
	return func(ctx context.Context, input map[string]interface{}, meta tools.CallMeta) tools.ToolResult {
		question, _ := input["question"].(string)
		if question == "" {
			return tools.Fail("request_clarification requires question")
		}
		payload := map[string]interface{}{"question": question}
		if context, ok := input["context"].(string); ok {
			payload["context"] = context
		}
		if options, ok := input["options"].([]interface{}); ok {
			payload["options"] = options
		}
		if urgency, ok := input["urgency"].(string); ok {
			payload["urgency"] = urgency
		}
		wo, err := sm.Apply(ctx, meta.WorkOrderID, statemachine.EventRequestClarification, meta.Actor, payload)
		if err != nil {
			return tools.Fail("request_clarification: %v", err)
		}
		result := tools.Ok(map[string]interface{}{"status": string(wo.Status)})
		result.Terminal = true
		return result
	}
}

// NewAnswerClarificationHandler implements answer_clarification, resuming
// the WorkOrder that was parked in blocked_on_input.
func NewAnswerClarificationHandler(sm *statemachine.StateMachine) tools.Handler {
	return func(ctx context.Context, input map[string]interface{}, meta tools.CallMeta) tools.ToolResult {
		answer, _ := input["answer"].(string)
		if answer == "" {
			return tools.Fail("answer_clarification requires answer")
		}
		wo, err := sm.Apply(ctx, meta.WorkOrderID, statemachine.EventAnswerClarification, meta.Actor, map[string]interface{}{"answer": answer})
		if err != nil {
			return tools.Fail("answer_clarification: %v", err)
		}
		return tools.Ok(map[string]interface{}{"status": string(wo.Status)})
	}
}

var reservedDelegationTags = map[string]bool{
	"remediation":    true,
	"auto-qa-loop":   true,
}

// inheritedTags filters a parent's tags down to the set a delegated child
// should inherit: everything except remediation/auto-qa-loop markers and any
// existing parent:<slug> lineage tag, then appends the new parent:<slug>.
func inheritedTags(parentTags []string, parentSlug string) []string {
	out := make([]string, 0, len(parentTags)+1)
	for _, t := range parentTags {
		if reservedDelegationTags[t] || strings.HasPrefix(t, "parent:") {
			continue
		}
		out = append(out, t)
	}
	out = append(out, "parent:"+parentSlug)
	return out
}

var allowedModelTiers = map[string]bool{"opus": true, "sonnet": true, "haiku": true}

// NewDelegateSubtaskHandler implements delegate_subtask: creates a child
// WorkOrder inheriting the parent's tags (minus delegation markers) plus a
// parent:<slug> lineage tag, immediately advances it draft→ready→in_progress
// (delegation is an explicit assignment, not a queued request awaiting
// approval), and returns without waiting for the child to finish.
func NewDelegateSubtaskHandler(client *ent.Client, sm *statemachine.StateMachine) tools.Handler {
	return func(ctx context.Context, input map[string]interface{}, meta tools.CallMeta) tools.ToolResult {
		name, _ := input["name"].(string)
		objective, _ := input["objective"].(string)
		if name == "" || objective == "" {
			return tools.Fail("delegate_subtask requires name and objective")
		}
		modelTier, _ := input["model_tier"].(string)
		if modelTier != "" && !allowedModelTiers[modelTier] {
			return tools.Fail("model_tier must be one of opus, sonnet, haiku")
		}

		var acceptanceCriteria []string
		if raw, ok := input["acceptance_criteria"].([]interface{}); ok {
			for _, v := range raw {
				if s, ok := v.(string); ok {
					acceptanceCriteria = append(acceptanceCriteria, s)
				}
			}
		}

		parent, err := client.WorkOrder.Get(ctx, meta.WorkOrderID)
		if err != nil {
			return tools.Fail("load parent work order: %v", err)
		}

		childID := "wo-" + uuid.NewString()
		childSlug := fmt.Sprintf("%s-child-%s", parent.Slug, uuid.NewString()[:8])
		clientInfo := map[string]interface{}{}
		if modelTier != "" {
			clientInfo["model_tier"] = modelTier
		}

		create := client.WorkOrder.Create().
			SetID(childID).
			SetSlug(childSlug).
			SetName(name).
			SetObjective(objective).
			SetParentID(parent.ID).
			SetTags(inheritedTags(parent.Tags, parent.Slug)).
			SetAssignedActor(meta.Actor)
		if len(acceptanceCriteria) > 0 {
			create.SetAcceptanceCriteria(acceptanceCriteria)
		}
		if len(clientInfo) > 0 {
			create.SetClientInfo(clientInfo)
		}

		child, err := create.Save(ctx)
		if err != nil {
			return tools.Fail("create child work order: %v", err)
		}

		if injection, ok := input["context_injection"].(string); ok && injection != "" {
			if _, err := client.ChildContext.Create().
				SetID("ctx-" + uuid.NewString()).
				SetRootWorkOrderID(rootOf(parent)).
				SetAuthorActor(meta.Actor).
				SetContextType(childcontext.ContextTypePlan).
				SetContent(injection).
				Save(ctx); err != nil {
				return tools.Fail("store context injection: %v", err)
			}
		}

		if _, err := sm.Apply(ctx, child.ID, statemachine.EventApprove, meta.Actor, nil); err != nil {
			return tools.Fail("advance child to ready: %v", err)
		}
		child, err = sm.Apply(ctx, child.ID, statemachine.EventStartWork, meta.Actor, nil)
		if err != nil {
			return tools.Fail("advance child to in_progress: %v", err)
		}

		return tools.Ok(map[string]interface{}{
			"child_work_order_id": child.ID,
			"child_slug":          child.Slug,
			"status":              string(child.Status),
		})
	}
}

func rootOf(wo *ent.WorkOrder) string {
	if wo.ParentID != nil && *wo.ParentID != "" {
		return *wo.ParentID
	}
	return wo.ID
}

// NewCheckChildStatusHandler implements check_child_status, a read-only poll
// of a delegated child's current status and summary.
func NewCheckChildStatusHandler(client *ent.Client) tools.Handler {
	return func(ctx context.Context, input map[string]interface{}, meta tools.CallMeta) tools.ToolResult {
		childID, _ := input["child_work_order_id"].(string)
		if childID == "" {
			return tools.Fail("check_child_status requires child_work_order_id")
		}
		child, err := client.WorkOrder.Get(ctx, childID)
		if err != nil {
			return tools.Fail("load child work order: %v", err)
		}
		summary := ""
		if child.Summary != nil {
			summary = *child.Summary
		}
		return tools.Ok(map[string]interface{}{
			"status":       string(child.Status),
			"summary":      summary,
			"updated_at":   child.UpdatedAt.Format(time.RFC3339),
			"completed_at": completedAtString(child),
		})
	}
}

func completedAtString(wo *ent.WorkOrder) string {
	if wo.CompletedAt == nil {
		return ""
	}
	return wo.CompletedAt.Format(time.RFC3339)
}
