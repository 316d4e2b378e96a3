// Package ops implements the Ops Control Loop: a ticker-driven sweep of
// in_progress WorkOrders that redispatches WOs idle past a threshold,
// classifies ones that stay stuck into a failure archetype, spawns
// remediation work for systemic archetypes, and probes for error spikes.
package ops

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/worunner/worunner/ent"
	"github.com/worunner/worunner/ent/executionlogentry"
	"github.com/worunner/worunner/ent/mutationrecord"
	"github.com/worunner/worunner/ent/workorder"
	"github.com/worunner/worunner/pkg/config"
	"github.com/worunner/worunner/pkg/statemachine"
)

// Classification is the outcome of scanning a single in_progress WorkOrder.
type Classification string

const (
	ClassificationHealthy             Classification = "healthy"
	ClassificationContinuationSkipped Classification = "continuation_skipped"
	ClassificationStuck               Classification = "stuck"
)

// Archetype is the failure category assigned to a stuck WorkOrder that has
// exhausted its redispatch budget.
type Archetype string

const (
	ArchetypeAgentMismatch     Archetype = "agent_mismatch"
	ArchetypeExplorationSpiral Archetype = "exploration_spiral"
	ArchetypeStuckWO           Archetype = "stuck_wo"
)

const localCLIActor = "local_cli"

// Report summarizes one scan pass, returned to the HTTP health-check
// endpoint.
type Report struct {
	CheckedAt           time.Time `json:"checked_at"`
	StuckWOs            []string  `json:"stuck_wos"`
	ContinuationSkipped []string  `json:"continuation_wos_skipped"`
	MarkedFailed        []string  `json:"marked_failed"`
	ErrorSpikes         []string  `json:"error_spikes"`
	Errors              []string  `json:"errors"`
}

// Loop runs the Ops Control Loop's periodic scan.
type Loop struct {
	client   *ent.Client
	sm       *statemachine.StateMachine
	queue    *config.QueueConfig
	tags     *config.TagRequirementRegistry
	actors   *config.ActorRegistry
	runtime  config.AgentRuntimeConfig
	http     *http.Client

	mu      sync.Mutex
	running bool
	stop    chan struct{}
}

// New builds a Loop.
func New(client *ent.Client, sm *statemachine.StateMachine, queue *config.QueueConfig, tags *config.TagRequirementRegistry, actors *config.ActorRegistry, runtime config.AgentRuntimeConfig) *Loop {
	return &Loop{
		client:  client,
		sm:      sm,
		queue:   queue,
		tags:    tags,
		actors:  actors,
		runtime: runtime,
		http:    &http.Client{Timeout: runtime.RequestTimeout},
	}
}

// Start runs ScanOnce on queue.ScanInterval until Stop is called or ctx is
// canceled.
func (l *Loop) Start(ctx context.Context) {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return
	}
	l.running = true
	l.stop = make(chan struct{})
	l.mu.Unlock()

	ticker := time.NewTicker(l.queue.ScanInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-l.stop:
				return
			case <-ticker.C:
				if _, err := l.ScanOnce(ctx); err != nil {
					slog.Error("ops: scan failed", "error", err)
				}
			}
		}
	}()
}

// Stop halts the running loop, if any.
func (l *Loop) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		close(l.stop)
		l.running = false
	}
}

// ScanOnce runs one scan pass over every status=in_progress WorkOrder not
// assigned to the local_cli actor.
func (l *Loop) ScanOnce(ctx context.Context) (Report, error) {
	report := Report{CheckedAt: time.Now()}

	wos, err := l.client.WorkOrder.Query().
		Where(workorder.Status(workorder.StatusInProgress)).
		All(ctx)
	if err != nil {
		return report, fmt.Errorf("query in_progress work orders: %w", err)
	}

	for _, wo := range wos {
		if wo.AssignedActor != nil && *wo.AssignedActor == localCLIActor {
			continue
		}
		if err := l.handleWorkOrder(ctx, wo, &report); err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", wo.ID, err))
		}
	}

	spikes, err := l.probeErrorSpikes(ctx)
	if err != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("error spike probe: %v", err))
	} else {
		report.ErrorSpikes = spikes
	}

	return report, nil
}

func (l *Loop) handleWorkOrder(ctx context.Context, wo *ent.WorkOrder, report *Report) error {
	idle := time.Since(l.lastActivityAt(ctx, wo))
	classification := l.classify(ctx, wo, idle)

	switch classification {
	case ClassificationHealthy:
		return nil
	case ClassificationContinuationSkipped:
		report.ContinuationSkipped = append(report.ContinuationSkipped, wo.ID)
		return nil
	}

	report.StuckWOs = append(report.StuckWOs, wo.ID)

	retryCount := intFromClientInfo(wo.ClientInfo, "ops_retry_count")
	if retryCount < l.queue.MaxRedispatchRetries {
		if err := l.redispatch(ctx, wo, retryCount); err != nil {
			return err
		}
		return nil
	}

	archetype := l.classifyArchetype(ctx, wo)
	if err := l.handleStuck(ctx, wo, archetype, report); err != nil {
		return err
	}
	return nil
}

// lastActivityAt returns the most recent of the WorkOrder's own UpdatedAt and
// its latest ExecutionLogEntry.CreatedAt, so a WO that is actively making
// read-only tool calls isn't misclassified as idle just because no mutation
// has touched the row itself.
func (l *Loop) lastActivityAt(ctx context.Context, wo *ent.WorkOrder) time.Time {
	latest, err := l.client.ExecutionLogEntry.Query().
		Where(executionlogentry.WorkOrderID(wo.ID)).
		Order(ent.Desc(executionlogentry.FieldCreatedAt)).
		First(ctx)
	if err != nil || latest == nil {
		return wo.UpdatedAt
	}
	if latest.CreatedAt.After(wo.UpdatedAt) {
		return latest.CreatedAt
	}
	return wo.UpdatedAt
}

// classify determines whether an idle WO should be left alone, treated as a
// known-slow continuation point, or escalated as stuck.
func (l *Loop) classify(ctx context.Context, wo *ent.WorkOrder, idle time.Duration) Classification {
	if idle < l.queue.HealthyIdleThreshold {
		return ClassificationHealthy
	}

	cutoff := time.Now().Add(-l.queue.CheckpointLookback)
	count, err := l.client.ExecutionLogEntry.Query().
		Where(
			executionlogentry.WorkOrderID(wo.ID),
			executionlogentry.CreatedAtGTE(cutoff),
			executionlogentry.PhaseIn("checkpoint", "continuation"),
		).Count(ctx)
	if err == nil && count > 0 {
		return ClassificationContinuationSkipped
	}
	return ClassificationStuck
}

func intFromClientInfo(info map[string]interface{}, key string) int {
	if info == nil {
		return 0
	}
	switch v := info[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

func (l *Loop) redispatch(ctx context.Context, wo *ent.WorkOrder, retryCount int) error {
	clientInfo := cloneClientInfo(wo.ClientInfo)
	clientInfo["ops_retry_count"] = retryCount + 1

	if l.runtime.RedispatchURL != "" {
		body, _ := json.Marshal(map[string]string{"work_order_id": wo.ID})
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.runtime.RedispatchURL, bytes.NewReader(body))
		if err == nil {
			resp, err := l.http.Do(req)
			if err != nil {
				slog.Error("ops: redispatch request failed", "work_order_id", wo.ID, "error", err)
			} else {
				resp.Body.Close()
				if resp.StatusCode == http.StatusServiceUnavailable || resp.StatusCode/100 != 2 {
					slog.Error("ops: redispatch rejected", "work_order_id", wo.ID, "status", resp.StatusCode)
				}
			}
		}
	}

	_, err := l.client.WorkOrder.UpdateOneID(wo.ID).SetClientInfo(clientInfo).Save(ctx)
	return err
}

func cloneClientInfo(info map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(info)+1)
	for k, v := range info {
		out[k] = v
	}
	return out
}

// classifyArchetype distinguishes agent_mismatch (the assigned actor lacks a
// tool the WO's tags require), exploration_spiral (a high SELECT:write
// ratio over a meaningful number of reads), and the generic stuck_wo
// fallback.
func (l *Loop) classifyArchetype(ctx context.Context, wo *ent.WorkOrder) Archetype {
	if wo.AssignedActor != nil {
		allowed := l.actors.ToolsAllowed(*wo.AssignedActor)
		allowedSet := make(map[string]bool, len(allowed))
		for _, t := range allowed {
			allowedSet[t] = true
		}
		for _, tag := range wo.Tags {
			for _, required := range l.tags.RequiredTools(tag) {
				if !allowedSet[required] {
					return ArchetypeAgentMismatch
				}
			}
		}
	}

	reads, writes, err := l.readWriteCounts(ctx, wo.ID)
	if err == nil && reads >= l.queue.ExplorationSpiralMinReads && writes > 0 {
		if float64(reads)/float64(writes) > l.queue.ExplorationSpiralReadWriteRatio {
			return ArchetypeExplorationSpiral
		}
	}
	if err == nil && reads >= l.queue.ExplorationSpiralMinReads && writes == 0 {
		return ArchetypeExplorationSpiral
	}

	return ArchetypeStuckWO
}

func (l *Loop) readWriteCounts(ctx context.Context, workOrderID string) (reads, writes int, err error) {
	records, err := l.client.MutationRecord.Query().
		Where(mutationrecord.WorkOrderID(workOrderID)).
		All(ctx)
	if err != nil {
		return 0, 0, err
	}
	logs, err := l.client.ExecutionLogEntry.Query().
		Where(executionlogentry.WorkOrderID(workOrderID)).
		All(ctx)
	if err != nil {
		return 0, 0, err
	}
	for _, log := range logs {
		if log.Detail != nil {
			if evt, _ := log.Detail["event_type"].(string); evt == "read" {
				reads++
			}
		}
	}
	writes = len(records)
	return reads, writes, nil
}

const maxFailureAttemptsKeyPrefix = "ops_failure_attempt_"

// handleStuck applies the circuit-breaker-guarded mark_failed attempt and,
// for systemic archetypes, spawns a remediation WorkOrder describing the
// detected pattern for a human or a higher-tier agent to address.
func (l *Loop) handleStuck(ctx context.Context, wo *ent.WorkOrder, archetype Archetype, report *Report) error {
	attemptKey := maxFailureAttemptsKeyPrefix + wo.ID
	attempts := intFromClientInfo(wo.ClientInfo, attemptKey)
	if attempts >= l.queue.MaxFailureAttempts {
		slog.Error("ops: circuit breaker tripped, leaving work order for human action",
			"work_order_id", wo.ID, "archetype", archetype)
		return nil
	}

	clientInfo := cloneClientInfo(wo.ClientInfo)
	clientInfo[attemptKey] = attempts + 1
	if _, err := l.client.WorkOrder.UpdateOneID(wo.ID).SetClientInfo(clientInfo).Save(ctx); err != nil {
		return fmt.Errorf("record failure attempt: %w", err)
	}

	reason := fmt.Sprintf("ops control loop: classified %s after exhausting %d redispatch attempts", archetype, l.queue.MaxRedispatchRetries)
	if _, err := l.sm.Apply(ctx, wo.ID, statemachine.EventMarkFailed, "ops-control-loop", map[string]interface{}{"reason": reason}); err != nil {
		return fmt.Errorf("mark_failed: %w", err)
	}
	report.MarkedFailed = append(report.MarkedFailed, wo.ID)

	if archetype == ArchetypeAgentMismatch || archetype == ArchetypeExplorationSpiral {
		if err := l.spawnRemediation(ctx, wo, archetype); err != nil {
			return fmt.Errorf("spawn remediation: %w", err)
		}
	}
	return nil
}

func (l *Loop) spawnRemediation(ctx context.Context, wo *ent.WorkOrder, archetype Archetype) error {
	objective := fmt.Sprintf("Investigate and remediate %s detected on %s (%s): %s", archetype, wo.ID, wo.Slug, wo.Objective)
	_, err := l.client.WorkOrder.Create().
		SetID("wo-" + uuid.NewString()).
		SetSlug(wo.Slug + "-remediation-" + uuid.NewString()[:8]).
		SetName("Remediate: " + wo.Name).
		SetObjective(objective).
		SetParentID(wo.ID).
		SetTags([]string{"remediation"}).
		SetPriority(workorder.PriorityP1High).
		Save(ctx)
	return err
}

// probeErrorSpikes scans recent mutation records for tool names whose
// failure count within the configured window exceeds the threshold.
func (l *Loop) probeErrorSpikes(ctx context.Context) ([]string, error) {
	cutoff := time.Now().Add(-l.queue.ErrorSpikeWindow)
	records, err := l.client.MutationRecord.Query().
		Where(
			mutationrecord.Success(false),
			mutationrecord.CreatedAtGTE(cutoff),
		).All(ctx)
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int)
	for _, r := range records {
		counts[r.ToolName]++
	}

	var spikes []string
	for tool, count := range counts {
		if count > l.queue.ErrorSpikeThreshold {
			spikes = append(spikes, fmt.Sprintf("%s: %d failures in %s", tool, count, l.queue.ErrorSpikeWindow))
		}
	}
	return spikes, nil
}
