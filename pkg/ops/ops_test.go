package ops

import (
	"context"
	"testing"
	"time"

	"entgo.io/ent/dialect"
	"entgo.io/ent/dialect/sql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/worunner/worunner/ent"
	"github.com/worunner/worunner/ent/workorder"
	"github.com/worunner/worunner/pkg/config"
	"github.com/worunner/worunner/pkg/statemachine"
)

func newOpsTestClient(t *testing.T) *ent.Client {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(pgContainer); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	drv, err := sql.Open(dialect.Postgres, connStr)
	require.NoError(t, err)

	client := ent.NewClient(ent.Driver(drv))
	require.NoError(t, client.Schema.Create(ctx))
	t.Cleanup(func() { client.Close() })

	return client
}

func baseQueue() *config.QueueConfig {
	return &config.QueueConfig{
		ScanInterval:                    time.Minute,
		HealthyIdleThreshold:            100 * time.Millisecond,
		CheckpointLookback:              time.Hour,
		MaxRedispatchRetries:            2,
		MaxFailureAttempts:              2,
		ExplorationSpiralReadWriteRatio: 5.0,
		ExplorationSpiralMinReads:       3,
		ErrorSpikeWindow:                time.Hour,
		ErrorSpikeThreshold:             2,
	}
}

func testActors() *config.ActorRegistry {
	return config.NewActorRegistry([]config.ActorConfig{
		{Name: "builder", Role: config.ActorRoleStandard, ToolsAllowed: []string{"sandbox_exec", "github_push_files"}},
		{Name: "limited-actor", Role: config.ActorRoleStandard, ToolsAllowed: []string{"sandbox_exec"}},
	})
}

func newTestLoop(client *ent.Client, queue *config.QueueConfig, tags *config.TagRequirementRegistry) *Loop {
	sm := statemachine.New(client, testActors(), config.DefaultDefaults(), config.DefaultRetentionConfig())
	if tags == nil {
		tags = config.NewTagRequirementRegistry(nil)
	}
	return New(client, sm, queue, tags, testActors(), config.AgentRuntimeConfig{})
}

func newOpsWorkOrder(t *testing.T, client *ent.Client, mutate func(*ent.WorkOrderCreate)) *ent.WorkOrder {
	t.Helper()
	create := client.WorkOrder.Create().
		SetID("wo-" + t.Name()).
		SetSlug("wo-" + t.Name()).
		SetName("test wo").
		SetObjective("test objective").
		SetStatus(workorder.StatusInProgress).
		SetAssignedActor("builder")
	if mutate != nil {
		mutate(create)
	}
	wo, err := create.Save(context.Background())
	require.NoError(t, err)
	return wo
}

func TestScanOnce_SkipsLocalCLIActor(t *testing.T) {
	client := newOpsTestClient(t)
	loop := newTestLoop(client, baseQueue(), nil)

	newOpsWorkOrder(t, client, func(c *ent.WorkOrderCreate) {
		c.SetAssignedActor(localCLIActor)
	})

	report, err := loop.ScanOnce(context.Background())
	require.NoError(t, err)
	assert.Empty(t, report.StuckWOs)
	assert.Empty(t, report.ContinuationSkipped)
}

func TestScanOnce_HealthyWOLeftAlone(t *testing.T) {
	client := newOpsTestClient(t)
	loop := newTestLoop(client, baseQueue(), nil)

	newOpsWorkOrder(t, client, nil)

	report, err := loop.ScanOnce(context.Background())
	require.NoError(t, err)
	assert.Empty(t, report.StuckWOs)
	assert.Empty(t, report.ContinuationSkipped)
	assert.Empty(t, report.MarkedFailed)
}

func TestScanOnce_ContinuationSkippedWithRecentCheckpoint(t *testing.T) {
	client := newOpsTestClient(t)
	loop := newTestLoop(client, baseQueue(), nil)
	ctx := context.Background()

	wo := newOpsWorkOrder(t, client, func(c *ent.WorkOrderCreate) {
		c.SetUpdatedAt(time.Now().Add(-time.Hour))
	})
	_, err := client.ExecutionLogEntry.Create().
		SetID("log-" + t.Name()).
		SetWorkOrderID(wo.ID).
		SetPhase("checkpoint").
		SetActor("builder").
		SetCreatedAt(time.Now().Add(-5 * time.Minute)).
		Save(ctx)
	require.NoError(t, err)

	report, err := loop.ScanOnce(ctx)
	require.NoError(t, err)
	assert.Contains(t, report.ContinuationSkipped, wo.ID)
	assert.Empty(t, report.StuckWOs)
}

func TestScanOnce_RedispatchesStuckWOUnderRetryBudget(t *testing.T) {
	client := newOpsTestClient(t)
	loop := newTestLoop(client, baseQueue(), nil)
	ctx := context.Background()

	wo := newOpsWorkOrder(t, client, func(c *ent.WorkOrderCreate) {
		c.SetUpdatedAt(time.Now().Add(-time.Hour))
	})

	report, err := loop.ScanOnce(ctx)
	require.NoError(t, err)
	assert.Contains(t, report.StuckWOs, wo.ID)
	assert.Empty(t, report.MarkedFailed)

	refreshed, err := client.WorkOrder.Get(ctx, wo.ID)
	require.NoError(t, err)
	assert.Equal(t, workorder.StatusInProgress, refreshed.Status)
	assert.EqualValues(t, 1, intFromClientInfo(refreshed.ClientInfo, "ops_retry_count"))
}

func TestScanOnce_MarksFailedAfterRetriesExhausted(t *testing.T) {
	client := newOpsTestClient(t)
	queue := baseQueue()
	queue.MaxRedispatchRetries = 0
	loop := newTestLoop(client, queue, nil)
	ctx := context.Background()

	wo := newOpsWorkOrder(t, client, func(c *ent.WorkOrderCreate) {
		c.SetUpdatedAt(time.Now().Add(-time.Hour))
	})

	report, err := loop.ScanOnce(ctx)
	require.NoError(t, err)
	assert.Contains(t, report.MarkedFailed, wo.ID)

	refreshed, err := client.WorkOrder.Get(ctx, wo.ID)
	require.NoError(t, err)
	assert.Equal(t, workorder.StatusFailed, refreshed.Status)
}

func TestScanOnce_CircuitBreakerLeavesWOForHuman(t *testing.T) {
	client := newOpsTestClient(t)
	queue := baseQueue()
	queue.MaxRedispatchRetries = 0
	queue.MaxFailureAttempts = 1
	loop := newTestLoop(client, queue, nil)
	ctx := context.Background()

	wo := newOpsWorkOrder(t, client, func(c *ent.WorkOrderCreate) {
		c.SetUpdatedAt(time.Now().Add(-time.Hour))
		c.SetClientInfo(map[string]interface{}{"ops_failure_attempt_wo-" + t.Name(): 1})
	})

	report, err := loop.ScanOnce(ctx)
	require.NoError(t, err)
	assert.Empty(t, report.MarkedFailed)

	refreshed, err := client.WorkOrder.Get(ctx, wo.ID)
	require.NoError(t, err)
	assert.Equal(t, workorder.StatusInProgress, refreshed.Status)
	assert.Equal(t, wo.ID, refreshed.ID)
}

func TestScanOnce_AgentMismatchSpawnsRemediation(t *testing.T) {
	client := newOpsTestClient(t)
	queue := baseQueue()
	queue.MaxRedispatchRetries = 0
	tags := config.NewTagRequirementRegistry(map[string][]string{
		"deploy-target": {"deploy_edge_function"},
	})
	loop := newTestLoop(client, queue, tags)
	ctx := context.Background()

	wo := newOpsWorkOrder(t, client, func(c *ent.WorkOrderCreate) {
		c.SetUpdatedAt(time.Now().Add(-time.Hour))
		c.SetAssignedActor("limited-actor")
		c.SetTags([]string{"deploy-target"})
	})

	report, err := loop.ScanOnce(ctx)
	require.NoError(t, err)
	assert.Contains(t, report.MarkedFailed, wo.ID)

	children, err := client.WorkOrder.Query().
		Where(workorder.ParentID(wo.ID)).
		All(ctx)
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Contains(t, children[0].Tags, "remediation")
	assert.Equal(t, workorder.PriorityP1High, children[0].Priority)
}

func TestProbeErrorSpikes_FlagsToolOverThreshold(t *testing.T) {
	client := newOpsTestClient(t)
	queue := baseQueue()
	queue.ErrorSpikeThreshold = 1
	loop := newTestLoop(client, queue, nil)
	ctx := context.Background()

	wo := newOpsWorkOrder(t, client, nil)
	for i := 0; i < 3; i++ {
		_, err := client.MutationRecord.Create().
			SetID("mut-" + t.Name() + string(rune('a'+i))).
			SetWorkOrderID(wo.ID).
			SetToolName("execute_sql").
			SetAction("execute_sql").
			SetSuccess(false).
			SetActor("builder").
			SetResultHash("hash").
			Save(ctx)
		require.NoError(t, err)
	}

	spikes, err := loop.probeErrorSpikes(ctx)
	require.NoError(t, err)
	require.Len(t, spikes, 1)
	assert.Contains(t, spikes[0], "execute_sql")
}

func TestClassify_StuckWithoutCheckpoint(t *testing.T) {
	client := newOpsTestClient(t)
	loop := newTestLoop(client, baseQueue(), nil)
	ctx := context.Background()

	wo := newOpsWorkOrder(t, client, nil)
	classification := loop.classify(ctx, wo, time.Hour)
	assert.Equal(t, ClassificationStuck, classification)
}
