package statemachine

import (
	"context"
	"testing"
	"time"

	"entgo.io/ent/dialect"
	"entgo.io/ent/dialect/sql"
	"github.com/worunner/worunner/ent"
	"github.com/worunner/worunner/ent/clarificationrequest"
	"github.com/worunner/worunner/ent/workorder"
	"github.com/worunner/worunner/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func newTestClient(t *testing.T) *ent.Client {
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

func testSM(client *ent.Client) *StateMachine {
	actors := config.NewActorRegistry([]config.ActorConfig{
		{Name: "builder", Role: config.ActorRoleStandard},
		{Name: "master-ops", Role: config.ActorRoleMaster},
	})
	return New(client, actors, config.DefaultDefaults(), config.DefaultRetentionConfig())
}

func newWorkOrder(t *testing.T, client *ent.Client, mutate func(*ent.WorkOrderCreate)) *ent.WorkOrder {
	t.Helper()
	create := client.WorkOrder.Create().
		SetID("wo-" + t.Name()).
		SetSlug("wo-" + t.Name()).
		SetName("test wo").
		SetObjective("test objective").
		SetStatus(workorder.StatusDraft)
	if mutate != nil {
		mutate(create)
	}
	wo, err := create.Save(context.Background())
	require.NoError(t, err)
	return wo
}

func TestApply_DraftToReady_LowPriorityAutoApproves(t *testing.T) {
	client := newTestClient(t)
	sm := testSM(client)
	wo := newWorkOrder(t, client, func(c *ent.WorkOrderCreate) { c.SetPriority(workorder.PriorityP3Low) })

	updated, err := sm.Apply(context.Background(), wo.ID, EventApprove, "builder", nil)
	require.NoError(t, err)
	assert.Equal(t, workorder.StatusReady, updated.Status)
}

func TestApply_DraftToReady_HighPriorityRequiresMaster(t *testing.T) {
	client := newTestClient(t)
	sm := testSM(client)
	wo := newWorkOrder(t, client, func(c *ent.WorkOrderCreate) { c.SetPriority(workorder.PriorityP0Critical) })

	_, err := sm.Apply(context.Background(), wo.ID, EventApprove, "builder", nil)
	require.Error(t, err)

	updated, err := sm.Apply(context.Background(), wo.ID, EventApprove, "master-ops", nil)
	require.NoError(t, err)
	assert.Equal(t, workorder.StatusReady, updated.Status)
}

func TestApply_StartWork_RequiresAssignedActor(t *testing.T) {
	client := newTestClient(t)
	sm := testSM(client)
	wo := newWorkOrder(t, client, func(c *ent.WorkOrderCreate) {
		c.SetStatus(workorder.StatusReady).SetAssignedActor("builder")
	})

	_, err := sm.Apply(context.Background(), wo.ID, EventStartWork, "someone-else", nil)
	require.Error(t, err)

	updated, err := sm.Apply(context.Background(), wo.ID, EventStartWork, "builder", nil)
	require.NoError(t, err)
	assert.Equal(t, workorder.StatusInProgress, updated.Status)
}

func TestApply_InvalidTransitionRejected(t *testing.T) {
	client := newTestClient(t)
	sm := testSM(client)
	wo := newWorkOrder(t, client, nil)

	_, err := sm.Apply(context.Background(), wo.ID, EventMarkDone, "builder", nil)
	require.Error(t, err)
}

func TestApply_SubmitForReview_RequiresDeploymentVerification(t *testing.T) {
	client := newTestClient(t)
	sm := testSM(client)
	wo := newWorkOrder(t, client, func(c *ent.WorkOrderCreate) {
		c.SetStatus(workorder.StatusInProgress).SetTags([]string{"edge-function"})
	})

	_, err := sm.Apply(context.Background(), wo.ID, EventSubmitForReview, "builder", nil)
	require.Error(t, err)

	_, err = client.ExecutionLogEntry.Create().
		SetID("log-" + t.Name()).
		SetWorkOrderID(wo.ID).
		SetPhase("deployment_verification").
		SetActor("builder").
		Save(context.Background())
	require.NoError(t, err)

	updated, err := sm.Apply(context.Background(), wo.ID, EventSubmitForReview, "builder", nil)
	require.NoError(t, err)
	assert.Equal(t, workorder.StatusReview, updated.Status)
}

func TestApply_RequestAndAnswerClarification(t *testing.T) {
	client := newTestClient(t)
	sm := testSM(client)
	wo := newWorkOrder(t, client, func(c *ent.WorkOrderCreate) { c.SetStatus(workorder.StatusInProgress) })

	blocked, err := sm.Apply(context.Background(), wo.ID, EventRequestClarification, "builder",
		map[string]interface{}{"question": "which branch should this land on?"})
	require.NoError(t, err)
	assert.Equal(t, workorder.StatusBlockedOnInput, blocked.Status)

	pending, err := client.ClarificationRequest.Query().
		Where(clarificationrequest.WorkOrderID(wo.ID)).
		Only(context.Background())
	require.NoError(t, err)
	assert.Equal(t, clarificationrequest.StatusPending, pending.Status)

	resumed, err := sm.Apply(context.Background(), wo.ID, EventAnswerClarification, "human-reviewer",
		map[string]interface{}{"answer": "use main"})
	require.NoError(t, err)
	assert.Equal(t, workorder.StatusInProgress, resumed.Status)

	answered, err := client.ClarificationRequest.Get(context.Background(), pending.ID)
	require.NoError(t, err)
	assert.Equal(t, clarificationrequest.StatusAnswered, answered.Status)
}

func TestApply_MarkFailed_RequiresReason(t *testing.T) {
	client := newTestClient(t)
	sm := testSM(client)
	wo := newWorkOrder(t, client, func(c *ent.WorkOrderCreate) { c.SetStatus(workorder.StatusInProgress) })

	_, err := sm.Apply(context.Background(), wo.ID, EventMarkFailed, "master-ops", nil)
	require.Error(t, err)

	updated, err := sm.Apply(context.Background(), wo.ID, EventMarkFailed, "master-ops",
		map[string]interface{}{"reason": "agent stuck in exploration spiral"})
	require.NoError(t, err)
	assert.Equal(t, workorder.StatusFailed, updated.Status)
}
