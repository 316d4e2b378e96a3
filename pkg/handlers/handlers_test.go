package handlers

import (
	"context"
	"testing"
	"time"

	"entgo.io/ent/dialect"
	"entgo.io/ent/dialect/sql"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/worunner/worunner/ent"
	"github.com/worunner/worunner/ent/workorder"
	"github.com/worunner/worunner/pkg/config"
	"github.com/worunner/worunner/pkg/statemachine"
	"github.com/worunner/worunner/pkg/tools"
)

func newHandlersTestClient(t *testing.T) *ent.Client {
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

func newHandlersTestActors() *config.ActorRegistry {
	return config.NewActorRegistry([]config.ActorConfig{
		{Name: "builder", Role: config.ActorRoleStandard, ToolsAllowed: []string{"sandbox_exec"}},
		{Name: "master", Role: config.ActorRoleMaster, ToolsAllowed: []string{"sandbox_exec"}},
	})
}

func newHandlersTestSM(client *ent.Client) *statemachine.StateMachine {
	return statemachine.New(client, newHandlersTestActors(), config.DefaultDefaults(), config.DefaultRetentionConfig())
}

func newHandlersWorkOrder(t *testing.T, client *ent.Client, mutate func(*ent.WorkOrderCreate)) *ent.WorkOrder {
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

func callMeta(woID string) tools.CallMeta {
	return tools.CallMeta{Actor: "builder", WorkOrderID: woID}
}
