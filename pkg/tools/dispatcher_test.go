package tools

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
	"github.com/worunner/worunner/pkg/config"
	"github.com/worunner/worunner/pkg/events"
	"github.com/worunner/worunner/pkg/ledger"
)

func newDispatchTestClient(t *testing.T) *ent.Client {
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

func newWO(t *testing.T, client *ent.Client) *ent.WorkOrder {
	t.Helper()
	wo, err := client.WorkOrder.Create().
		SetID("wo-" + t.Name()).
		SetSlug("wo-" + t.Name()).
		SetName("test").
		SetObjective("test objective").
		Save(context.Background())
	require.NoError(t, err)
	return wo
}

func echoHandler(ctx context.Context, input map[string]interface{}, meta CallMeta) ToolResult {
	return Ok(map[string]interface{}{"ok": true})
}

func TestDispatch_DeniesByPermission(t *testing.T) {
	client := newDispatchTestClient(t)
	reg := NewRegistry()
	reg.Register(Definition{Name: "execute_sql", Mutating: true, Handler: echoHandler})

	actors := config.NewActorRegistry([]config.ActorConfig{{Name: "blocked", Role: config.ActorRoleStandard}})
	perms := config.NewPermissionRegistry([]config.PermissionRule{
		{Actor: "blocked", Tool: "execute_sql", Effect: config.PermissionDeny},
	})

	d := NewDispatcher(reg, perms, actors, NewVerifyProxy(config.VerifyProxyConfig{}), ledger.New(client), events.NewJournal(client))
	wo := newWO(t, client)

	result := d.Dispatch(context.Background(), "execute_sql",
		map[string]interface{}{"query": "UPDATE work_orders SET name='x'"},
		CallMeta{Actor: "blocked", WorkOrderID: wo.ID})

	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "not permitted")
}

func TestDispatch_ReadOnlyActorCannotCallMutatingTool(t *testing.T) {
	client := newDispatchTestClient(t)
	reg := NewRegistry()
	reg.Register(Definition{Name: "apply_migration", Mutating: true, Handler: echoHandler})

	perms := config.NewPermissionRegistry(nil)
	actors := config.NewActorRegistry([]config.ActorConfig{{Name: "viewer", Role: config.ActorRoleReadOnly}})

	d := NewDispatcher(reg, perms, actors, NewVerifyProxy(config.VerifyProxyConfig{}), ledger.New(client), events.NewJournal(client))
	wo := newWO(t, client)

	result := d.Dispatch(context.Background(), "apply_migration",
		map[string]interface{}{"query": "CREATE TABLE t (id int)"},
		CallMeta{Actor: "viewer", WorkOrderID: wo.ID})

	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "read_only")
}

func TestDispatch_RejectsDestructiveExecuteSQL(t *testing.T) {
	client := newDispatchTestClient(t)
	reg := NewRegistry()
	reg.Register(Definition{Name: "execute_sql", Mutating: true, Handler: echoHandler})

	perms := config.NewPermissionRegistry(nil)
	actors := config.NewActorRegistry([]config.ActorConfig{{Name: "builder", Role: config.ActorRoleStandard}})

	d := NewDispatcher(reg, perms, actors, NewVerifyProxy(config.VerifyProxyConfig{}), ledger.New(client), events.NewJournal(client))
	wo := newWO(t, client)

	result := d.Dispatch(context.Background(), "execute_sql",
		map[string]interface{}{"query": "DROP TABLE work_orders"},
		CallMeta{Actor: "builder", WorkOrderID: wo.ID})

	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "DROP")
}

func TestDispatch_RejectsBypassKeywordForNonMaster(t *testing.T) {
	client := newDispatchTestClient(t)
	reg := NewRegistry()
	reg.Register(Definition{Name: "execute_sql", Mutating: true, Handler: echoHandler})

	perms := config.NewPermissionRegistry(nil)
	actors := config.NewActorRegistry([]config.ActorConfig{{Name: "builder", Role: config.ActorRoleStandard}})

	d := NewDispatcher(reg, perms, actors, NewVerifyProxy(config.VerifyProxyConfig{}), ledger.New(client), events.NewJournal(client))
	wo := newWO(t, client)

	result := d.Dispatch(context.Background(), "execute_sql",
		map[string]interface{}{"query": "SELECT set_config('app.wo_executor_bypass', 'on', false)"},
		CallMeta{Actor: "builder", WorkOrderID: wo.ID})

	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "bypass")
}

func TestDispatch_ReadOnlyActorCanRunSelectExecuteSQL(t *testing.T) {
	client := newDispatchTestClient(t)
	reg := NewRegistry()
	reg.Register(Definition{Name: "execute_sql", Mutating: true, Handler: echoHandler})

	perms := config.NewPermissionRegistry(nil)
	actors := config.NewActorRegistry([]config.ActorConfig{{Name: "viewer", Role: config.ActorRoleReadOnly}})

	d := NewDispatcher(reg, perms, actors, NewVerifyProxy(config.VerifyProxyConfig{}), ledger.New(client), events.NewJournal(client))
	wo := newWO(t, client)

	result := d.Dispatch(context.Background(), "execute_sql",
		map[string]interface{}{"query": "SELECT * FROM work_orders"},
		CallMeta{Actor: "viewer", WorkOrderID: wo.ID})

	assert.True(t, result.Success)
}

func TestDispatch_ReadOnlyActorCannotRunWriteExecuteSQL(t *testing.T) {
	client := newDispatchTestClient(t)
	reg := NewRegistry()
	reg.Register(Definition{Name: "execute_sql", Mutating: true, Handler: echoHandler})

	perms := config.NewPermissionRegistry(nil)
	actors := config.NewActorRegistry([]config.ActorConfig{{Name: "viewer", Role: config.ActorRoleReadOnly}})

	d := NewDispatcher(reg, perms, actors, NewVerifyProxy(config.VerifyProxyConfig{}), ledger.New(client), events.NewJournal(client))
	wo := newWO(t, client)

	result := d.Dispatch(context.Background(), "execute_sql",
		map[string]interface{}{"query": "UPDATE work_orders SET name='x'"},
		CallMeta{Actor: "viewer", WorkOrderID: wo.ID})

	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "read_only")
}

func TestDispatch_SelectExecuteSQLIsNotRecordedInLedger(t *testing.T) {
	client := newDispatchTestClient(t)
	reg := NewRegistry()
	reg.Register(Definition{
		Name:     "execute_sql",
		Mutating: true,
		Handler:  echoHandler,
		Extract: func(input map[string]interface{}, result ToolResult) (string, string, string) {
			return "table", "work_orders", "execute_sql"
		},
	})

	perms := config.NewPermissionRegistry(nil)
	actors := config.NewActorRegistry([]config.ActorConfig{{Name: "builder", Role: config.ActorRoleStandard}})

	d := NewDispatcher(reg, perms, actors, NewVerifyProxy(config.VerifyProxyConfig{}), ledger.New(client), events.NewJournal(client))
	wo := newWO(t, client)

	result := d.Dispatch(context.Background(), "execute_sql",
		map[string]interface{}{"query": "SELECT * FROM work_orders"},
		CallMeta{Actor: "builder", WorkOrderID: wo.ID})

	require.True(t, result.Success)

	count, err := client.MutationRecord.Query().Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestDispatch_SuccessRecordsLedgerEntry(t *testing.T) {
	client := newDispatchTestClient(t)
	reg := NewRegistry()
	reg.Register(Definition{
		Name:     "execute_sql",
		Mutating: true,
		Handler:  echoHandler,
		Extract: func(input map[string]interface{}, result ToolResult) (string, string, string) {
			return "table", "work_orders", "execute_sql"
		},
	})

	perms := config.NewPermissionRegistry(nil)
	actors := config.NewActorRegistry([]config.ActorConfig{{Name: "builder", Role: config.ActorRoleStandard}})

	d := NewDispatcher(reg, perms, actors, NewVerifyProxy(config.VerifyProxyConfig{}), ledger.New(client), events.NewJournal(client))
	wo := newWO(t, client)

	result := d.Dispatch(context.Background(), "execute_sql",
		map[string]interface{}{"query": "UPDATE work_orders SET name='x'"},
		CallMeta{Actor: "builder", WorkOrderID: wo.ID})

	require.True(t, result.Success)

	count, err := client.MutationRecord.Query().Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
