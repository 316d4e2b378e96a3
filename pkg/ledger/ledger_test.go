package ledger

import (
	"context"
	"testing"
	"time"

	"entgo.io/ent/dialect"
	"entgo.io/ent/dialect/sql"
	"github.com/worunner/worunner/ent"
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

func newWorkOrder(t *testing.T, client *ent.Client, id string) string {
	t.Helper()
	wo, err := client.WorkOrder.Create().
		SetID(id).
		SetSlug(id).
		SetName("test").
		SetObjective("test objective").
		Save(context.Background())
	require.NoError(t, err)
	return wo.ID
}

func TestLedger_Record_Success(t *testing.T) {
	client := newTestClient(t)
	l := New(client)
	woID := newWorkOrder(t, client, "wo-ledger-1")

	ok, id := l.Record(context.Background(), Record{
		WorkOrderID: woID,
		ToolName:    "github_push_files",
		ObjectType:  "file",
		ObjectID:    "src/main.go",
		Action:      "PUSH",
		Success:     true,
		Actor:       "builder",
		Result:      `{"commit":"abc123"}`,
	})
	require.True(t, ok)
	require.NotEmpty(t, id)

	rec, err := client.MutationRecord.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, woID, rec.WorkOrderID)
	assert.True(t, rec.Success)
	assert.Equal(t, ResultHash(`{"commit":"abc123"}`), rec.ResultHash)
}

func TestLedger_Record_Failure(t *testing.T) {
	client := newTestClient(t)
	l := New(client)
	woID := newWorkOrder(t, client, "wo-ledger-2")

	ok, id := l.Record(context.Background(), Record{
		WorkOrderID: woID,
		ToolName:    "apply_migration",
		Action:      "DDL",
		Success:     false,
		ErrorClass:  "lock_contention",
		ErrorDetail: "could not obtain lock",
		Actor:       "builder",
		Result:      "could not obtain lock",
	})
	require.True(t, ok)

	rec, err := client.MutationRecord.Get(context.Background(), id)
	require.NoError(t, err)
	assert.False(t, rec.Success)
	assert.Equal(t, "lock_contention", *rec.ErrorClass)
}

func TestResultHash_TruncatesAt10000Bytes(t *testing.T) {
	small := ResultHash("hello")
	assert.Len(t, small, 64)

	big := make([]byte, 20_000)
	for i := range big {
		big[i] = 'a'
	}
	truncated := make([]byte, 10_000)
	for i := range truncated {
		truncated[i] = 'a'
	}
	assert.Equal(t, ResultHash(string(truncated)), ResultHash(string(big)))
}
