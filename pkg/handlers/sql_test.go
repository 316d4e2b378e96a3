package handlers

import (
	"context"
	stdsql "database/sql"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func newHandlersTestDB(t *testing.T) *stdsql.DB {
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

	db, err := stdsql.Open("pgx", connStr)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.PingContext(ctx))

	_, err = db.ExecContext(ctx, "CREATE TABLE widgets (id SERIAL PRIMARY KEY, name TEXT NOT NULL)")
	require.NoError(t, err)

	return db
}

func TestApplyMigrationHandler_AppliesDDLOnce(t *testing.T) {
	db := newHandlersTestDB(t)
	handler := NewApplyMigrationHandler(db)

	result := handler(context.Background(), map[string]interface{}{
		"name":  "add_price_column",
		"query": "ALTER TABLE widgets ADD COLUMN price INTEGER",
	}, callMeta("wo-migration"))

	require.True(t, result.Success)

	var exists bool
	err := db.QueryRowContext(context.Background(),
		"SELECT EXISTS (SELECT 1 FROM information_schema.columns WHERE table_name='widgets' AND column_name='price')",
	).Scan(&exists)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestApplyMigrationHandler_RejectsBypassKeyword(t *testing.T) {
	db := newHandlersTestDB(t)
	handler := NewApplyMigrationHandler(db)

	result := handler(context.Background(), map[string]interface{}{
		"name":  "sneaky",
		"query": "SELECT set_config('app.wo_executor_bypass', 'true', false)",
	}, callMeta("wo-migration"))

	assert.False(t, result.Success)
}

func TestApplyMigrationHandler_RequiresNameAndQuery(t *testing.T) {
	db := newHandlersTestDB(t)
	handler := NewApplyMigrationHandler(db)

	result := handler(context.Background(), map[string]interface{}{"name": "only_a_name"}, callMeta("wo-migration"))
	assert.False(t, result.Success)
}

func TestExecuteSQLHandler_ReadReturnsJSONRows(t *testing.T) {
	db := newHandlersTestDB(t)
	_, err := db.ExecContext(context.Background(), "INSERT INTO widgets (name) VALUES ('cog')")
	require.NoError(t, err)

	handler := NewExecuteSQLHandler(db)
	result := handler(context.Background(), map[string]interface{}{"query": "SELECT name FROM widgets"}, callMeta("wo-sql"))

	require.True(t, result.Success)
	data := result.Data.(map[string]interface{})
	assert.Contains(t, data["rows"], "cog")
}

func TestExecuteSQLHandler_WriteReturnsConfirmation(t *testing.T) {
	db := newHandlersTestDB(t)
	handler := NewExecuteSQLHandler(db)

	result := handler(context.Background(), map[string]interface{}{
		"query": "INSERT INTO widgets (name) VALUES ('sprocket')",
	}, callMeta("wo-sql"))

	require.True(t, result.Success)
	assert.Equal(t, "executed successfully", result.Data)

	var count int
	err := db.QueryRowContext(context.Background(), "SELECT count(*) FROM widgets WHERE name='sprocket'").Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestExecuteSQLHandler_RequiresQuery(t *testing.T) {
	db := newHandlersTestDB(t)
	handler := NewExecuteSQLHandler(db)

	result := handler(context.Background(), map[string]interface{}{}, callMeta("wo-sql"))
	assert.False(t, result.Success)
}
