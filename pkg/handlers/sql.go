package handlers

import (
	"context"
	"database/sql"
	"encoding/json"
	"hash/fnv"
	"strings"
	"time"

	"github.com/worunner/worunner/pkg/tools"
)

const readResultCharCap = 8000

// NewApplyMigrationHandler implements apply_migration: an advisory-lock-
// guarded DDL/DML statement, keyed by the hash of the migration name so two
// concurrent callers attempting the same named migration serialize instead
// of racing, while unrelated migrations proceed in parallel.
func NewApplyMigrationHandler(db *sql.DB) tools.Handler {
	return func(ctx context.Context, input map[string]interface{}, meta tools.CallMeta) tools.ToolResult {
		name, _ := input["name"].(string)
		query, _ := input["query"].(string)
		if name == "" || query == "" {
			return tools.Fail("apply_migration requires name and query")
		}
		if tools.ContainsBypassKeyword(query) {
			return tools.Fail("query contains a disallowed bypass keyword")
		}

		lockKey := fnvHash(name)

		lockCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()

		conn, err := db.Conn(lockCtx)
		if err != nil {
			return tools.Fail("acquire connection: %v", err)
		}
		defer conn.Close()

		if _, err := conn.ExecContext(lockCtx, "SET lock_timeout = '10s'"); err != nil {
			return tools.Fail("set lock_timeout: %v", err)
		}
		if _, err := conn.ExecContext(lockCtx, "SELECT pg_advisory_lock($1)", lockKey); err != nil {
			if strings.Contains(err.Error(), "lock") || strings.Contains(err.Error(), "timeout") {
				return tools.Fail("could not obtain migration lock for %q: %v", name, err)
			}
			return tools.Fail("acquire advisory lock: %v", err)
		}
		defer conn.ExecContext(context.Background(), "SELECT pg_advisory_unlock($1)", lockKey)

		execCtx, execCancel := context.WithTimeout(ctx, 600*time.Second)
		defer execCancel()
		if _, err := conn.ExecContext(execCtx, "SET statement_timeout = '600s'"); err != nil {
			return tools.Fail("set statement_timeout: %v", err)
		}

		if _, err := conn.ExecContext(execCtx, query); err != nil {
			return tools.Fail("migration %q failed: %v", name, err)
		}
		return tools.Ok(map[string]interface{}{"name": name, "status": "applied"})
	}
}

func fnvHash(s string) int64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return int64(h.Sum64())
}

// NewExecuteSQLHandler implements execute_sql: a read query returns its
// rows JSON-aggregated and truncated at 8,000 characters with a marker;
// a DDL/DML statement returns a plain confirmation. Destructive statements
// and bypass keywords are already rejected by the dispatcher before this
// handler ever runs.
func NewExecuteSQLHandler(db *sql.DB) tools.Handler {
	return func(ctx context.Context, input map[string]interface{}, meta tools.CallMeta) tools.ToolResult {
		query, _ := input["query"].(string)
		if query == "" {
			return tools.Fail("execute_sql requires query")
		}

		switch tools.Classify(query) {
		case tools.SQLKindRead:
			rows, err := db.QueryContext(ctx, query)
			if err != nil {
				return tools.Fail("query failed: %v", err)
			}
			defer rows.Close()
			out, err := rowsToJSON(rows)
			if err != nil {
				return tools.Fail("scan results: %v", err)
			}
			if len(out) > readResultCharCap {
				out = out[:readResultCharCap] + "\n...[truncated]"
			}
			return tools.Ok(map[string]interface{}{"rows": out})
		default:
			if _, err := db.ExecContext(ctx, query); err != nil {
				return tools.Fail("statement failed: %v", err)
			}
			return tools.Ok("executed successfully")
		}
	}
}

func rowsToJSON(rows *sql.Rows) (string, error) {
	cols, err := rows.Columns()
	if err != nil {
		return "", err
	}

	var results []map[string]interface{}
	for rows.Next() {
		values := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return "", err
		}
		row := make(map[string]interface{}, len(cols))
		for i, col := range cols {
			row[col] = normalizeSQLValue(values[i])
		}
		results = append(results, row)
	}
	if err := rows.Err(); err != nil {
		return "", err
	}

	b, err := json.Marshal(results)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func normalizeSQLValue(v interface{}) interface{} {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}
