// Package engine wraps the shared in-process DuckDB database.
//
// Buffered statements serialize on one mutex and run on the pool. Streams
// run on a dedicated connection each, so a long or slow stream never holds
// a pool connection that a mutex holder is waiting for.
package engine

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	_ "github.com/duckdb/duckdb-go/v2"
)

// Executor owns access to the embedded DuckDB database. Callers never
// touch the underlying *sql.DB directly.
type Executor struct {
	db *sql.DB
	mu sync.Mutex
}

// Open creates an in-memory DuckDB database. All connections of the pool
// share the same database instance.
func Open() (*Executor, error) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	return &Executor{db: db}, nil
}

// Close releases the underlying connection.
func (e *Executor) Close() error {
	return e.db.Close()
}

// QuoteIdent quotes a DuckDB identifier.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// Exec runs a DDL or utility statement under the engine lock.
func (e *Executor) Exec(ctx context.Context, query string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute statement: %w", err)
	}
	return nil
}

// Result holds a fully materialized query result.
type Result struct {
	Columns []string
	Rows    []map[string]interface{}
}

// Query executes a SELECT under the engine lock and materializes all rows.
func (e *Executor) Query(ctx context.Context, query string) (*Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	rows, err := e.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	out := &Result{Columns: cols}
	for rows.Next() {
		rec, err := scanRow(rows, cols)
		if err != nil {
			return nil, err
		}
		out.Rows = append(out.Rows, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Count executes a single-value COUNT query under the engine lock.
func (e *Executor) Count(ctx context.Context, query string) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var n int64
	if err := e.db.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// Column describes one column of a relation.
type Column struct {
	Name string
	Type string
}

// Describe returns the output schema of an arbitrary SELECT without
// executing it fully.
func (e *Executor) Describe(ctx context.Context, selectSQL string) ([]Column, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	rows, err := e.db.QueryContext(ctx, "DESCRIBE "+selectSQL)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []Column
	for rows.Next() {
		rec, err := scanRow(rows, cols)
		if err != nil {
			return nil, err
		}
		c := Column{}
		if v, ok := rec["column_name"].(string); ok {
			c.Name = v
		}
		if v, ok := rec["column_type"].(string); ok {
			c.Type = v
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Stream executes a SELECT once and delivers rows to emit in chunks of at
// most chunkSize. It runs on its own connection, taken from the pool for
// the stream's lifetime: the engine lock is held only while the statement
// starts, so buffered queries and reloads proceed while emit runs. Result
// consistency across a long stream is snapshot-less: a concurrent registry
// reload is not isolated from it.
func (e *Executor) Stream(ctx context.Context, query string, chunkSize int, emit func(cols []string, chunk []map[string]interface{}) error) error {
	if chunkSize <= 0 {
		chunkSize = 1000
	}

	conn, err := e.db.Conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close() //nolint:errcheck

	e.mu.Lock()
	rows, err := conn.QueryContext(ctx, query)
	e.mu.Unlock()
	if err != nil {
		return err
	}
	defer rows.Close() //nolint:errcheck

	cols, err := rows.Columns()
	if err != nil {
		return err
	}

	for {
		chunk, more, err := fetchChunk(rows, cols, chunkSize)
		if err != nil {
			return err
		}
		if len(chunk) > 0 {
			if err := emit(cols, chunk); err != nil {
				return err
			}
		}
		if !more {
			return nil
		}
	}
}

func fetchChunk(rows *sql.Rows, cols []string, n int) ([]map[string]interface{}, bool, error) {
	chunk := make([]map[string]interface{}, 0, n)
	for len(chunk) < n {
		if !rows.Next() {
			return chunk, false, rows.Err()
		}
		rec, err := scanRow(rows, cols)
		if err != nil {
			return nil, false, err
		}
		chunk = append(chunk, rec)
	}
	return chunk, true, nil
}

// scanRow scans the current row into a column-keyed map, converting byte
// slices to strings for JSON serialization.
func scanRow(rows *sql.Rows, cols []string) (map[string]interface{}, error) {
	vals := make([]interface{}, len(cols))
	ptrs := make([]interface{}, len(cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, err
	}
	rec := make(map[string]interface{}, len(cols))
	for i, c := range cols {
		if b, ok := vals[i].([]byte); ok {
			rec[c] = string(b)
		} else {
			rec[c] = vals[i]
		}
	}
	return rec, nil
}
