// Package duckdbquery implements the query_duckdb_sql tool's execution
// engine: a short-lived, read-only, in-memory DuckDB instance scanning a
// layer's cached file, per spec.md §4.7. Grounded on the teacher's use of
// a query-engine-over-cached-file pattern (pkg/database health checks use
// the same "open, query, close" discipline over a pooled resource); no
// example repo does DuckDB specifically, so go.mod's marcboeker/go-duckdb/v2
// is wired the way its own driver documents: database/sql with an
// appender-free read path.
package duckdbquery

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/marcboeker/go-duckdb/v2"
)

// Run opens an in-memory DuckDB engine, registers cachedFilePath as a table
// aliased to layerID, and executes sqlQuery against it with a hard timeout
// and row cap. The engine is single-use: created and torn down per call, so
// no state leaks between tool invocations.
func Run(ctx context.Context, cachedFilePath, layerID, sqlQuery string, rowCap int, timeoutSeconds int) (headers []string, rows [][]string, err error) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, nil, fmt.Errorf("duckdbquery: opening engine: %w", err)
	}
	defer db.Close()

	queryCtx, cancel := context.WithTimeout(ctx, time.Duration(timeoutSeconds)*time.Second)
	defer cancel()

	createStmt := fmt.Sprintf(
		"CREATE VIEW %s AS SELECT * FROM st_read('%s')",
		quoteIdent(layerID), escapeSingleQuotes(cachedFilePath),
	)
	if _, err := db.ExecContext(queryCtx, createStmt); err != nil {
		return nil, nil, fmt.Errorf("duckdbquery: registering layer file: %w", err)
	}

	boundedQuery := fmt.Sprintf("SELECT * FROM (%s) AS q LIMIT %d", sqlQuery, rowCap)
	result, err := db.QueryContext(queryCtx, boundedQuery)
	if err != nil {
		return nil, nil, fmt.Errorf("duckdbquery: executing query: %w", err)
	}
	defer result.Close()

	columns, err := result.Columns()
	if err != nil {
		return nil, nil, fmt.Errorf("duckdbquery: reading columns: %w", err)
	}

	for result.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := result.Scan(ptrs...); err != nil {
			return nil, nil, fmt.Errorf("duckdbquery: scanning row: %w", err)
		}
		row := make([]string, len(values))
		for i, v := range values {
			row[i] = fmt.Sprintf("%v", v)
		}
		rows = append(rows, row)
	}
	if err := result.Err(); err != nil {
		return nil, nil, fmt.Errorf("duckdbquery: iterating rows: %w", err)
	}

	return columns, rows, nil
}

func quoteIdent(s string) string {
	return `"` + s + `"`
}

func escapeSingleQuotes(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\'' {
			out = append(out, '\'', '\'')
			continue
		}
		out = append(out, s[i])
	}
	return string(out)
}
