package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

const (
	maxPostGISResultChars = 25_000
	maxDuckDBResultChars  = 25_000
	defaultDuckDBRowCap   = 25
	duckDBQueryTimeout    = 10
)

type queryPostGISDatabaseArgs struct {
	ConnectionID string `json:"connection_id"`
	Query        string `json:"query"`
}

var limitClausePattern = regexp.MustCompile(`(?i)\bLIMIT\s+(\d+)\b`)

// validateLimitClause enforces spec.md §4.7's "must contain a syntactic
// LIMIT n <= 1000" rule for caller-supplied PostGIS queries.
func validateLimitClause(query string) error {
	match := limitClausePattern.FindStringSubmatch(query)
	if match == nil {
		return fmt.Errorf("query must contain a LIMIT clause with n <= 1000")
	}
	n, err := strconv.Atoi(match[1])
	if err != nil || n > 1000 {
		return fmt.Errorf("LIMIT must be a number <= 1000, got %q", match[1])
	}
	return nil
}

// enforceResultCap rejects a result once it has grown past capChars, per
// spec.md §4.7's 25,000-character tool-result cap (shared by both the
// PostGIS and DuckDB query tools).
func enforceResultCap(currentLen, capChars int) error {
	if currentLen > capChars {
		return fmt.Errorf("result exceeds %d character cap", capChars)
	}
	return nil
}

// queryPostGISDatabase runs a caller-supplied read-only query against the
// user's PostGIS connection, rejecting anything without a syntactic
// LIMIT n <= 1000, per spec.md §4.7.
func queryPostGISDatabase(ctx context.Context, rc *RequestContext, raw json.RawMessage) (any, error) {
	var args queryPostGISDatabaseArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("parsing arguments: %w", err)
	}

	if err := validateLimitClause(args.Query); err != nil {
		return nil, err
	}

	conn, err := rc.Store.GetPGConnection(ctx, args.ConnectionID)
	if err != nil {
		return nil, fmt.Errorf("connection %q not found: %w", args.ConnectionID, err)
	}

	pool, err := rc.UserPools.GetOrCreate(ctx, conn.URI, conn.ID, rc.Store)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", conn.ConnectionName, err)
	}
	userConn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquiring connection: %w", err)
	}
	defer userConn.Release()

	if _, err := userConn.Exec(ctx, "SET SESSION CHARACTERISTICS AS TRANSACTION READ ONLY"); err != nil {
		return nil, fmt.Errorf("hardening session to read-only: %w", err)
	}

	rows, err := userConn.Query(ctx, args.Query)
	if err != nil {
		return nil, fmt.Errorf("executing query: %w", err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	headers := make([]string, len(fields))
	for i, f := range fields {
		headers[i] = f.Name
	}

	var tsv strings.Builder
	tsv.WriteString(strings.Join(headers, "\t"))
	tsv.WriteByte('\n')
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("reading row: %w", err)
		}
		cells := make([]string, len(values))
		for i, v := range values {
			cells[i] = fmt.Sprintf("%v", v)
		}
		tsv.WriteString(strings.Join(cells, "\t"))
		tsv.WriteByte('\n')
		if err := enforceResultCap(tsv.Len(), maxPostGISResultChars); err != nil {
			return nil, err
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}

	return map[string]any{"status": "ok", "format": "tsv", "result": tsv.String()}, nil
}

// NewQueryPostGISDatabaseTool constructs the query_postgis_database tool entry.
func NewQueryPostGISDatabaseTool() *Tool {
	return &Tool{
		Name:        "query_postgis_database",
		Description: "Run a read-only SQL query (must include LIMIT <= 1000) against a user's PostGIS connection.",
		Schema:      json.RawMessage(queryPostGISDatabaseSchema),
		Handler:     queryPostGISDatabase,
	}
}

type queryDuckDBSQLArgs struct {
	LayerID  string `json:"layer_id"`
	SQLQuery string `json:"sql_query"`
	RowLimit int    `json:"row_limit"`
}

// DuckDBRunner executes a read-only query against a layer's cached file and
// returns its headers and rows. Implemented by internal/duckdbquery;
// injected here as a narrow interface so tests can stub it without pulling
// in the cgo-backed driver.
type DuckDBRunner func(ctx context.Context, cachedFilePath, layerID, sqlQuery string, rowCap int, timeoutSeconds int) (headers []string, rows [][]string, err error)

// queryDuckDBSQLWith is the RowLimit/QueryDuckDB logic factored out so both
// the registered handler and tests can exercise it against a fake runner.
func queryDuckDBSQLWith(ctx context.Context, rc *RequestContext, args queryDuckDBSQLArgs, cacheDir func(ctx context.Context, layerID string) (string, error), run DuckDBRunner) (any, error) {
	layer, err := rc.Store.GetLayer(ctx, args.LayerID)
	if err != nil {
		return nil, fmt.Errorf("layer %q not found: %w", args.LayerID, err)
	}
	if layer.OwnerUserID != rc.UserID {
		return nil, fmt.Errorf("layer %q does not belong to the caller", args.LayerID)
	}

	path, err := cacheDir(ctx, args.LayerID)
	if err != nil {
		return nil, fmt.Errorf("acquiring cached layer file: %w", err)
	}

	rowCap := defaultDuckDBRowCap
	if args.RowLimit > rowCap {
		rowCap = args.RowLimit
	}

	headers, rows, err := run(ctx, path, args.LayerID, args.SQLQuery, rowCap, duckDBQueryTimeout)
	if err != nil {
		return nil, fmt.Errorf("executing query: %w", err)
	}

	var csv strings.Builder
	csv.WriteString(strings.Join(headers, ","))
	csv.WriteByte('\n')
	for _, row := range rows {
		csv.WriteString(strings.Join(row, ","))
		csv.WriteByte('\n')
		if err := enforceResultCap(csv.Len(), maxDuckDBResultChars); err != nil {
			return nil, err
		}
	}

	return map[string]any{"status": "ok", "format": "csv", "result": csv.String()}, nil
}

// NewQueryDuckDBSQLTool constructs the query_duckdb_sql tool entry. cacheDir
// resolves a layer id to its locally cached file path (the layer
// cache, per spec.md's glossary); run executes the query.
func NewQueryDuckDBSQLTool(cacheDir func(ctx context.Context, layerID string) (string, error), run DuckDBRunner) *Tool {
	return &Tool{
		Name:        "query_duckdb_sql",
		Description: "Run a read-only SQL query over a vector layer's cached file.",
		Schema:      json.RawMessage(queryDuckDBSQLSchema),
		Handler: func(ctx context.Context, rc *RequestContext, raw json.RawMessage) (any, error) {
			var args queryDuckDBSQLArgs
			if err := json.Unmarshal(raw, &args); err != nil {
				return nil, fmt.Errorf("parsing arguments: %w", err)
			}
			return queryDuckDBSQLWith(ctx, rc, args, cacheDir, run)
		},
	}
}
