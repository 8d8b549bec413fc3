// Package dbgw is the DB Gateway: a scoped-acquisition primitive over a
// bounded application-database pool, plus a per-URI-memoized pool for
// user-supplied PostGIS databases. Grounded on
// original_source/src/dependencies/db_pool.py's _connection_pools dict and
// the teacher's pkg/database/client.go pooling configuration.
package dbgw

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mundiai/agent-runtime/internal/pgconn"
)

// Gateway wraps a bounded pgxpool.Pool for the application database.
type Gateway struct {
	pool *pgxpool.Pool
}

// NewGateway opens a bounded pool (min 1, max 10, 60s statement timeout) for
// the application database, per spec.md §4.1.
func NewGateway(ctx context.Context, dsn string) (*Gateway, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("dbgw: parsing dsn: %w", err)
	}
	poolCfg.MinConns = 1
	poolCfg.MaxConns = 10
	poolCfg.ConnConfig.RuntimeParams["statement_timeout"] = "60000"
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConnIdleTime = 15 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("dbgw: opening pool: %w", err)
	}
	return &Gateway{pool: pool}, nil
}

// Pool exposes the underlying pgxpool.Pool for callers that need direct
// access (migrations, health checks).
func (g *Gateway) Pool() *pgxpool.Pool { return g.pool }

// Acquire borrows a connection for the lifetime of one operation, bounded by
// a 60-second command timeout. The caller MUST call the returned release
// func on every exit path (defer release()) — acquisition failure propagates
// as a transient error and does not change any state.
func (g *Gateway) Acquire(ctx context.Context) (*pgxpool.Conn, func(), error) {
	opCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	conn, err := g.pool.Acquire(opCtx)
	if err != nil {
		cancel()
		return nil, nil, fmt.Errorf("dbgw: acquire: %w", err)
	}
	release := func() {
		conn.Release()
		cancel()
	}
	return conn, release, nil
}

// Close shuts down the pool.
func (g *Gateway) Close() { g.pool.Close() }

// UserPool memoizes one bounded pool per user-supplied PostGIS connection
// URI, mirroring original_source's module-level _connection_pools dict.
// Once created for a URI, a pool is reused for the process lifetime.
type UserPool struct {
	mu    sync.Mutex
	pools map[string]*pgxpool.Pool
}

// NewUserPool constructs an empty URI-keyed pool registry.
func NewUserPool() *UserPool {
	return &UserPool{pools: make(map[string]*pgxpool.Pool)}
}

// GetOrCreate returns the pool for uri, creating it (min 1, max 10, 60s
// command timeout, TLS hostname/chain verification disabled for self-signed
// user certs) on first use. Every physical connection in the pool is
// hardened to read-only at the session level, per spec.md §4.2 ("every
// query issued on a user DB must be read-only at the session level") —
// the same invariant internal/pgconn.Connect enforces for its single-
// session contract. connectionID and recorder feed the pool's first-use
// outcome into the same last-error bookkeeping pgconn.Connect uses; recorder
// may be nil (tests that don't care about error persistence).
func (u *UserPool) GetOrCreate(ctx context.Context, uri, connectionID string, recorder pgconn.ErrorRecorder) (*pgxpool.Pool, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if p, ok := u.pools[uri]; ok {
		return p, nil
	}

	poolCfg, err := pgxpool.ParseConfig(uri)
	if err != nil {
		wrapped := &pgconn.DriverError{Cause: err}
		pgconn.RecordFailure(ctx, recorder, connectionID, wrapped)
		return nil, fmt.Errorf("dbgw: parsing user uri: %w", err)
	}
	poolCfg.MinConns = 1
	poolCfg.MaxConns = 10
	poolCfg.ConnConfig.RuntimeParams["statement_timeout"] = "60000"
	if poolCfg.ConnConfig.TLSConfig != nil {
		poolCfg.ConnConfig.TLSConfig.InsecureSkipVerify = true
	}
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.AfterConnect = func(connectCtx context.Context, conn *pgx.Conn) error {
		_, err := conn.Exec(connectCtx, "SET SESSION CHARACTERISTICS AS TRANSACTION READ ONLY")
		return err
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		wrapped := &pgconn.DriverError{Cause: err}
		pgconn.RecordFailure(ctx, recorder, connectionID, wrapped)
		return nil, fmt.Errorf("dbgw: opening user pool: %w", err)
	}
	if recorder != nil {
		_ = recorder.ClearError(ctx, connectionID)
	}
	u.pools[uri] = pool
	return pool, nil
}

// Acquire borrows a connection from the pool for uri with a 60-second
// command timeout, creating the pool on first use.
func (u *UserPool) Acquire(ctx context.Context, uri, connectionID string, recorder pgconn.ErrorRecorder) (*pgxpool.Conn, func(), error) {
	pool, err := u.GetOrCreate(ctx, uri, connectionID, recorder)
	if err != nil {
		return nil, nil, err
	}
	opCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	conn, err := pool.Acquire(opCtx)
	if err != nil {
		cancel()
		return nil, nil, fmt.Errorf("dbgw: acquire user conn: %w", err)
	}
	release := func() {
		conn.Release()
		cancel()
	}
	return conn, release, nil
}

// CloseAll shuts down every memoized user pool; used on process shutdown.
func (u *UserPool) CloseAll() {
	u.mu.Lock()
	defer u.mu.Unlock()
	for _, p := range u.pools {
		p.Close()
	}
	u.pools = make(map[string]*pgxpool.Pool)
}
