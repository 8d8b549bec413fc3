// Package pgconn implements the PG Connection Manager: validating
// user-supplied PostgreSQL URIs against the loopback policy, opening
// read-only-hardened sessions bounded by a timeout, and recording per-
// connection error state. Ported in semantics from
// original_source/src/dependencies/postgres_connection.py.
package pgconn

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/mundiai/agent-runtime/internal/config"
	"github.com/mundiai/agent-runtime/internal/masking"
)

// URIError is a user-facing rejection of a connection URI: bad scheme,
// missing host, or a loopback host under policy "disallow".
type URIError struct {
	Message string
}

func (e *URIError) Error() string { return e.Message }

// ConfigurationError signals that the process-wide configuration itself is
// broken (e.g. an absent/unknown loopback policy) — an HTTP 500-class fault,
// not something the caller's request can fix.
type ConfigurationError struct {
	Message string
}

func (e *ConfigurationError) Error() string { return e.Message }

// TimeoutError wraps a connect attempt that exceeded its deadline.
type TimeoutError struct {
	Cause error
}

func (e *TimeoutError) Error() string { return fmt.Sprintf("connection timed out: %v", e.Cause) }
func (e *TimeoutError) Unwrap() error { return e.Cause }

// DriverError wraps a PostgreSQL driver-level failure (auth, network, bad
// database name) distinct from a timeout or an unexpected internal error.
type DriverError struct {
	Cause error
}

func (e *DriverError) Error() string { return fmt.Sprintf("postgres error: %v", e.Cause) }
func (e *DriverError) Unwrap() error { return e.Cause }

// ValidateURI checks scheme and hostname presence, and applies the loopback
// policy. Returns the URI to actually use (possibly rewritten) and whether
// it was rewritten.
func ValidateURI(rawURI string, policy config.LoopbackPolicy) (resolved string, rewritten bool, err error) {
	if !strings.HasPrefix(rawURI, "postgresql://") {
		return "", false, &URIError{Message: "connection URI must begin with postgresql://"}
	}

	u, parseErr := url.Parse(rawURI)
	if parseErr != nil || u.Hostname() == "" {
		return "", false, &URIError{Message: "connection URI must contain a hostname"}
	}

	if !isLoopback(u.Hostname()) {
		return rawURI, false, nil
	}

	switch policy {
	case config.LoopbackDisallow:
		return "", false, &URIError{Message: "localhost database address is not allowed"}
	case config.LoopbackDockerRewrite:
		u.Host = replaceHost(u.Host, "host.docker.internal")
		return u.String(), true, nil
	case config.LoopbackAllow:
		return rawURI, false, nil
	default:
		return "", false, &ConfigurationError{Message: fmt.Sprintf("unknown POSTGIS_LOCALHOST_POLICY %q", policy)}
	}
}

// isLoopback detects the literal hostname "localhost" or any address that
// parses to a loopback IP.
func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func replaceHost(hostport, newHost string) string {
	_, port, err := net.SplitHostPort(hostport)
	if err != nil {
		return newHost
	}
	return net.JoinHostPort(newHost, port)
}

// Record is the connection's error-bookkeeping state, mirrored into
// internal/store.
type Record struct {
	ID                 string
	URI                string
	LastErrorText      *string
	LastErrorTimestamp *time.Time
}

// ErrorRecorder persists last_error_text / last_error_timestamp updates.
// Implemented by internal/store against the application database.
type ErrorRecorder interface {
	ClearError(ctx context.Context, connectionID string) error
	SetError(ctx context.Context, connectionID string, message string, at time.Time) error
}

// Connect opens a session against a user-supplied PostgreSQL connection,
// bounded by the configured timeout, and hardens it to read-only at the
// session level before returning. Records last-error state via recorder on
// every outcome, per spec.md §4.2.
func Connect(ctx context.Context, uri string, timeout time.Duration, connectionID string, recorder ErrorRecorder) (*pgx.Conn, error) {
	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	pgxCfg, err := pgx.ParseConfig(uri)
	if err != nil {
		RecordFailure(ctx, recorder, connectionID, &DriverError{Cause: err})
		return nil, &DriverError{Cause: err}
	}
	// User databases frequently present self-signed certificates; hostname
	// and chain verification are disabled by documented policy (spec.md §4.1).
	if pgxCfg.TLSConfig != nil {
		pgxCfg.TLSConfig.InsecureSkipVerify = true
	}

	conn, err := pgx.ConnectConfig(connectCtx, pgxCfg)
	if err != nil {
		if errors.Is(connectCtx.Err(), context.DeadlineExceeded) {
			wrapped := &TimeoutError{Cause: err}
			RecordFailure(ctx, recorder, connectionID, wrapped)
			return nil, wrapped
		}
		wrapped := &DriverError{Cause: err}
		RecordFailure(ctx, recorder, connectionID, wrapped)
		return nil, wrapped
	}

	if _, err := conn.Exec(ctx, "SET SESSION CHARACTERISTICS AS TRANSACTION READ ONLY"); err != nil {
		_ = conn.Close(ctx)
		wrapped := &DriverError{Cause: err}
		RecordFailure(ctx, recorder, connectionID, wrapped)
		return nil, wrapped
	}

	if recorder != nil {
		_ = recorder.ClearError(ctx, connectionID)
	}
	return conn, nil
}

// RecordFailure persists a connection's error state. The message is run
// through masking.Mask first: driver errors from jackc/pgx can embed the
// connection string verbatim, and this text is stored and later surfaced
// back to the owning user, per spec.md §4.2's "never log the raw DSN".
// Exported so internal/dbgw's pooled acquisition path can share the same
// bookkeeping as Connect's single-session path.
func RecordFailure(ctx context.Context, recorder ErrorRecorder, connectionID string, err error) {
	if recorder == nil {
		return
	}
	_ = recorder.SetError(ctx, connectionID, masking.Mask(err.Error()), time.Now())
}
