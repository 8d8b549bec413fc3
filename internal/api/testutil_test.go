package api

import (
	"context"
	stdsql "database/sql"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	echo "github.com/labstack/echo/v5"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/mundiai/agent-runtime/internal/config"
	"github.com/mundiai/agent-runtime/internal/dbgw"
	"github.com/mundiai/agent-runtime/internal/store"
)

// Grounded on the same shared-testcontainer-plus-per-test-schema shape as
// internal/store's own tests: the handlers exercised here (map/conversation
// CRUD) only touch *store.Store, so a full gateway is enough — no object
// store, QGIS client, or agentic loop needed.
var (
	apiSharedConnStr string
	apiContainerOnce sync.Once
	apiContainerErr  error
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	connStr := getOrCreateAPITestDatabase(t)
	schemaName := fmt.Sprintf("test_api_%d", time.Now().UnixNano())

	db, err := stdsql.Open("pgx", connStr)
	require.NoError(t, err)
	_, err = db.ExecContext(context.Background(), fmt.Sprintf("CREATE SCHEMA %s", schemaName))
	require.NoError(t, err)
	require.NoError(t, db.Close())

	sep := "?"
	if strings.Contains(connStr, "?") {
		sep = "&"
	}
	connStrWithSchema := fmt.Sprintf("%s%ssearch_path=%s", connStr, sep, schemaName)
	require.NoError(t, store.Migrate(connStrWithSchema, schemaName))

	gw, err := dbgw.NewGateway(context.Background(), connStrWithSchema)
	require.NoError(t, err)
	t.Cleanup(func() {
		gw.Close()
		cleanupDB, err := stdsql.Open("pgx", connStr)
		if err != nil {
			return
		}
		defer cleanupDB.Close()
		_, _ = cleanupDB.ExecContext(context.Background(), fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", schemaName))
	})

	cfg := &config.Config{AuthMode: config.AuthModeEdit}
	return NewServer(cfg, store.New(gw), nil, nil, nil, nil)
}

func getOrCreateAPITestDatabase(t *testing.T) string {
	t.Helper()
	apiContainerOnce.Do(func() {
		ctx := context.Background()
		pgContainer, err := postgres.Run(ctx,
			"postgres:17-alpine",
			postgres.WithDatabase("test"),
			postgres.WithUsername("test"),
			postgres.WithPassword("test"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30*time.Second)),
		)
		if err != nil {
			apiContainerErr = fmt.Errorf("starting postgres container: %w", err)
			return
		}
		connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
		if err != nil {
			apiContainerErr = fmt.Errorf("getting connection string: %w", err)
			return
		}
		apiSharedConnStr = connStr
	})
	if apiContainerErr != nil {
		t.Skipf("postgres testcontainer unavailable, skipping: %v", apiContainerErr)
	}
	return apiSharedConnStr
}

// newEchoContext builds a *echo.Context for a handler test, optionally
// setting path params in the same order as paramNames.
func newEchoContext(s *Server, method, target, body string, paramNames, paramValues []string) (*echo.Context, *httptest.ResponseRecorder) {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	c := s.echo.NewContext(req, rec)
	c.SetParamNames(paramNames...)
	c.SetParamValues(paramValues...)
	return c, rec
}

func httpRequestWithHeader(t *testing.T, method, target, body, headerKey, headerValue string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(headerKey, headerValue)
	return req
}

func httpRecorder() *httptest.ResponseRecorder {
	return httptest.NewRecorder()
}
