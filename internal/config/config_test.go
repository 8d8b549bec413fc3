package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func clearRelevantEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"POSTGRES_HOST", "DB_PORT", "POSTGIS_LOCALHOST_POLICY", "MUNDI_AUTH_MODE",
		"DB_MAX_OPEN_CONNS", "DB_MAX_IDLE_CONNS", "MUNDI_CONFIG_FILE",
	} {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}
}

func TestLoadAppliesEnvVarDefaults(t *testing.T) {
	clearRelevantEnv(t)
	t.Setenv("POSTGIS_LOCALHOST_POLICY", "disallow")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "localhost", cfg.DBHost)
	require.Equal(t, 5432, cfg.DBPort)
	require.Equal(t, AuthModeEdit, cfg.AuthMode)
	require.Equal(t, LoopbackDisallow, cfg.PostGISLocalhostPolicy)
}

func TestLoadRejectsUnknownLoopbackPolicy(t *testing.T) {
	clearRelevantEnv(t)
	t.Setenv("POSTGIS_LOCALHOST_POLICY", "sometimes")

	_, err := Load()
	require.Error(t, err)
}

func TestLoadRejectsUnknownAuthMode(t *testing.T) {
	clearRelevantEnv(t)
	t.Setenv("POSTGIS_LOCALHOST_POLICY", "allow")
	t.Setenv("MUNDI_AUTH_MODE", "god_mode")

	_, err := Load()
	require.Error(t, err)
}

func TestLoadRejectsIdleConnsExceedingOpenConns(t *testing.T) {
	clearRelevantEnv(t)
	t.Setenv("POSTGIS_LOCALHOST_POLICY", "allow")
	t.Setenv("DB_MAX_OPEN_CONNS", "1")
	t.Setenv("DB_MAX_IDLE_CONNS", "5")

	_, err := Load()
	require.Error(t, err)
}

func TestApplyFileOverridesOnlyTouchesFieldsTheFileSets(t *testing.T) {
	cfg := &Config{
		MaxIterations:       25,
		ConversationLockTTL: 30 * time.Second,
		MissBufferCap:       100,
		DBMaxOpenConns:      10,
		DBMaxIdleConns:      1,
	}

	path := filepath.Join(t.TempDir(), "mundi.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
max_iterations: 40
conversation_lock_ttl: 45s
`), 0o600))

	require.NoError(t, applyFileOverrides(cfg, path))
	require.Equal(t, 40, cfg.MaxIterations)
	require.Equal(t, 45*time.Second, cfg.ConversationLockTTL)
	// Fields the file didn't mention are untouched.
	require.Equal(t, 100, cfg.MissBufferCap)
	require.Equal(t, 10, cfg.DBMaxOpenConns)
	require.Equal(t, 1, cfg.DBMaxIdleConns)
}

func TestApplyFileOverridesRejectsMalformedDuration(t *testing.T) {
	cfg := &Config{}
	path := filepath.Join(t.TempDir(), "mundi.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`qgis_call_timeout: "not-a-duration"`), 0o600))

	err := applyFileOverrides(cfg, path)
	require.Error(t, err)
}

func TestApplyFileOverridesRejectsMalformedYAML(t *testing.T) {
	cfg := &Config{}
	path := filepath.Join(t.TempDir(), "mundi.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`not: [valid: yaml`), 0o600))

	err := applyFileOverrides(cfg, path)
	require.Error(t, err)
}

func TestLoadWithConfigFileAppliesOverlay(t *testing.T) {
	clearRelevantEnv(t)
	t.Setenv("POSTGIS_LOCALHOST_POLICY", "allow")

	path := filepath.Join(t.TempDir(), "mundi.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`max_iterations: 5`), 0o600))
	t.Setenv("MUNDI_CONFIG_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 5, cfg.MaxIterations)
}
