// Package config loads the agent runtime's configuration from environment
// variables, the interface spec.md §6 specifies this system by, plus an
// optional YAML file of operational tunables layered on top.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// LoopbackPolicy governs how the PG Connection Manager treats a
// user-supplied PostgreSQL URI whose host resolves to loopback.
type LoopbackPolicy string

const (
	LoopbackDisallow     LoopbackPolicy = "disallow"
	LoopbackDockerRewrite LoopbackPolicy = "docker_rewrite"
	LoopbackAllow        LoopbackPolicy = "allow"
)

// AuthMode selects how request identity is resolved.
type AuthMode string

const (
	AuthModeEdit     AuthMode = "edit"
	AuthModeViewOnly AuthMode = "view_only"
)

// Config is the fully-resolved, validated runtime configuration.
type Config struct {
	// Application database.
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration
	DBConnMaxIdleTime time.Duration

	// Redis (conversation lock, cancellation flags).
	RedisHost string
	RedisPort int

	// Object store.
	S3EndpointURL     string
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3DefaultRegion   string
	S3Bucket          string

	// QGIS worker.
	QGISProcessingURL string
	QGISCallTimeout   time.Duration

	// LLM.
	OpenAIAPIKey   string
	OpenAIBaseURL  string
	OpenAIModel    string
	LLMCallTimeout time.Duration

	// HTTP server.
	HTTPPort string

	// PG Connection Manager.
	PostGISLocalhostPolicy LoopbackPolicy
	PostGISTimeout         time.Duration

	// Auth / embed.
	AuthMode                AuthMode
	EmbedAllowedOrigins     []string
	WebsiteDomain           string

	// OSM ingestion.
	BuntingLabsOSMAPIKey string

	// Agentic loop tunables.
	MaxIterations        int
	ConversationLockTTL  time.Duration
	CancelFlagTTL        time.Duration
	MissBufferTTL        time.Duration
	MissBufferCap        int
}

// Load reads and validates configuration from the process environment.
func Load() (*Config, error) {
	dbPort, err := intEnv("DB_PORT", 5432)
	if err != nil {
		return nil, err
	}
	redisPort, err := intEnv("REDIS_PORT", 6379)
	if err != nil {
		return nil, err
	}
	maxOpen, err := intEnv("DB_MAX_OPEN_CONNS", 10)
	if err != nil {
		return nil, err
	}
	maxIdle, err := intEnv("DB_MAX_IDLE_CONNS", 1)
	if err != nil {
		return nil, err
	}
	postgisTimeoutSec, err := intEnv("MUNDI_POSTGIS_TIMEOUT_SEC", 10)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		DBHost:            getEnvOrDefault("POSTGRES_HOST", "localhost"),
		DBPort:            dbPort,
		DBUser:            getEnvOrDefault("POSTGRES_USER", "mundi"),
		DBPassword:        os.Getenv("POSTGRES_PASSWORD"),
		DBName:            getEnvOrDefault("POSTGRES_DB", "mundi"),
		DBSSLMode:         getEnvOrDefault("POSTGRES_SSLMODE", "disable"),
		DBMaxOpenConns:    maxOpen,
		DBMaxIdleConns:    maxIdle,
		DBConnMaxLifetime: time.Hour,
		DBConnMaxIdleTime: 15 * time.Minute,

		RedisHost: getEnvOrDefault("REDIS_HOST", "localhost"),
		RedisPort: redisPort,

		S3EndpointURL:     os.Getenv("S3_ENDPOINT_URL"),
		S3AccessKeyID:     os.Getenv("S3_ACCESS_KEY_ID"),
		S3SecretAccessKey: os.Getenv("S3_SECRET_ACCESS_KEY"),
		S3DefaultRegion:   getEnvOrDefault("S3_DEFAULT_REGION", "us-east-1"),
		S3Bucket:          os.Getenv("S3_BUCKET"),

		QGISProcessingURL: os.Getenv("QGIS_PROCESSING_URL"),
		QGISCallTimeout:   30 * time.Second,

		OpenAIAPIKey:   os.Getenv("OPENAI_API_KEY"),
		OpenAIBaseURL:  getEnvOrDefault("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		OpenAIModel:    getEnvOrDefault("OPENAI_MODEL", "gpt-4o"),
		LLMCallTimeout: 120 * time.Second,

		HTTPPort: getEnvOrDefault("PORT", "8080"),

		PostGISLocalhostPolicy: LoopbackPolicy(os.Getenv("POSTGIS_LOCALHOST_POLICY")),
		PostGISTimeout:         time.Duration(postgisTimeoutSec) * time.Second,

		AuthMode:            AuthMode(getEnvOrDefault("MUNDI_AUTH_MODE", string(AuthModeEdit))),
		EmbedAllowedOrigins: splitCSV(os.Getenv("MUNDI_EMBED_ALLOWED_ORIGINS")),
		WebsiteDomain:       os.Getenv("WEBSITE_DOMAIN"),

		BuntingLabsOSMAPIKey: os.Getenv("BUNTINGLABS_OSM_API_KEY"),

		MaxIterations:       25,
		ConversationLockTTL: 30 * time.Second,
		CancelFlagTTL:       5 * time.Minute,
		MissBufferTTL:       30 * time.Second,
		MissBufferCap:       100,
	}

	if path := os.Getenv("MUNDI_CONFIG_FILE"); path != "" {
		if err := applyFileOverrides(cfg, path); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// fileOverrides is the YAML shape of MUNDI_CONFIG_FILE: a small set of
// operational tunables deployments may want to adjust without touching
// environment variables. Connection secrets and endpoints stay env-only.
type fileOverrides struct {
	MaxIterations       *int    `yaml:"max_iterations,omitempty"`
	ConversationLockTTL string  `yaml:"conversation_lock_ttl,omitempty"`
	CancelFlagTTL       string  `yaml:"cancel_flag_ttl,omitempty"`
	MissBufferTTL       string  `yaml:"miss_buffer_ttl,omitempty"`
	MissBufferCap       *int    `yaml:"miss_buffer_cap,omitempty"`
	QGISCallTimeout     string  `yaml:"qgis_call_timeout,omitempty"`
	LLMCallTimeout      string  `yaml:"llm_call_timeout,omitempty"`
	DBMaxOpenConns      *int    `yaml:"db_max_open_conns,omitempty"`
	DBMaxIdleConns      *int    `yaml:"db_max_idle_conns,omitempty"`
}

// applyFileOverrides reads path as YAML and merges any tunables it sets
// onto cfg, mirroring the teacher's tarsy.yaml-over-defaults layering
// (pkg/config's loader.go + merge.go, here collapsed to one small struct
// since this runtime's file-overridable surface is a handful of
// durations/counts rather than agents/chains/MCP servers).
func applyFileOverrides(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: reading %s: %w", path, err)
	}
	var ov fileOverrides
	if err := yaml.Unmarshal(data, &ov); err != nil {
		return fmt.Errorf("config: parsing %s: %w", path, err)
	}

	overlay := Config{}
	if ov.MaxIterations != nil {
		overlay.MaxIterations = *ov.MaxIterations
	}
	if ov.MissBufferCap != nil {
		overlay.MissBufferCap = *ov.MissBufferCap
	}
	if ov.DBMaxOpenConns != nil {
		overlay.DBMaxOpenConns = *ov.DBMaxOpenConns
	}
	if ov.DBMaxIdleConns != nil {
		overlay.DBMaxIdleConns = *ov.DBMaxIdleConns
	}
	for _, d := range []struct {
		raw *string
		dst *time.Duration
	}{
		{&ov.ConversationLockTTL, &overlay.ConversationLockTTL},
		{&ov.CancelFlagTTL, &overlay.CancelFlagTTL},
		{&ov.MissBufferTTL, &overlay.MissBufferTTL},
		{&ov.QGISCallTimeout, &overlay.QGISCallTimeout},
		{&ov.LLMCallTimeout, &overlay.LLMCallTimeout},
	} {
		if *d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(*d.raw)
		if err != nil {
			return fmt.Errorf("config: parsing duration %q in %s: %w", *d.raw, path, err)
		}
		*d.dst = parsed
	}

	return mergo.Merge(cfg, overlay, mergo.WithOverride)
}

// Validate checks invariants that aren't representable by zero-value
// defaults alone — in particular the loopback policy, which has no safe
// default (an absent/unknown value must surface as a configuration error
// per spec.md §4.2, not silently fall back to a permissive choice).
func (c *Config) Validate() error {
	switch c.PostGISLocalhostPolicy {
	case LoopbackDisallow, LoopbackDockerRewrite, LoopbackAllow:
	default:
		return fmt.Errorf("config: POSTGIS_LOCALHOST_POLICY must be one of disallow|docker_rewrite|allow, got %q", c.PostGISLocalhostPolicy)
	}
	switch c.AuthMode {
	case AuthModeEdit, AuthModeViewOnly:
	default:
		return fmt.Errorf("config: MUNDI_AUTH_MODE must be edit|view_only, got %q", c.AuthMode)
	}
	if c.DBMaxIdleConns > c.DBMaxOpenConns {
		return fmt.Errorf("config: DB_MAX_IDLE_CONNS (%d) cannot exceed DB_MAX_OPEN_CONNS (%d)", c.DBMaxIdleConns, c.DBMaxOpenConns)
	}
	return nil
}

// OSMEnabled reports whether the download_from_openstreetmap tool should be
// registered (spec.md §4.5: "Only enabled when an API key env var is present").
func (c *Config) OSMEnabled() bool {
	return c.BuntingLabsOSMAPIKey != ""
}

func intEnv(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: invalid %s: %w", key, err)
	}
	return n, nil
}

func getEnvOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
