// Command agentrtd is the agent runtime's HTTP/WS server: it wires the DB
// gateway, object store, QGIS worker client, LLM client, tool registry, and
// agentic loop together and serves the API surface defined in internal/api.
// Grounded on the teacher's cmd/tarsy/main.go sequential-construction shape
// (config, then database, then services, then router), adapted to this
// runtime's dependency graph.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/mundiai/agent-runtime/internal/agent"
	"github.com/mundiai/agent-runtime/internal/api"
	"github.com/mundiai/agent-runtime/internal/cancelflag"
	"github.com/mundiai/agent-runtime/internal/config"
	"github.com/mundiai/agent-runtime/internal/convlock"
	"github.com/mundiai/agent-runtime/internal/dbgw"
	"github.com/mundiai/agent-runtime/internal/events"
	"github.com/mundiai/agent-runtime/internal/layercache"
	"github.com/mundiai/agent-runtime/internal/llm"
	"github.com/mundiai/agent-runtime/internal/objectstore"
	"github.com/mundiai/agent-runtime/internal/qgis"
	"github.com/mundiai/agent-runtime/internal/store"
	"github.com/mundiai/agent-runtime/internal/tools"
	"github.com/mundiai/agent-runtime/internal/tracing"
)

const serviceVersion = "dev"

// qgisAlgorithms lists the worker-exposed processing algorithms registered
// as tools in every deployment, per spec.md §4.8. The QGIS worker itself
// decides what each algorithm accepts; this is only the fixed menu exposed
// to the agentic loop.
var qgisAlgorithms = []tools.QGISAlgorithm{
	{ToolName: "native_buffer", Description: "Buffers a vector layer's geometries by a distance."},
	{ToolName: "native_clip", Description: "Clips a vector layer to an overlay layer's extent."},
	{ToolName: "native_dissolve", Description: "Dissolves a vector layer's geometries by an optional field."},
	{ToolName: "native_centroids", Description: "Replaces a vector layer's geometries with their centroids."},
	{ToolName: "native_reprojectlayer", Description: "Reprojects a vector layer to a target CRS."},
	{ToolName: "gdal_hillshade", Description: "Generates a hillshade raster from a DEM layer."},
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir", getEnv("CONFIG_DIR", "./deploy/config"), "directory containing the .env file")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		log.Printf("warning: could not load %s: %v (continuing with existing environment)", envPath, err)
	} else {
		log.Printf("loaded environment from %s", envPath)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("loading configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tracingShutdown, err := tracing.Setup(ctx, "agentrtd", serviceVersion, os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	if err != nil {
		log.Fatalf("setting up tracing: %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracingShutdown(shutdownCtx); err != nil {
			slog.Error("tracing shutdown failed", "error", err)
		}
	}()

	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.DBUser, cfg.DBPassword, cfg.DBHost, cfg.DBPort, cfg.DBName, cfg.DBSSLMode)

	if err := store.Migrate(dsn, cfg.DBName); err != nil {
		log.Fatalf("running database migrations: %v", err)
	}

	gateway, err := dbgw.NewGateway(ctx, dsn)
	if err != nil {
		log.Fatalf("connecting to application database: %v", err)
	}
	defer gateway.Close()
	slog.Info("connected to application database", "host", cfg.DBHost, "db", cfg.DBName)

	st := store.New(gateway)
	if err := st.Ping(ctx); err != nil {
		log.Fatalf("application database health check failed: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{Addr: fmt.Sprintf("%s:%d", cfg.RedisHost, cfg.RedisPort)})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatalf("connecting to redis: %v", err)
	}
	locker := convlock.NewLocker(redisClient, cfg.ConversationLockTTL)
	cancelFlags := cancelflag.NewFlags(redisClient, cfg.CancelFlagTTL)

	bus := events.NewBus(cfg.MissBufferTTL, cfg.MissBufferCap)
	bus.SetResolver(st)
	evictCtx, stopEviction := context.WithCancel(ctx)
	defer stopEviction()
	go bus.RunEvictionLoop(evictCtx, cfg.MissBufferTTL)

	publisher := events.NewPublisher(gateway.Pool())

	listener := events.NewNotifyListener(dsn, bus)
	if err := listener.Start(ctx); err != nil {
		log.Fatalf("starting NOTIFY listener: %v", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		listener.Stop(stopCtx)
	}()

	objStore, err := objectstore.New(ctx, cfg.S3EndpointURL, cfg.S3AccessKeyID, cfg.S3SecretAccessKey, cfg.S3DefaultRegion, cfg.S3Bucket)
	if err != nil {
		log.Fatalf("constructing object store client: %v", err)
	}

	qgisClient := qgis.NewClient(cfg.QGISProcessingURL)

	cacheDir := filepath.Join(os.TempDir(), "agentrtd-layercache")
	cache, err := layercache.New(cacheDir, st, objStore)
	if err != nil {
		log.Fatalf("constructing layer cache: %v", err)
	}

	registry, err := tools.BuildRegistry(tools.BuildOptions{
		QGISAlgorithms: qgisAlgorithms,
		OSMEnabled:     cfg.OSMEnabled(),
		OSMAPIKey:      cfg.BuntingLabsOSMAPIKey,
		LayerCache:     cache.Resolve,
	})
	if err != nil {
		log.Fatalf("building tool registry: %v", err)
	}

	llmClient := llm.NewClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel)

	loop := agent.NewLoop(agent.Deps{
		Store:       st,
		Gateway:     gateway,
		UserPools:   dbgw.NewUserPool(),
		Publisher:   publisher,
		Locker:      locker,
		Cancel:      cancelFlags,
		Registry:    registry,
		LLMClient:   llmClient,
		ObjectStore: objStore,
		QGIS:        qgisClient,
	})

	server := api.NewServer(cfg, st, objStore, qgisClient, cancelFlags, bus)
	server.SetLoop(loop)
	if err := server.ValidateWiring(); err != nil {
		log.Fatalf("server wiring incomplete: %v", err)
	}

	addr := ":" + cfg.HTTPPort
	serverErrs := make(chan error, 1)
	go func() {
		slog.Info("starting agent runtime HTTP server", "addr", addr, "auth_mode", cfg.AuthMode)
		serverErrs <- server.Start(addr)
	}()

	select {
	case err := <-serverErrs:
		log.Fatalf("http server exited: %v", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("graceful shutdown failed", "error", err)
		}
	}
}
