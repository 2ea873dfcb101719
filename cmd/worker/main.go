// Command worker boots the build-orchestration worker plane: the
// BuildInitiator/StreamWorker/MetadataWorker/DeployWorker pipeline, the
// retention cleanup service, and the admin HTTP API, all sharing one
// Postgres-backed QueueRuntime.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/forgelabs/buildworker/pkg/accounting"
	"github.com/forgelabs/buildworker/pkg/adminapi"
	"github.com/forgelabs/buildworker/pkg/agent"
	"github.com/forgelabs/buildworker/pkg/cleanup"
	"github.com/forgelabs/buildworker/pkg/config"
	"github.com/forgelabs/buildworker/pkg/deploy"
	"github.com/forgelabs/buildworker/pkg/events"
	"github.com/forgelabs/buildworker/pkg/limiter"
	"github.com/forgelabs/buildworker/pkg/pipeline"
	"github.com/forgelabs/buildworker/pkg/queue"
	"github.com/forgelabs/buildworker/pkg/store"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	envPath := flag.String("env-file", getEnv("ENV_FILE", ".env"), "Path to a .env file")
	flag.Parse()

	if err := godotenv.Load(*envPath); err != nil {
		log.Printf("no .env file loaded from %s, using process environment: %v", *envPath, err)
	}

	cfg, err := config.LoadFromEnv()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := store.NewClient(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer func() {
		if err := client.Close(); err != nil {
			slog.Error("error closing database client", "error", err)
		}
	}()
	slog.Info("connected to postgres and applied migrations")

	var userLimits *limiter.RedisPorts
	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	defer func() { _ = rdb.Close() }()

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	pingErr := rdb.Ping(pingCtx).Err()
	pingCancel()
	if pingErr != nil {
		slog.Warn("redis unreachable at boot, per-user throttling disabled (fail-open)", "error", pingErr)
	} else {
		userLimits = limiter.NewRedisPorts(rdb)
	}

	publisher := events.NewEventPublisher(client.DB())

	connManager := events.NewConnectionManager(events.NewMessageStoreAdapter(client.Messages()), cfg.Worker.WebSocketWriteTimeout)
	notifyListener := events.NewNotifyListener(cfg.Database.DSN(), connManager)
	connManager.SetListener(notifyListener)
	if err := notifyListener.Start(ctx); err != nil {
		log.Fatalf("failed to start NOTIFY listener: %v", err)
	}
	defer notifyListener.Stop(context.Background())

	queueRuntime := queue.NewQueueRuntime(hostname(), client.Jobs(), cfg.Queue)
	limits := limiter.NewLimitController(client.RateLimit(), publisher, queueRuntime)

	acctClient := accounting.NewClient(cfg.Worker.AccountingEndpoint)
	supervisor := agent.NewProcessSupervisor()
	deployer := deploy.NewLocalDeployer(getEnv("DEPLOY_BASE_DOMAIN", "preview.buildworker.dev"))

	initiator := pipeline.NewBuildInitiator(client, client.Projects(), client.Builds(), client.Operations(), queueRuntime, cfg.Worker.ProjectsBaseDir)
	streamWorker := pipeline.NewStreamWorker(
		client.Projects(), client.Builds(), client.Checkpoints(), client.AgentSessions(), client.Versions(),
		queueRuntime, publisher, limits, acctClient, supervisor, cfg.Worker,
	)
	metadataWorker := pipeline.NewMetadataWorker(
		client.Projects(), client.Versions(), client.Recommendations(), publisher, supervisor, cfg.Worker.CompactSessionOnMetadata,
	)
	deployWorker := pipeline.NewDeployWorker(client.Projects(), client.Builds(), publisher, deployer)

	streamQueueCfg := *cfg.Queue
	streamQueueCfg.WorkerCount = cfg.Worker.StreamWorkerConcurrency
	queueRuntime.RegisterWorker(pipeline.StreamQueue, streamWorker, &streamQueueCfg)
	queueRuntime.RegisterWorker(pipeline.MetadataQueue, metadataWorker, cfg.Queue)
	queueRuntime.RegisterWorker(pipeline.DeployQueue, deployWorker, cfg.Queue)

	if err := queueRuntime.Start(ctx); err != nil {
		log.Fatalf("failed to start queue runtime: %v", err)
	}
	defer queueRuntime.Stop()

	retention := cleanup.NewService(cfg.Retention, client.Checkpoints(), client.AgentSessions())
	retention.Start(ctx)
	defer retention.Stop()

	server := adminapi.NewServer(initiator, client.Projects(), client.Builds(), client.Messages(), publisher, limits, queueRuntime, userLimits, connManager)

	addr := ":" + getEnv("HTTP_PORT", "8080")
	errCh := make(chan error, 1)
	go func() {
		slog.Info("admin api listening", "addr", addr)
		if err := server.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining")
	case err := <-errCh:
		slog.Error("admin api server failed", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("error shutting down admin api", "error", err)
	}
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "worker-unknown"
	}
	return h
}
