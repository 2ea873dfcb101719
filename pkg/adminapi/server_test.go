package adminapi

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/forgelabs/buildworker/pkg/config"
	"github.com/forgelabs/buildworker/pkg/events"
	"github.com/forgelabs/buildworker/pkg/limiter"
	"github.com/forgelabs/buildworker/pkg/pipeline"
	"github.com/forgelabs/buildworker/pkg/queue"
	"github.com/forgelabs/buildworker/pkg/store"
)

func newTestClient(t *testing.T) *store.Client {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("buildworker_test"),
		tcpostgres.WithUsername("buildworker"),
		tcpostgres.WithPassword("buildworker"),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	cfg := config.DatabaseConfig{
		Host: host, Port: port.Int(), User: "buildworker", Password: "buildworker",
		Database: "buildworker_test", SSLMode: "disable",
		MaxOpenConns: 5, MaxIdleConns: 2, ConnMaxLifetime: time.Hour, ConnMaxIdleTime: 15 * time.Minute,
	}
	client, err := store.NewClient(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func newTestServer(t *testing.T, client *store.Client) *Server {
	t.Helper()

	qcfg := &config.QueueConfig{
		WorkerCount: 1, MaxConcurrentJobs: 4,
		PollInterval: 50 * time.Millisecond, PollIntervalJitter: 10 * time.Millisecond,
		JobTimeout: 30 * time.Second, GracefulShutdownTimeout: 5 * time.Second,
	}
	qr := queue.NewQueueRuntime("test-pod", client.Jobs(), qcfg)
	qr.RegisterWorker(pipeline.StreamQueue, noopHandler{}, qcfg)
	qr.RegisterWorker(pipeline.MetadataQueue, noopHandler{}, qcfg)
	qr.RegisterWorker(pipeline.DeployQueue, noopHandler{}, qcfg)

	publisher := events.NewEventPublisher(client.DB())
	limits := limiter.NewLimitController(client.RateLimit(), publisher, qr)
	initiator := pipeline.NewBuildInitiator(client, client.Projects(), client.Builds(), client.Operations(), qr, t.TempDir())
	connManager := events.NewConnectionManager(events.NewMessageStoreAdapter(client.Messages()), 10*time.Second)

	return NewServer(initiator, client.Projects(), client.Builds(), client.Messages(), publisher, limits, qr, nil, connManager)
}

type noopHandler struct{}

func (noopHandler) Handle(ctx context.Context, job *queue.Job) error { return nil }
