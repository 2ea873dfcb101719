// Package config assembles the worker-plane Config umbrella at boot: one
// struct, constructed once, handed to subsystems via dependency injection.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the umbrella configuration object for the worker binary.
type Config struct {
	Database DatabaseConfig
	Queue *QueueConfig
	Worker *WorkerConfig
	Redis RedisConfig
	Retention *RetentionConfig
}

// DatabaseConfig holds Postgres connection and pool settings.
type DatabaseConfig struct {
	Host string
	Port int
	User string
	Password string
	Database string
	SSLMode string

	MaxOpenConns int
	MaxIdleConns int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// RedisConfig addresses the RateLimiter / IdempotencyStore / Lease ports'
// backing store.
type RedisConfig struct {
	Addr string
	Password string
	DB int
}

// WorkerConfig holds the worker-plane-specific settings: where the
// code-generation agent binary lives, its per-attempt timeout budgets, the
// accounting service endpoint, pool sizing, and the metadata, mock-session
// and WebSocket settings below.
type WorkerConfig struct {
	// AgentBinaryPath is the executable spawned as the code-generation
	// agent subprocess.
	AgentBinaryPath string

	// ProjectsBaseDir is the {base} in {base}/{userId}/{projectId}.
	ProjectsBaseDir string

	// InitialAttemptTimeout is attempt 1's wall-clock budget.
	InitialAttemptTimeout time.Duration
	// RetryAttemptTimeout is the shorter budget used for attempt >= 2.
	RetryAttemptTimeout time.Duration
	// KillGracePeriod is how long the supervisor waits between sending a
	// terminating signal and SIGKILL.
	KillGracePeriod time.Duration

	// AccountingEndpoint is the accounting service's base URL for balance
	// pre-flight checks and end-of-attempt settlement.
	AccountingEndpoint string

	// StreamWorkerConcurrency is the default-3 worker pool size for the stream queue.
	StreamWorkerConcurrency int

	// CompactSessionOnMetadata feature-flags the metadata-stage session
	// compaction after the metadata stage).
	CompactSessionOnMetadata bool

	// MockSessionPrefix strictly pattern-gates the mock-session
	// bypass; empty (the default) disables it entirely. LoadFromEnv sets it
	// from MOCK_SESSION_PREFIX.
	MockSessionPrefix string

	// WebSocketWriteTimeout bounds how long ConnectionManager waits on a
	// single client write before dropping the connection.
	WebSocketWriteTimeout time.Duration
}

// RetentionConfig governs the background GC pass over build-scoped scratch
// state that outlives its usefulness once a build settles.
type RetentionConfig struct {
	// CheckpointRetention is how long a Checkpoint row survives once its
	// owning Build reaches a terminal status.
	CheckpointRetention time.Duration
	// StaleSessionTimeout reaps an AgentSession stuck in spawning/running
	// with no terminal transition — a crashed worker pod's orphan.
	StaleSessionTimeout time.Duration
	// CleanupInterval is how often the retention pass runs.
	CleanupInterval time.Duration
}

// DefaultRetentionConfig returns built-in defaults; callers overlay
// environment overrides via LoadFromEnv.
func DefaultRetentionConfig() *RetentionConfig {
	return &RetentionConfig{
		CheckpointRetention: 7 * 24 * time.Hour,
		StaleSessionTimeout: 2 * time.Hour,
		CleanupInterval: 15 * time.Minute,
	}
}

// DefaultWorkerConfig returns built-in defaults; callers overlay environment
// overrides via LoadFromEnv.
func DefaultWorkerConfig() *WorkerConfig {
	return &WorkerConfig{
		AgentBinaryPath: "/usr/local/bin/codegen-agent",
		ProjectsBaseDir: "/var/lib/buildworker/projects",
		InitialAttemptTimeout: 10 * time.Minute,
		RetryAttemptTimeout: 5 * time.Minute,
		KillGracePeriod: 10 * time.Second,
		StreamWorkerConcurrency: 3,
		CompactSessionOnMetadata: false,
		WebSocketWriteTimeout: 10 * time.Second,
	}
}

// LoadFromEnv assembles the full Config from environment variables (and any
// .env file already loaded via godotenv by the caller — see cmd/worker).
func LoadFromEnv() (*Config, error) {
	dbPort, err := strconv.Atoi(getEnvOrDefault("DB_PORT", "5432"))
	if err != nil {
		return nil, fmt.Errorf("invalid DB_PORT: %w", err)
	}
	maxOpen, _ := strconv.Atoi(getEnvOrDefault("DB_MAX_OPEN_CONNS", "25"))
	maxIdle, _ := strconv.Atoi(getEnvOrDefault("DB_MAX_IDLE_CONNS", "10"))
	maxLifetime, err := time.ParseDuration(getEnvOrDefault("DB_CONN_MAX_LIFETIME", "1h"))
	if err != nil {
		return nil, fmt.Errorf("invalid DB_CONN_MAX_LIFETIME: %w", err)
	}
	maxIdleTime, err := time.ParseDuration(getEnvOrDefault("DB_CONN_MAX_IDLE_TIME", "15m"))
	if err != nil {
		return nil, fmt.Errorf("invalid DB_CONN_MAX_IDLE_TIME: %w", err)
	}

	db := DatabaseConfig{
		Host: getEnvOrDefault("DB_HOST", "localhost"),
		Port: dbPort,
		User: getEnvOrDefault("DB_USER", "buildworker"),
		Password: os.Getenv("DB_PASSWORD"),
		Database: getEnvOrDefault("DB_NAME", "buildworker"),
		SSLMode: getEnvOrDefault("DB_SSLMODE", "disable"),
		MaxOpenConns: maxOpen,
		MaxIdleConns: maxIdle,
		ConnMaxLifetime: maxLifetime,
		ConnMaxIdleTime: maxIdleTime,
	}
	if err := db.Validate(); err != nil {
		return nil, err
	}

	redisDB, _ := strconv.Atoi(getEnvOrDefault("REDIS_DB", "0"))
	redis := RedisConfig{
		Addr: getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
		Password: os.Getenv("REDIS_PASSWORD"),
		DB: redisDB,
	}

	queueCfg := DefaultQueueConfig()
	if v := os.Getenv("QUEUE_WORKER_COUNT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid QUEUE_WORKER_COUNT: %w", err)
		}
		queueCfg.WorkerCount = n
	}

	workerCfg := DefaultWorkerConfig()
	if v := os.Getenv("AGENT_BINARY_PATH"); v != "" {
		workerCfg.AgentBinaryPath = v
	}
	if v := os.Getenv("PROJECTS_BASE_DIR"); v != "" {
		workerCfg.ProjectsBaseDir = v
	}
	if v := os.Getenv("ACCOUNTING_ENDPOINT"); v != "" {
		workerCfg.AccountingEndpoint = v
	}
	if v := os.Getenv("MOCK_SESSION_PREFIX"); v != "" {
		workerCfg.MockSessionPrefix = v
	}

	retentionCfg := DefaultRetentionConfig()
	if v := os.Getenv("CHECKPOINT_RETENTION"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid CHECKPOINT_RETENTION: %w", err)
		}
		retentionCfg.CheckpointRetention = d
	}
	if v := os.Getenv("STALE_SESSION_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid STALE_SESSION_TIMEOUT: %w", err)
		}
		retentionCfg.StaleSessionTimeout = d
	}
	if v := os.Getenv("RETENTION_CLEANUP_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid RETENTION_CLEANUP_INTERVAL: %w", err)
		}
		retentionCfg.CleanupInterval = d
	}

	return &Config{
		Database: db,
		Queue: queueCfg,
		Worker: workerCfg,
		Redis: redis,
		Retention: retentionCfg,
	}, nil
}

// DSN returns the libpq connection string store.NewClient opens its
// connection pool with and events.NewNotifyListener its dedicated LISTEN
// connection with — same credentials for both.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// Validate checks DatabaseConfig invariants.
func (c DatabaseConfig) Validate() error {
	if c.Password == "" {
		return fmt.Errorf("DB_PASSWORD is required")
	}
	if c.MaxIdleConns > c.MaxOpenConns {
		return fmt.Errorf("DB_MAX_IDLE_CONNS (%d) cannot exceed DB_MAX_OPEN_CONNS (%d)", c.MaxIdleConns, c.MaxOpenConns)
	}
	if c.MaxOpenConns < 1 {
		return fmt.Errorf("DB_MAX_OPEN_CONNS must be at least 1")
	}
	if c.MaxIdleConns < 0 {
		return fmt.Errorf("DB_MAX_IDLE_CONNS cannot be negative")
	}
	return nil
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
