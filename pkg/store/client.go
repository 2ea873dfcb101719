// Package store implements the Postgres-backed repositories for the data
// model, using a pooled connection plus an embedded-migration bootstrap,
// queried through jackc/pgx's database/sql façade and jmoiron/sqlx instead
// of an ORM (see DESIGN.md's ent deviation note).
package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver

	"github.com/forgelabs/buildworker/pkg/config"
)

//go:embed migrations
var migrationsFS embed.FS

// Client wraps the pooled database connection every repository reads and
// writes through.
type Client struct {
	db *sqlx.DB
}

// DB returns the underlying *sql.DB for health checks (pkg/store.Health).
func (c *Client) DB() *sql.DB { return c.db.DB }

// Tx scopes a handful of store operations to one database transaction — used
// where two related writes (e.g. BuildStore.CreateTx + OperationStore's
// dedup insert) must commit or roll back together.
type Tx struct {
	tx *sqlx.Tx
}

// BeginTx starts a new transaction against the pool.
func (c *Client) BeginTx(ctx context.Context) (*Tx, error) {
	tx, err := c.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	return &Tx{tx: tx}, nil
}

// Commit commits the transaction.
func (t *Tx) Commit() error { return t.tx.Commit() }

// Rollback aborts the transaction. Safe to call after Commit — sql.Tx
// returns sql.ErrTxDone, which callers here treat as a no-op.
func (t *Tx) Rollback() error { return t.tx.Rollback() }

// NewClient opens a pooled Postgres connection, applies pending migrations,
// and returns a ready-to-use Client (open, configure pool, ping, migrate).
func NewClient(ctx context.Context, cfg config.DatabaseConfig) (*Client, error) {
	db, err := sqlx.Open("pgx", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := runMigrations(db.DB, cfg.Database); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Client{db: db}, nil
}

// NewClientFromDB wraps an already-open *sqlx.DB, useful for tests that
// construct their own testcontainers-backed connection.
func NewClientFromDB(db *sqlx.DB) *Client {
	return &Client{db: db}
}

// Close releases the underlying connection pool.
func (c *Client) Close() error { return c.db.Close() }

// runMigrations applies embedded SQL migrations with golang-migrate.
func runMigrations(db *sql.DB, databaseName string) error {
	if _, err := fs.Stat(migrationsFS, "migrations"); err != nil {
		return fmt.Errorf("no embedded migration files found: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create postgres driver: %w", err)
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, databaseName, driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply migrations: %w", err)
	}

	// Only close the migration source; closing the migrate instance would
	// also close the shared *sql.DB we still need.
	if err := sourceDriver.Close(); err != nil {
		return fmt.Errorf("close migration source: %w", err)
	}
	return nil
}
