// Package database provides the control plane's Postgres connection and
// migration runner. Access beyond connection management (registry,
// conversation store) lives in their own packages, each holding a
// *database.Client and issuing hand-written SQL — there is no ORM layer.
package database

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
)

//go:embed migrations
var migrationsFS embed.FS

// Client wraps a pooled *sql.DB. Package registry/conversations take one of
// these and issue their own queries against DB().
type Client struct {
	db *sql.DB
}

// DB returns the underlying pooled connection.
func (c *Client) DB() *sql.DB {
	return c.db
}

// Close releases the connection pool.
func (c *Client) Close() error {
	return c.db.Close()
}

// NewClient opens a connection pool, verifies connectivity, and runs
// pending migrations before returning.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := runMigrations(db, cfg.Database); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Client{db: db}, nil
}

// NewClientFromDB wraps an already-open *sql.DB without running migrations
// again — used by tests that already applied migrations through testdb.
func NewClientFromDB(db *sql.DB) *Client {
	return &Client{db: db}
}

// ApplyMigrations runs the embedded migrations against an already-open
// *sql.DB. Exposed for pkg/database/testdb, which opens its own pool
// against a testcontainer/CI database outside of NewClient.
func ApplyMigrations(db *sql.DB, databaseName string) error {
	return runMigrations(db, databaseName)
}

// runMigrations applies embedded SQL migrations with golang-migrate,
// matching the teacher's embed+iofs workflow minus the Ent-specific
// GIN-index post-step (this schema needs no GIN indexes).
func runMigrations(db *sql.DB, databaseName string) error {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create postgres driver: %w", err)
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, databaseName, driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	// Do not call m.Close() — it closes the database driver, which would
	// close the shared *sql.DB passed in via postgres.WithInstance.
	return sourceDriver.Close()
}
