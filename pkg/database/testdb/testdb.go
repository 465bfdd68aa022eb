// Package testdb provides a Postgres-backed test client for the registry
// and conversation-store integration tests, adapted from the teacher's
// test/database/client.go helper. Unlike the teacher, migrations here
// create a fixed `orchestration` schema (no per-test search_path
// parameterization is possible without rewriting the SQL), so each test
// gets its own container rather than a shared one with isolated schemas.
package testdb

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/sawuapara/jarvis/pkg/database"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// NewTestClient returns a migrated *database.Client.
//
// In CI (CI_DATABASE_URL set): connects to an external Postgres service
// container and truncates the orchestration tables before the test body
// runs, so tests sharing that database don't see each other's rows.
//
// In local dev: spins up a fresh testcontainer per call. The container is
// terminated automatically when the test completes.
func NewTestClient(t *testing.T) *database.Client {
	ctx := context.Background()

	var connStr string
	if ci := os.Getenv("CI_DATABASE_URL"); ci != "" {
		t.Log("using external Postgres from CI_DATABASE_URL")
		connStr = ci
	} else {
		t.Log("using testcontainers for Postgres")
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
		require.NoError(t, err)
		t.Cleanup(func() {
			if err := testcontainers.TerminateContainer(pgContainer); err != nil {
				t.Logf("failed to terminate container: %v", err)
			}
		})

		connStr, err = pgContainer.ConnectionString(ctx, "sslmode=disable")
		require.NoError(t, err)
	}

	db, err := sql.Open("pgx", connStr)
	require.NoError(t, err)
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	require.NoError(t, database.ApplyMigrations(db, "test"))

	if os.Getenv("CI_DATABASE_URL") != "" {
		_, err := db.ExecContext(ctx, "TRUNCATE orchestration.turns, orchestration.conversations, orchestration.workers")
		require.NoError(t, err)
	}

	t.Cleanup(func() {
		_ = db.Close()
	})

	return database.NewClientFromDB(db)
}
