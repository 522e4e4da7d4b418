// Package database provides a disposable State Store for tests, grounded on
// the teacher's test/database/client.go dual-mode (CI service container vs.
// local testcontainers) shape, retargeted from an ent-backed *database.Client
// to internal/store.Store now that ent is no longer the persistence layer.
package database

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/CollideNV/hadron/internal/store"
)

// TestStore bundles an opened Store with the libpq connection string it was
// opened from, since the Event Bus needs its own dedicated LISTEN
// connection rather than the pool Store.Pool() exposes.
type TestStore struct {
	*store.Store
	ConnString string
}

// NewTestStore creates a disposable State Store.
// In CI (when CI_DATABASE_HOST is set): connects to an external PostgreSQL
// service container. In local dev: spins up a testcontainer with PostgreSQL.
// The container/pool is automatically cleaned up when the test ends.
func NewTestStore(t *testing.T) *TestStore {
	t.Helper()
	ctx := context.Background()

	cfg := store.Config{
		User:         "test",
		Password:     "test",
		Database:     "test",
		SSLMode:      "disable",
		MaxOpenConns: 10,
	}

	if ciHost := os.Getenv("CI_DATABASE_HOST"); ciHost != "" {
		t.Log("Using external PostgreSQL from CI_DATABASE_* env vars")
		cfg.Host = ciHost
		cfg.Port = 5432
		if p := os.Getenv("CI_DATABASE_PORT"); p != "" {
			port, err := strconv.Atoi(p)
			require.NoError(t, err)
			cfg.Port = port
		}
	} else {
		t.Log("Using testcontainers for PostgreSQL")
		pgContainer, err := postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase(cfg.Database),
			postgres.WithUsername(cfg.User),
			postgres.WithPassword(cfg.Password),
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

		host, err := pgContainer.Host(ctx)
		require.NoError(t, err)
		port, err := pgContainer.MappedPort(ctx, "5432/tcp")
		require.NoError(t, err)

		cfg.Host = host
		mappedPort, err := strconv.Atoi(port.Port())
		require.NoError(t, err)
		cfg.Port = mappedPort
	}

	st, err := store.Open(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(st.Close)

	connStr := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database, cfg.SSLMode)

	return &TestStore{Store: st, ConnString: connStr}
}
