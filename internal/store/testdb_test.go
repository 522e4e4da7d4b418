package store

import (
	"context"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// newTestStore opens a Store against a disposable Postgres: an external
// service container when CI_DATABASE_URL/CI_DATABASE_* env vars are set, or
// a testcontainers-go postgres module locally, mirroring the teacher's
// test/database.NewTestClient dual-mode shape.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()

	cfg := Config{
		Host:         "localhost",
		Port:         5432,
		User:         "test",
		Password:     "test",
		Database:     "test",
		SSLMode:      "disable",
		MaxOpenConns: 10,
	}

	if host := os.Getenv("CI_DATABASE_HOST"); host != "" {
		t.Log("using external PostgreSQL from CI_DATABASE_* env vars")
		cfg.Host = host
		if p := os.Getenv("CI_DATABASE_PORT"); p != "" {
			port, err := strconv.Atoi(p)
			require.NoError(t, err)
			cfg.Port = port
		}
	} else {
		t.Log("using testcontainers for PostgreSQL")
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
		p, err := strconv.Atoi(port.Port())
		require.NoError(t, err)
		cfg.Port = p
	}

	st, err := Open(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(st.Close)
	return st
}
