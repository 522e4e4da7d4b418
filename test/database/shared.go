package database

import (
	"context"
	stdsql "database/sql"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/CollideNV/hadron/internal/store"
	"github.com/CollideNV/hadron/test/util"
)

// SharedTestDB creates a single PostgreSQL schema that can be shared by
// multiple test replicas. Each replica gets its own Store (and pool) via
// NewStore, but all pools point to the same schema — enabling cross-replica
// tests that exercise the Graph Executor's orphan recovery and the Event
// Bus's PostgreSQL NOTIFY/LISTEN delivery across independent worker
// processes (spec.md §4.4, §4.2).
type SharedTestDB struct {
	host, dbName, user, password string
	port                         int
	schemaName                   string
}

// NewSharedTestDB creates a shared test schema, runs migrations once against
// it, and registers t.Cleanup to drop the schema. Call NewStore to create
// independent Store instances for each simulated replica.
func NewSharedTestDB(t *testing.T) *SharedTestDB {
	t.Helper()
	ctx := context.Background()

	host, port, user, password, dbName := util.GetBaseConnectionParams(t)
	schemaName := util.GenerateSchemaName(t)

	baseConnStr := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable", user, password, host, port, dbName)

	db, err := stdsql.Open("pgx", baseConnStr)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, fmt.Sprintf("CREATE SCHEMA %s", schemaName))
	require.NoError(t, err)
	t.Logf("SharedTestDB: created schema %s", schemaName)
	_ = db.Close()

	s := &SharedTestDB{host: host, port: port, user: user, password: password, dbName: dbName, schemaName: schemaName}

	// One Store open+close runs the embedded migrations against the schema;
	// each replica's own NewStore call reuses the now-migrated schema.
	seed := s.openStore(t)
	seed.Close()

	t.Cleanup(func() {
		cleanDB, err := stdsql.Open("pgx", baseConnStr)
		if err != nil {
			t.Logf("SharedTestDB: warning: could not connect to drop schema %s: %v", schemaName, err)
			return
		}
		defer func() { _ = cleanDB.Close() }()
		_, err = cleanDB.ExecContext(context.Background(), fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", schemaName))
		if err != nil {
			t.Logf("SharedTestDB: warning: failed to drop schema %s: %v", schemaName, err)
		}
	})

	return s
}

func (s *SharedTestDB) openStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(context.Background(), store.Config{
		Host:         s.host,
		Port:         s.port,
		User:         s.user,
		Password:     s.password,
		Database:     s.dbName,
		SSLMode:      "disable",
		MaxOpenConns: 10,
		SearchPath:   s.schemaName,
	})
	require.NoError(t, err)
	return st
}

// NewStore creates an independent *store.Store backed by a fresh connection
// pool to the shared schema. Each replica has its own pool so simulated
// workers can be shut down independently without races. Closed via
// t.Cleanup.
func (s *SharedTestDB) NewStore(t *testing.T) *store.Store {
	t.Helper()
	st := s.openStore(t)
	t.Cleanup(st.Close)
	return st
}

// ConnString returns a libpq connection string scoped to the shared schema,
// for components (the Event Bus's dedicated LISTEN connection) that open
// their own connection rather than using Store.Pool().
func (s *SharedTestDB) ConnString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable&search_path=%s",
		s.user, s.password, s.host, s.port, s.dbName, s.schemaName)
}
