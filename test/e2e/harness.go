// Package e2e drives a complete Hadron instance over HTTP, grounded on the
// teacher's test/e2e/harness.go TestApp shape: a real State Store, a real
// Event Bus with its dedicated LISTEN connection, a real Intervention
// Registry, a real Graph Executor, and the Controller API listening on an
// OS-assigned port. The twelve real stage nodes (internal/stages) drive an
// out-of-process LLM agent this harness cannot stand up, so scenarios wire a
// caller-supplied stub Graph instead — the same substitution
// internal/executor's own tests make, now exercised through the HTTP
// surface and Postgres rather than in-process Run calls.
package e2e

import (
	"fmt"
	"io"
	"log/slog"
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/CollideNV/hadron/internal/api"
	"github.com/CollideNV/hadron/internal/applog"
	"github.com/CollideNV/hadron/internal/config"
	"github.com/CollideNV/hadron/internal/eventbus"
	"github.com/CollideNV/hadron/internal/executor"
	"github.com/CollideNV/hadron/internal/intervention"
	testdb "github.com/CollideNV/hadron/test/database"
)

// TestApp boots a complete Hadron instance for e2e testing.
type TestApp struct {
	Config   *config.Config
	Store    *testdb.TestStore
	Bus      *eventbus.Bus
	Registry *intervention.Registry
	Executor *executor.Executor
	Server   *api.Server

	BaseURL string

	t *testing.T
}

// NewTestApp creates and starts a full Hadron test instance against the
// given stage graph. Shutdown is registered via t.Cleanup automatically.
func NewTestApp(t *testing.T, graph executor.Graph) *TestApp {
	t.Helper()

	cfg := defaultTestConfig()

	store := testdb.NewTestStore(t)
	bus := eventbus.NewBus(store.Pool(), store.ConnString)
	require.NoError(t, bus.Start(t.Context()))
	t.Cleanup(func() { bus.Stop(t.Context()) })

	registry := intervention.NewRegistry(store.Pool(), bus)
	exec := executor.NewExecutor(store.Store, bus, registry, graph)
	logsHub := applog.NewHub(slog.NewTextHandler(io.Discard, nil))

	server := api.NewServer(cfg, store.Store, bus, registry, exec, logsHub)
	require.NoError(t, server.ValidateWiring(), "server wiring incomplete")

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = server.StartWithListener(ln) }()
	t.Cleanup(func() { _ = server.Shutdown(t.Context()) })

	return &TestApp{
		Config:   cfg,
		Store:    store,
		Bus:      bus,
		Registry: registry,
		Executor: exec,
		Server:   server,
		BaseURL:  fmt.Sprintf("http://%s", ln.Addr().String()),
		t:        t,
	}
}

// defaultTestConfig mirrors defaultConfig's pipeline knobs with small loop
// limits so circuit-breaker scenarios don't need dozens of stage
// invocations to reach their pause.
func defaultTestConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Pipeline.MaxVerificationLoops = 2
	cfg.Pipeline.MaxReviewLoops = 2
	cfg.Pipeline.MaxCILoops = 2
	cfg.Pipeline.MaxTDDIterations = 2
	cfg.Pipeline.MaxRebaseAttempts = 2
	return cfg
}
