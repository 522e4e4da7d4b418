// Hadron orchestrator server - runs the pipeline graph executor and exposes
// the Controller API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/CollideNV/hadron/internal/agent"
	"github.com/CollideNV/hadron/internal/api"
	"github.com/CollideNV/hadron/internal/applog"
	"github.com/CollideNV/hadron/internal/cleanup"
	"github.com/CollideNV/hadron/internal/config"
	"github.com/CollideNV/hadron/internal/eventbus"
	"github.com/CollideNV/hadron/internal/executor"
	"github.com/CollideNV/hadron/internal/git"
	"github.com/CollideNV/hadron/internal/intervention"
	"github.com/CollideNV/hadron/internal/masking"
	"github.com/CollideNV/hadron/internal/stages"
	"github.com/CollideNV/hadron/internal/store"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		log.Printf("Warning: Could not load %s file: %v", envPath, err)
		log.Printf("Continuing with existing environment variables...")
	} else {
		log.Printf("Loaded environment from %s", envPath)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		log.Fatalf("Failed to initialize configuration: %v", err)
	}

	logsHub := applog.NewHub(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(slog.New(logsHub))

	st, err := store.Open(ctx, store.Config{
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		Database:        cfg.Database.Database,
		SSLMode:         cfg.Database.SSLMode,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
	})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer st.Close()
	slog.Info("connected to postgres and ran migrations")

	connString := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.Database.User, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.Database, cfg.Database.SSLMode)

	bus := eventbus.NewBus(st.Pool(), connString)
	if err := bus.Start(ctx); err != nil {
		log.Fatalf("Failed to start event bus listener: %v", err)
	}
	defer bus.Stop(ctx)

	registry := intervention.NewRegistry(st.Pool(), bus)
	maskingSvc := masking.New(cfg.Masking)
	gitManager := git.NewManager()

	backend, err := agent.NewGRPCBackend(cfg.Agent.Target)
	if err != nil {
		log.Fatalf("Failed to dial agent backend: %v", err)
	}
	defer backend.Close()

	graph := stages.Build(&stages.Deps{
		Backend:  backend,
		Git:      gitManager,
		Masking:  maskingSvc,
		Store:    st,
		BareRoot: cfg.Storage.BareRoot,
		WorkRoot: cfg.Storage.WorkRoot,
		Model:    cfg.Agent.Model,
	})
	exec := executor.NewExecutor(st, bus, registry, graph)

	orphanScanner := executor.NewOrphanScanner(st, cfg.Pipeline.OrphanScanInterval, cfg.Pipeline.OrphanThreshold)
	go orphanScanner.Run(ctx)

	cleanupSvc := cleanup.New(cfg.Retention, st)
	cleanupSvc.Start(ctx)
	defer cleanupSvc.Stop()

	server := api.NewServer(cfg, st, bus, registry, exec, logsHub)
	if err := server.ValidateWiring(); err != nil {
		log.Fatalf("Controller API wiring incomplete: %v", err)
	}

	slog.Info("starting hadron", "listen_addr", cfg.HTTP.ListenAddr)

	serveErr := make(chan error, 1)
	go func() {
		if err := server.Start(cfg.HTTP.ListenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("error during HTTP server shutdown", "error", err)
	}
}
