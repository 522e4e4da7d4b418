// Package api implements the Controller API (spec.md §4.6): the external
// entry points for triggering, listing, resuming, intervening in and
// streaming change-request runs. Grounded on the teacher's pkg/api/server.go
// (echo.Echo-based Server, Set* wiring, ValidateWiring startup check).
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	echo "github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"

	"github.com/CollideNV/hadron/internal/applog"
	"github.com/CollideNV/hadron/internal/config"
	"github.com/CollideNV/hadron/internal/eventbus"
	"github.com/CollideNV/hadron/internal/executor"
	"github.com/CollideNV/hadron/internal/intervention"
	"github.com/CollideNV/hadron/internal/store"
)

// Server is the Controller API's HTTP surface.
type Server struct {
	echo       *echo.Echo
	httpServer *http.Server

	cfg      *config.Config
	store    *store.Store
	bus      *eventbus.Bus
	registry *intervention.Registry
	executor *executor.Executor
	logs     *applog.Hub

	// spawn launches a worker for crID. In this single-process deployment
	// that means running the Graph Executor in a goroutine; a multi-process
	// deployment would instead enqueue onto a work queue another process
	// pulls from, which is why this is a field rather than a direct call.
	spawn func(crID string)
}

// NewServer wires the Controller API, mirroring the teacher's NewServer +
// setupRoutes call shape.
func NewServer(cfg *config.Config, st *store.Store, bus *eventbus.Bus, registry *intervention.Registry, exec *executor.Executor, logs *applog.Hub) *Server {
	e := echo.New()

	s := &Server{
		echo:     e,
		cfg:      cfg,
		store:    st,
		bus:      bus,
		registry: registry,
		executor: exec,
		logs:     logs,
	}
	s.spawn = func(crID string) {
		go func() {
			if err := exec.Run(context.Background(), crID); err != nil {
				e.Logger.Error(fmt.Sprintf("run %s exited with error: %v", crID, err))
			}
		}()
	}

	s.setupRoutes()
	return s
}

// ValidateWiring checks every required collaborator was supplied, mirroring
// the teacher's startup-completeness check so a missing wire fails loudly at
// boot rather than as a 500 on first request.
func (s *Server) ValidateWiring() error {
	var errs []error
	if s.store == nil {
		errs = append(errs, fmt.Errorf("store not set"))
	}
	if s.bus == nil {
		errs = append(errs, fmt.Errorf("bus not set"))
	}
	if s.registry == nil {
		errs = append(errs, fmt.Errorf("registry not set"))
	}
	if s.executor == nil {
		errs = append(errs, fmt.Errorf("executor not set"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("server wiring incomplete: %w", errors.Join(errs...))
	}
	return nil
}

func (s *Server) setupRoutes() {
	s.echo.Use(middleware.BodyLimit(2 * 1024 * 1024))
	s.echo.Use(securityHeaders())

	s.echo.GET("/healthz", s.healthzHandler)
	s.echo.GET("/readyz", s.readyzHandler)

	v1 := s.echo.Group("/api")
	v1.POST("/pipeline/trigger", s.triggerHandler)
	v1.GET("/pipeline", s.listRunsHandler)
	v1.GET("/pipeline/:cr_id", s.getRunHandler)
	v1.POST("/pipeline/:cr_id/resume", s.resumeHandler)
	v1.POST("/pipeline/:cr_id/intervene", s.intervenHandler)
	v1.POST("/pipeline/:cr_id/nudge", s.nudgeHandler)
	v1.GET("/pipeline/:cr_id/conversation/:key", s.conversationHandler)
	v1.GET("/pipeline/:cr_id/logs", s.logsHandler)
	v1.GET("/events/stream", s.streamHandler)
	v1.GET("/debug/ws", s.debugWSHandler)
}

// Start starts the HTTP server on addr (non-blocking caller responsibility —
// it blocks like net/http.Server.ListenAndServe; callers run it in a
// goroutine).
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.echo}
	return s.httpServer.ListenAndServe()
}

// StartWithListener starts the HTTP server on a pre-created listener. Used by
// test infrastructure to serve on a random OS-assigned port.
func (s *Server) StartWithListener(ln net.Listener) error {
	s.httpServer = &http.Server{Handler: s.echo}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
