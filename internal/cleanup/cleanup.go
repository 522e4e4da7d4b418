// Package cleanup enforces the retention window on terminal change
// requests, adapted from the teacher's pkg/cleanup service.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/CollideNV/hadron/internal/config"
	"github.com/CollideNV/hadron/internal/store"
)

// Service periodically deletes checkpoints, events and interventions for
// CRs that have been terminal (completed or failed) longer than the
// configured retention window. All operations are idempotent and safe to
// run from multiple hosts, since DeleteRunData is a plain DELETE by cr_id.
type Service struct {
	config config.RetentionConfig
	store  *store.Store

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a cleanup service.
func New(cfg config.RetentionConfig, st *store.Store) *Service {
	return &Service{config: cfg, store: st}
}

// Start launches the background cleanup loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("cleanup service started",
		"terminal_retention", s.config.TerminalRetention,
		"interval", s.config.CleanupInterval)
}

// Stop signals the cleanup loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.sweep(ctx)

	ticker := time.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Service) sweep(ctx context.Context) {
	cutoff := time.Now().Add(-s.config.TerminalRetention)

	crIDs, err := s.store.TerminalBefore(ctx, cutoff)
	if err != nil {
		slog.Error("retention: failed to list terminal runs", "error", err)
		return
	}

	deleted := 0
	for _, crID := range crIDs {
		if err := s.store.DeleteRunData(ctx, crID); err != nil {
			slog.Error("retention: failed to delete run data", "cr_id", crID, "error", err)
			continue
		}
		deleted++
	}
	if deleted > 0 {
		slog.Info("retention: deleted run data past retention window", "count", deleted)
	}
}
