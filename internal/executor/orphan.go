package executor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/CollideNV/hadron/internal/pipeline"
	"github.com/CollideNV/hadron/internal/store"
)

// OrphanScanner periodically transitions CRs stuck in running with a stale
// heartbeat to paused/worker_lost, so a crashed worker never leaves a CR
// permanently unresumable. Grounded on the teacher's pkg/queue/orphan.go
// runOrphanDetection/detectAndRecoverOrphans, adapted from ent queries to
// direct store calls and from a terminal "timed_out" verdict to the
// resumable paused/worker_lost status spec.md's Graph Executor requires.
type OrphanScanner struct {
	store     *store.Store
	interval  time.Duration
	threshold time.Duration
}

func NewOrphanScanner(s *store.Store, interval, threshold time.Duration) *OrphanScanner {
	return &OrphanScanner{store: s, interval: interval, threshold: threshold}
}

// Run blocks, scanning on a fixed interval until ctx is cancelled. All
// worker processes run this independently; UpdateStatus's CAS makes
// recovery idempotent under concurrent scanners.
func (o *OrphanScanner) Run(ctx context.Context) {
	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := o.scanOnce(ctx); err != nil {
				slog.Error("orphan scan failed", "error", err)
			}
		}
	}
}

func (o *OrphanScanner) scanOnce(ctx context.Context) error {
	stale, err := o.store.StaleRunningRuns(ctx, o.threshold)
	if err != nil {
		return fmt.Errorf("failed to query stale runs: %w", err)
	}
	if len(stale) == 0 {
		return nil
	}

	slog.Warn("detected orphaned runs", "count", len(stale))
	for _, crID := range stale {
		ok, err := o.store.UpdateStatus(ctx, crID, pipeline.StatusRunning, pipeline.StatusPaused,
			store.WithPauseReason(pipeline.PauseReasonWorkerLost))
		if err != nil {
			slog.Error("failed to recover orphaned run", "cr_id", crID, "error", err)
			continue
		}
		if ok {
			slog.Warn("orphaned run recovered to paused", "cr_id", crID, "pause_reason", pipeline.PauseReasonWorkerLost)
		}
	}
	return nil
}
