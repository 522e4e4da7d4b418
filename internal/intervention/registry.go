// Package intervention implements the small per-CR key-value store for
// pending human commands (spec.md §4.3). It has no direct teacher
// equivalent — it is grounded on the teacher's claim-then-consume
// transactional idiom from pkg/queue/worker.go's claimNextSession, adapted
// from "SELECT ... FOR UPDATE SKIP LOCKED then UPDATE" claiming a queue row
// to "SELECT ... FOR UPDATE then DELETE" atomically consuming a command.
package intervention

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/CollideNV/hadron/internal/eventbus"
	"github.com/CollideNV/hadron/internal/pipeline"
)

var ErrNotFound = errors.New("no pending intervention")

// Registry is the atomic out-of-band delivery channel for human commands to
// a running Graph Executor, per spec.md §4.3.
type Registry struct {
	pool *pgxpool.Pool
	bus  *eventbus.Bus
}

func NewRegistry(pool *pgxpool.Pool, bus *eventbus.Bus) *Registry {
	return &Registry{pool: pool, bus: bus}
}

// Set overwrites any existing intervention of the same (cr_id, kind, key)
// and emits intervention_set, per spec.md §4.3. key distinguishes nudges by
// agent role; instructions and resume_overrides use the empty key.
func (r *Registry) Set(ctx context.Context, crID string, kind pipeline.InterventionKind, key string, payload json.RawMessage, ttl *time.Duration) error {
	if !pipeline.ValidKind(kind) {
		return fmt.Errorf("invalid intervention kind %q", kind)
	}

	var expiresAt *time.Time
	if ttl != nil {
		t := time.Now().Add(*ttl)
		expiresAt = &t
	} else if kind == pipeline.InterventionResumeOverrides {
		t := time.Now().Add(pipeline.ResumeOverrideTTL)
		expiresAt = &t
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO interventions (cr_id, kind, key, payload, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (cr_id, kind, key) DO UPDATE
		SET payload = EXCLUDED.payload, expires_at = EXCLUDED.expires_at, created_at = now()
	`, crID, string(kind), key, payload, expiresAt)
	if err != nil {
		return fmt.Errorf("failed to set intervention: %w", err)
	}

	if r.bus != nil {
		data, _ := json.Marshal(map[string]any{"kind": kind, "key": key})
		_, _ = r.bus.Append(ctx, crID, pipeline.Event{
			Timestamp: time.Now(),
			Type:      pipeline.EventInterventionSet,
			Data:      data,
		})
	}
	return nil
}

// GetAndDelete atomically consumes the pending intervention of the given
// kind/key, used by the executor between node invocations and, for nudge
// keys, between agent tool-use rounds. Consumption is at-most-once: the row
// is locked then deleted within one transaction.
func (r *Registry) GetAndDelete(ctx context.Context, crID string, kind pipeline.InterventionKind, key string) (json.RawMessage, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin intervention transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var payload json.RawMessage
	var expiresAt *time.Time
	err = tx.QueryRow(ctx, `
		SELECT payload, expires_at FROM interventions
		WHERE cr_id = $1 AND kind = $2 AND key = $3
		FOR UPDATE
	`, crID, string(kind), key).Scan(&payload, &expiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read intervention: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM interventions WHERE cr_id = $1 AND kind = $2 AND key = $3`, crID, string(kind), key); err != nil {
		return nil, fmt.Errorf("failed to delete intervention: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit intervention consumption: %w", err)
	}

	if expiresAt != nil && time.Now().After(*expiresAt) {
		return nil, ErrNotFound
	}
	return payload, nil
}

// Peek non-destructively returns the pending intervention, used by
// resume-routing to decide the resume node without consuming the override.
func (r *Registry) Peek(ctx context.Context, crID string, kind pipeline.InterventionKind, key string) (json.RawMessage, error) {
	var payload json.RawMessage
	var expiresAt *time.Time
	err := r.pool.QueryRow(ctx, `
		SELECT payload, expires_at FROM interventions WHERE cr_id = $1 AND kind = $2 AND key = $3
	`, crID, string(kind), key).Scan(&payload, &expiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to peek intervention: %w", err)
	}
	if expiresAt != nil && time.Now().After(*expiresAt) {
		return nil, ErrNotFound
	}
	return payload, nil
}

// PeekAllResumeOverrides returns every live resume_overrides key for a CR —
// the executor's resume-routing reads all of them to pick the latest
// pipeline-order override (spec.md §4.4.2).
func (r *Registry) PeekAllResumeOverrides(ctx context.Context, crID string) ([]json.RawMessage, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT payload FROM interventions
		WHERE cr_id = $1 AND kind = $2 AND (expires_at IS NULL OR expires_at > now())
	`, crID, string(pipeline.InterventionResumeOverrides))
	if err != nil {
		return nil, fmt.Errorf("failed to list resume overrides: %w", err)
	}
	defer rows.Close()

	var out []json.RawMessage
	for rows.Next() {
		var p json.RawMessage
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// DeleteExpired removes resume_overrides past their TTL, a housekeeping
// sweep the retention cleanup service also triggers between full CR sweeps.
func (r *Registry) DeleteExpired(ctx context.Context) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM interventions WHERE expires_at IS NOT NULL AND expires_at < now()`)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired interventions: %w", err)
	}
	return tag.RowsAffected(), nil
}
