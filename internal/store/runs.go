package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/CollideNV/hadron/internal/pipeline"
)

// CreateRun inserts a new CRRun in status pending, grounded on the teacher's
// pkg/services/session_service.go CreateSession transactional pattern.
// Returns ErrDuplicateRun per spec.md §4.1 when the partial unique index on
// (source, external_id) rejects the insert.
func (s *Store) CreateRun(ctx context.Context, externalID, title, source string, snapshot pipeline.ConfigSnapshot, trigger pipeline.TriggerRequest) (string, error) {
	crID := uuid.New().String()
	snapshotJSON, err := json.Marshal(snapshot)
	if err != nil {
		return "", fmt.Errorf("failed to marshal config snapshot: %w", err)
	}
	triggerJSON, err := json.Marshal(trigger)
	if err != nil {
		return "", fmt.Errorf("failed to marshal trigger payload: %w", err)
	}

	var extID any
	if externalID != "" {
		extID = externalID
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO cr_runs (cr_id, external_id, source, title, status, current_stage, config_snapshot, trigger_payload)
		VALUES ($1, $2, $3, $4, 'pending', $5, $6, $7)
	`, crID, extID, source, title, pipeline.StageIntake, snapshotJSON, triggerJSON)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" { // unique_violation
			return "", ErrDuplicateRun
		}
		return "", fmt.Errorf("failed to create run: %w", err)
	}

	return crID, nil
}

// GetRun fetches one CRRun by id.
func (s *Store) GetRun(ctx context.Context, crID string) (*pipeline.CRRun, error) {
	row := s.pool.QueryRow(ctx, runSelectSQL+" WHERE cr_id = $1", crID)
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListRuns returns the most recent runs, newest first, per spec.md §4.1.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]*pipeline.CRRun, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, runSelectSQL+" ORDER BY created_at DESC LIMIT $1", limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var out []*pipeline.CRRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

// UpdateStatus performs the compare-and-set status transition required by
// spec.md §4.1 and invariant (e). Returns false (not an error) if the
// current status does not equal fromStatus — the caller (Graph Executor)
// treats this as "already owned elsewhere" and exits silently per §7.
func (s *Store) UpdateStatus(ctx context.Context, crID string, from, to pipeline.Status, opts ...StatusUpdateOption) (bool, error) {
	u := statusUpdate{}
	for _, opt := range opts {
		opt(&u)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE cr_runs
		SET status = $1, updated_at = now(),
		    current_stage = COALESCE(NULLIF($2, ''), current_stage),
		    pause_reason = $3,
		    error = COALESCE(NULLIF($4, ''), CASE WHEN $5 THEN '' ELSE error END)
		WHERE cr_id = $6 AND status = $7
	`, string(to), u.currentStage, string(u.pauseReason), u.errMsg, u.clearError, crID, string(from))
	if err != nil {
		return false, fmt.Errorf("failed to update status: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

type statusUpdate struct {
	currentStage string
	pauseReason  pipeline.PauseReason
	errMsg       string
	clearError   bool
}

// StatusUpdateOption customizes UpdateStatus's side-effects.
type StatusUpdateOption func(*statusUpdate)

func WithCurrentStage(stage string) StatusUpdateOption {
	return func(u *statusUpdate) { u.currentStage = stage }
}

func WithPauseReason(reason pipeline.PauseReason) StatusUpdateOption {
	return func(u *statusUpdate) { u.pauseReason = reason }
}

func WithError(msg string) StatusUpdateOption {
	return func(u *statusUpdate) { u.errMsg = msg }
}

func WithClearError() StatusUpdateOption {
	return func(u *statusUpdate) { u.clearError = true }
}

// Touch bumps updated_at without a status change — the Graph Executor calls
// this on a fixed interval while a node executes, as a heartbeat the orphan
// scanner can use independently of checkpoint writes (SPEC_FULL.md Part D).
func (s *Store) Touch(ctx context.Context, crID string) error {
	_, err := s.pool.Exec(ctx, `UPDATE cr_runs SET updated_at = now() WHERE cr_id = $1`, crID)
	if err != nil {
		return fmt.Errorf("failed to touch run: %w", err)
	}
	return nil
}

// IncrementCost atomically adds to the run's accumulated cost, per spec.md
// §4.1's increment_cost and invariant (a) (non-decreasing cost_usd).
func (s *Store) IncrementCost(ctx context.Context, crID string, deltaUSD float64, deltaInTok, deltaOutTok int64) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE cr_runs
		SET cost_usd = cost_usd + $1, input_tokens = input_tokens + $2, output_tokens = output_tokens + $3, updated_at = now()
		WHERE cr_id = $4
	`, deltaUSD, deltaInTok, deltaOutTok, crID)
	if err != nil {
		return fmt.Errorf("failed to increment cost: %w", err)
	}
	return nil
}

// StaleRunningRuns returns CR ids in status running whose updated_at is
// older than threshold — feeds the orphan scanner (SPEC_FULL.md Part D).
func (s *Store) StaleRunningRuns(ctx context.Context, threshold time.Duration) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT cr_id FROM cr_runs WHERE status = 'running' AND updated_at < now() - $1::interval
	`, fmt.Sprintf("%d seconds", int64(threshold.Seconds())))
	if err != nil {
		return nil, fmt.Errorf("failed to query stale runs: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// TerminalBefore returns CR ids that have been terminal since before cutoff
// — feeds the retention cleanup sweep.
func (s *Store) TerminalBefore(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT cr_id FROM cr_runs
		WHERE status IN ('completed', 'failed', 'cancelled') AND updated_at < $1
	`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to query terminal runs: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteRunData removes checkpoints, events and interventions for a
// terminal CR past its retention window, leaving the CRRun summary row
// itself intact for historical listing.
func (s *Store) DeleteRunData(ctx context.Context, crID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM checkpoints WHERE cr_id = $1`, crID)
	if err != nil {
		return fmt.Errorf("failed to delete checkpoints: %w", err)
	}
	_, err = s.pool.Exec(ctx, `DELETE FROM events WHERE cr_id = $1`, crID)
	if err != nil {
		return fmt.Errorf("failed to delete events: %w", err)
	}
	_, err = s.pool.Exec(ctx, `DELETE FROM interventions WHERE cr_id = $1`, crID)
	if err != nil {
		return fmt.Errorf("failed to delete interventions: %w", err)
	}
	return nil
}

const runSelectSQL = `
	SELECT cr_id, COALESCE(external_id, ''), source, title, status, current_stage,
	       pause_reason, cost_usd, input_tokens, output_tokens, error,
	       created_at, updated_at, config_snapshot, trigger_payload
	FROM cr_runs`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*pipeline.CRRun, error) {
	var run pipeline.CRRun
	var status, pauseReason string
	var snapshotJSON, triggerJSON []byte

	err := row.Scan(
		&run.CRID, &run.ExternalID, &run.Source, &run.Title, &status, &run.CurrentStage,
		&pauseReason, &run.CostUSD, &run.InputTokens, &run.OutputTokens, &run.Error,
		&run.CreatedAt, &run.UpdatedAt, &snapshotJSON, &triggerJSON,
	)
	if err != nil {
		return nil, err
	}
	run.Status = pipeline.Status(status)
	run.PauseReason = pipeline.PauseReason(pauseReason)
	if err := json.Unmarshal(snapshotJSON, &run.ConfigSnapshot); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config snapshot: %w", err)
	}
	if err := json.Unmarshal(triggerJSON, &run.Trigger); err != nil {
		return nil, fmt.Errorf("failed to unmarshal trigger payload: %w", err)
	}
	return &run, nil
}
