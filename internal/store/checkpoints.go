package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/CollideNV/hadron/internal/pipeline"
)

// WriteCheckpoint appends an immutable checkpoint row, grounded on spec.md
// §4.1's write_checkpoint: "sequence is caller-assigned and monotonically
// increasing per cr_id; a write with a sequence that already exists is
// rejected (the caller lost a race and must re-read latest_checkpoint)".
func (s *Store) WriteCheckpoint(ctx context.Context, crID string, sequence int64, nodeName string, state pipeline.PipelineState) error {
	blob, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal pipeline state: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO checkpoints (cr_id, sequence, node_name, state_blob)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (cr_id, sequence) DO NOTHING
	`, crID, sequence, nodeName, blob)
	if err != nil {
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrCheckpointRace
	}
	return nil
}

// LatestCheckpoint returns the highest-sequence checkpoint for a run, used
// by the Graph Executor to resume-from-any-node per spec.md §4.4.
func (s *Store) LatestCheckpoint(ctx context.Context, crID string) (*pipeline.Checkpoint, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT cr_id, sequence, node_name, state_blob, written_at
		FROM checkpoints
		WHERE cr_id = $1
		ORDER BY sequence DESC
		LIMIT 1
	`, crID)

	cp, err := scanCheckpoint(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get latest checkpoint: %w", err)
	}
	return cp, nil
}

// CheckpointHistory returns every checkpoint for a run in sequence order,
// used by the Controller API's debugging/inspection endpoints.
func (s *Store) CheckpointHistory(ctx context.Context, crID string) ([]*pipeline.Checkpoint, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT cr_id, sequence, node_name, state_blob, written_at
		FROM checkpoints
		WHERE cr_id = $1
		ORDER BY sequence ASC
	`, crID)
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	defer rows.Close()

	var out []*pipeline.Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan checkpoint: %w", err)
		}
		out = append(out, cp)
	}
	return out, rows.Err()
}

func scanCheckpoint(row rowScanner) (*pipeline.Checkpoint, error) {
	var cp pipeline.Checkpoint
	var blob []byte

	if err := row.Scan(&cp.CRID, &cp.Sequence, &cp.NodeName, &blob, &cp.WrittenAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(blob, &cp.State); err != nil {
		return nil, fmt.Errorf("failed to unmarshal pipeline state: %w", err)
	}
	return &cp, nil
}
