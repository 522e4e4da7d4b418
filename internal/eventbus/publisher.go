package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/CollideNV/hadron/internal/pipeline"
)

// notifyByteLimit mirrors Postgres's 8000-byte NOTIFY payload ceiling, with
// the same safety margin the teacher's truncateIfNeeded uses.
const notifyByteLimit = 7900

// Publisher appends events to the durable per-CR log and broadcasts them via
// pg_notify in the same transaction, grounded on the teacher's
// pkg/events/publisher.go persistAndNotify.
type Publisher struct {
	pool *pgxpool.Pool
}

func NewPublisher(pool *pgxpool.Pool) *Publisher {
	return &Publisher{pool: pool}
}

// Append persists event and assigns it the next sequence_id for cr_id,
// atomically broadcasting it on the CR's channel. Returns the assigned
// sequence_id per spec.md §4.2 append.
func (p *Publisher) Append(ctx context.Context, crID string, evt pipeline.Event) (int64, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin event transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	dataJSON, err := json.Marshal(evt.Data)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal event data: %w", err)
	}

	var seq int64
	err = tx.QueryRow(ctx, `
		INSERT INTO events (cr_id, sequence_id, stage, event_type, data, created_at)
		VALUES ($1, COALESCE((SELECT MAX(sequence_id) FROM events WHERE cr_id = $1), 0) + 1, $2, $3, $4, $5)
		RETURNING sequence_id
	`, crID, evt.Stage, string(evt.Type), dataJSON, evt.Timestamp).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("failed to append event: %w", err)
	}

	evt.CRID = crID
	evt.SequenceID = seq
	wire, err := json.Marshal(evt)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal event for notify: %w", err)
	}

	if _, err := tx.Exec(ctx, "SELECT pg_notify($1, $2)", Channel(crID), truncate(wire)); err != nil {
		return 0, fmt.Errorf("pg_notify failed: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit event transaction: %w", err)
	}
	return seq, nil
}

// truncate collapses an oversized NOTIFY payload down to routing fields
// only; the full event is always durable in the events table and fetched
// via read_since on the next catchup pass.
func truncate(payload []byte) string {
	if len(payload) <= notifyByteLimit {
		return string(payload)
	}
	var routing struct {
		CRID       string `json:"cr_id"`
		SequenceID int64  `json:"sequence_id"`
		Type       string `json:"event_type"`
	}
	if err := json.Unmarshal(payload, &routing); err != nil {
		return `{"truncated":true}`
	}
	out, _ := json.Marshal(map[string]any{
		"cr_id":       routing.CRID,
		"sequence_id": routing.SequenceID,
		"event_type":  routing.Type,
		"truncated":   true,
	})
	return string(out)
}

// ReadSince returns all events for cr_id with sequence_id > afterSequenceID,
// in order, per spec.md §4.2 read_since.
func (p *Publisher) ReadSince(ctx context.Context, crID string, afterSequenceID int64) ([]pipeline.Event, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT cr_id, sequence_id, stage, event_type, data, created_at
		FROM events
		WHERE cr_id = $1 AND sequence_id > $2
		ORDER BY sequence_id ASC
	`, crID, afterSequenceID)
	if err != nil {
		return nil, fmt.Errorf("failed to read events: %w", err)
	}
	defer rows.Close()

	var out []pipeline.Event
	for rows.Next() {
		evt, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		out = append(out, evt)
	}
	return out, rows.Err()
}

// DeleteBefore removes events for terminal CRs past retention — used by the
// cleanup sweep, not by the stream protocol itself.
func (p *Publisher) DeleteBefore(ctx context.Context, crID string, cutoff time.Time) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM events WHERE cr_id = $1 AND created_at < $2`, crID, cutoff)
	if err != nil {
		return fmt.Errorf("failed to delete old events: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (pipeline.Event, error) {
	var evt pipeline.Event
	var eventType string
	var dataJSON []byte

	if err := row.Scan(&evt.CRID, &evt.SequenceID, &evt.Stage, &eventType, &dataJSON, &evt.Timestamp); err != nil {
		return pipeline.Event{}, err
	}
	t, err := pipeline.DecodeEventType(eventType)
	if err != nil {
		return pipeline.Event{}, err
	}
	evt.Type = t
	if err := json.Unmarshal(dataJSON, &evt.Data); err != nil {
		return pipeline.Event{}, fmt.Errorf("failed to unmarshal event data: %w", err)
	}
	return evt, nil
}
