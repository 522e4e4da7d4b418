package store

import "errors"

// Sentinel errors, grounded on the teacher's pkg/services/errors.go.
var (
	// ErrNotFound is returned when a CRRun or Checkpoint does not exist.
	ErrNotFound = errors.New("entity not found")

	// ErrDuplicateRun is returned by CreateRun per spec.md §4.1: "Fails with
	// DuplicateError when a row with the same (source, external_id) exists
	// in status ∉ {completed, failed}".
	ErrDuplicateRun = errors.New("duplicate (source, external_id) run already in flight")

	// ErrCheckpointRace is returned by WriteCheckpoint when the caller lost
	// a race on the same (cr_id, sequence) pair and must re-read the latest
	// checkpoint before retrying, per spec.md §4.1 write_checkpoint.
	ErrCheckpointRace = errors.New("checkpoint sequence already written")
)
