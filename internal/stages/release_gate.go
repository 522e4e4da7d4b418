package stages

import (
	"context"

	"github.com/CollideNV/hadron/internal/executor"
	"github.com/CollideNV/hadron/internal/pipeline"
)

// releaseGate requires an explicit human approval intervention before a
// verified, delivered change request proceeds to release, per spec.md
// §4.4.4. The gate itself never fails: routing (routeReleaseGate) checks
// state.Release.Approved and pauses with pause_reason=waiting_approval when
// it's unset, so an operator reading the event stream can tell "waiting on
// a release approval" apart from a node bug. An approval_granted resume
// override sets Approved and resumes straight at release, so a resumed run
// never re-enters this stage.
func (d *Deps) releaseGate(ctx context.Context, state *pipeline.PipelineState, emit executor.EventEmitter) error {
	return nil
}
