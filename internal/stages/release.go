package stages

import (
	"context"
	"fmt"
	"strings"

	"github.com/CollideNV/hadron/internal/agent"
	"github.com/CollideNV/hadron/internal/executor"
	"github.com/CollideNV/hadron/internal/pipeline"
)

// release asks one agent to write release notes summarizing the approved
// change request across every repository, per spec.md §4.5's "Release".
func (d *Deps) release(ctx context.Context, state *pipeline.PipelineState, emit executor.EventEmitter) error {
	var repos strings.Builder
	for _, r := range state.Repos {
		delivery := state.Delivery.PerRepo[r.RepoName]
		fmt.Fprintf(&repos, "- %s (branch %s, pushed=%t)\n", r.RepoName, featureBranch(state.CRID), delivery.Pushed)
	}

	payload := fmt.Sprintf("## Change request\n%s\n\n## Repositories\n%s\n## Cost\ntotal_usd=%.4f",
		state.ChangeRequest.Description, repos.String(), state.Cost.TotalUSD)

	task, err := agent.BuildTask("release_notes_writer", agent.RepoContext{}, "Run summary", payload,
		agent.LoopContext{InterventionInstructions: state.Intervention}, d.Model, "", nil)
	if err != nil {
		return err
	}

	result, err := d.runAgentStreamed(ctx, state, pipeline.StageRelease, task, emit)
	if err != nil {
		return err
	}

	state.Release.Results = result.Output
	return nil
}
