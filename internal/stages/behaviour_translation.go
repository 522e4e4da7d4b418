package stages

import (
	"context"
	"fmt"
	"strings"

	"github.com/CollideNV/hadron/internal/agent"
	"github.com/CollideNV/hadron/internal/executor"
	"github.com/CollideNV/hadron/internal/pipeline"
)

type specWriterOutput struct {
	SpecFiles []string `json:"spec_files"`
}

// behaviourTranslation asks one agent per repository to translate the
// change request into a behaviour specification committed to the worktree
// (spec.md §4.5's "Behaviour Translation"). The agent has direct access to
// WorkingDirectory — a path on the filesystem this process and the
// agent-runner share — so file writes happen agent-side; this stage only
// records which files it reported writing.
func (d *Deps) behaviourTranslation(ctx context.Context, state *pipeline.PipelineState, emit executor.EventEmitter) error {
	names := make([]string, len(state.Repos))
	for i, r := range state.Repos {
		names[i] = r.RepoName
	}

	results := executor.FanOut(ctx, names, func(ctx context.Context, repoName string, index int) (any, error) {
		repo := state.Repos[index]
		prior := state.Behaviour.PerRepo[repo.RepoName]

		loop := agent.LoopContext{InterventionInstructions: state.Intervention}
		if prior.Feedback != "" {
			loop.PreviousFeedback = prior.Feedback
		}

		payload := fmt.Sprintf("## Change request\n%s\n\n## Acceptance criteria\n- %s",
			state.ChangeRequest.Description, strings.Join(state.ChangeRequest.AcceptanceCriteria, "\n- "))

		task, err := agent.BuildTask("spec_writer", repoAgentContext(repo), "Task", payload, loop,
			d.Model, repo.WorktreePath, fsToolDefinitions())
		if err != nil {
			return nil, err
		}

		stageLabel := pipeline.StageBehaviourTranslation + ":" + repoName
		result, err := d.runAgentStreamed(ctx, state, stageLabel, task, emit)
		if err != nil {
			return nil, fmt.Errorf("repo %s: %w", repoName, err)
		}

		var out specWriterOutput
		if err := decodeJSON(result.Output, &out); err != nil {
			return nil, fmt.Errorf("repo %s: %w", repoName, err)
		}

		return pipeline.BehaviourRepoState{
			SpecFiles: out.SpecFiles,
			Verified:  false,
		}, nil
	})
	if err := executor.Aggregate(results, executor.PolicyAll); err != nil {
		return err
	}

	if state.Behaviour.PerRepo == nil {
		state.Behaviour.PerRepo = make(map[string]pipeline.BehaviourRepoState, len(results))
	}
	for i, r := range results {
		state.Behaviour.PerRepo[state.Repos[i].RepoName] = r.Value.(pipeline.BehaviourRepoState)
	}
	return nil
}
