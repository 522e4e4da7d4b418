package stages

import (
	"context"
	"fmt"
	"strings"

	"github.com/CollideNV/hadron/internal/agent"
	"github.com/CollideNV/hadron/internal/executor"
	"github.com/CollideNV/hadron/internal/pipeline"
)

type verifierOutput struct {
	Verified         bool     `json:"verified"`
	Feedback         string   `json:"feedback"`
	MissingScenarios []string `json:"missing_scenarios"`
	Issues           []string `json:"issues"`
}

// behaviourVerification asks one agent per repository to check the
// translated specification against the change request's acceptance
// criteria, per spec.md §4.5's "Behaviour Verification". The loop counter
// is incremented once per stage execution: routing's circuit breaker caps
// the number of translate/verify round-trips, not the number of repos
// checked within one round-trip.
func (d *Deps) behaviourVerification(ctx context.Context, state *pipeline.PipelineState, emit executor.EventEmitter) error {
	names := make([]string, len(state.Repos))
	for i, r := range state.Repos {
		names[i] = r.RepoName
	}

	results := executor.FanOut(ctx, names, func(ctx context.Context, repoName string, index int) (any, error) {
		repo := state.Repos[index]
		behaviour := state.Behaviour.PerRepo[repoName]

		payload := fmt.Sprintf("## Acceptance criteria\n- %s\n\n## Spec files reported by translation\n%s",
			strings.Join(state.ChangeRequest.AcceptanceCriteria, "\n- "), strings.Join(behaviour.SpecFiles, "\n"))

		task, err := agent.BuildTask("verifier", repoAgentContext(repo), "Task", payload,
			agent.LoopContext{InterventionInstructions: state.Intervention}, d.Model, repo.WorktreePath, fsToolDefinitions())
		if err != nil {
			return nil, err
		}

		stageLabel := pipeline.StageBehaviourVerification + ":" + repoName
		result, err := d.runAgentStreamed(ctx, state, stageLabel, task, emit)
		if err != nil {
			return nil, fmt.Errorf("repo %s: %w", repoName, err)
		}

		var out verifierOutput
		if err := decodeJSON(result.Output, &out); err != nil {
			return nil, fmt.Errorf("repo %s: %w", repoName, err)
		}

		behaviour.Verified = out.Verified
		behaviour.Feedback = out.Feedback
		behaviour.MissingScenarios = out.MissingScenarios
		behaviour.Issues = out.Issues
		return behaviour, nil
	})
	if err := executor.Aggregate(results, executor.PolicyAll); err != nil {
		return err
	}

	allVerified := true
	for i, r := range results {
		repo := state.Repos[i].RepoName
		bs := r.Value.(pipeline.BehaviourRepoState)
		state.Behaviour.PerRepo[repo] = bs
		if !bs.Verified {
			allVerified = false
		}
	}
	if !allVerified {
		state.Behaviour.VerificationLoops++
	}
	return nil
}
