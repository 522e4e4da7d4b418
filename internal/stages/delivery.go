package stages

import (
	"context"
	"fmt"

	"github.com/CollideNV/hadron/internal/executor"
	"github.com/CollideNV/hadron/internal/pipeline"
)

// delivery pushes each repo's feature branch to its origin, strategy by
// strategy, per spec.md §4.5's "Delivery" and §4.4.4's checkpoint-and-
// terminate. Opening and merging pull requests is a git-hosting integration
// explicitly out of scope. self_contained and push_and_forget repos verify
// in-process (their tests already ran in tdd) and are marked verified as
// soon as the push succeeds; push_and_wait repos are pushed and left
// unverified here — routing (routeDelivery) sees the unverified repo and
// pauses the run with pause_reason=waiting_ci until an external CI webhook
// resumes it with a ci_passed override.
func (d *Deps) delivery(ctx context.Context, state *pipeline.PipelineState, emit executor.EventEmitter) error {
	names := make([]string, len(state.Repos))
	for i, r := range state.Repos {
		names[i] = r.RepoName
	}

	results := executor.FanOut(ctx, names, func(ctx context.Context, repoName string, index int) (any, error) {
		repo := state.Repos[index]
		if err := d.Git.Push(ctx, repo.WorktreePath, featureBranch(state.CRID)); err != nil {
			return nil, fmt.Errorf("repo %s: failed to push: %w", repoName, err)
		}
		return pipeline.DeliveryRepoState{Pushed: true, VerificationPassed: repo.Strategy != "push_and_wait"}, nil
	})
	if err := executor.Aggregate(results, executor.PolicyAll); err != nil {
		return err
	}

	if state.Delivery.PerRepo == nil {
		state.Delivery.PerRepo = make(map[string]pipeline.DeliveryRepoState, len(results))
	}
	allVerified := true
	for i, r := range results {
		ds := r.Value.(pipeline.DeliveryRepoState)
		state.Delivery.PerRepo[state.Repos[i].RepoName] = ds
		if !ds.VerificationPassed {
			allVerified = false
		}
	}
	state.Delivery.AllVerified = allVerified
	return nil
}
