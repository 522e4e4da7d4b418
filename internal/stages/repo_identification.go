package stages

import (
	"context"
	"fmt"

	"github.com/CollideNV/hadron/internal/executor"
	"github.com/CollideNV/hadron/internal/pipeline"
)

// repoIdentification resolves each trigger-supplied repo URL to a bare
// clone and a default branch, and assigns a delivery strategy. A
// single-repo CR is self_contained; a multi-repo CR pushes each branch and
// waits for delivery to confirm all of them landed before the release
// stages run, per spec.md §3's RepoContext.strategy values.
func (d *Deps) repoIdentification(ctx context.Context, state *pipeline.PipelineState, emit executor.EventEmitter) error {
	strategy := "self_contained"
	if len(state.Repos) > 1 {
		strategy = "push_and_wait"
	}

	names := make([]string, len(state.Repos))
	for i, r := range state.Repos {
		names[i] = r.RepoURL
	}

	results := executor.FanOut(ctx, names, func(ctx context.Context, repoURL string, index int) (any, error) {
		repo := state.Repos[index]
		repo.RepoName = repoNameFromURL(repoURL)
		repo.Strategy = strategy

		if repo.DefaultBranch == "" {
			branch, err := d.Git.RemoteDefaultBranch(ctx, repoURL)
			if err != nil {
				return nil, fmt.Errorf("repo %s: %w", repo.RepoName, err)
			}
			repo.DefaultBranch = branch
		}

		if err := d.Git.EnsureBareClone(ctx, repoURL, d.bareDir(repo.RepoName)); err != nil {
			return nil, fmt.Errorf("repo %s: failed to clone: %w", repo.RepoName, err)
		}

		return repo, nil
	})
	if err := executor.Aggregate(results, executor.PolicyAll); err != nil {
		return err
	}

	for i, r := range results {
		state.Repos[i] = r.Value.(pipeline.RepoContext)
	}
	return nil
}
