package stages

import (
	"context"
	"fmt"
	"strings"

	"github.com/CollideNV/hadron/internal/agent"
	"github.com/CollideNV/hadron/internal/executor"
	"github.com/CollideNV/hadron/internal/pipeline"
	"github.com/CollideNV/hadron/internal/tools"
)

type conflictResolverOutput struct {
	Files map[string]string `json:"files"`
}

type rebaseRepoResult struct {
	State pipeline.RebaseRepoState
	Clean bool
}

// rebase rebases each repo's feature branch onto its default branch,
// resolving conflicts with a conflict-resolver agent up to
// MaxRebaseAttempts times, per spec.md §4.5's "Rebase". RebaseClean is set
// once across all repos: clean only if every repo rebased without a
// conflict left unresolved.
func (d *Deps) rebase(ctx context.Context, state *pipeline.PipelineState, emit executor.EventEmitter) error {
	names := make([]string, len(state.Repos))
	for i, r := range state.Repos {
		names[i] = r.RepoName
	}

	results := executor.FanOut(ctx, names, func(ctx context.Context, repoName string, index int) (any, error) {
		repo := state.Repos[index]
		rb := state.Rebase.PerRepo[repoName]

		fs, err := tools.NewFS(repo.WorktreePath)
		if err != nil {
			return nil, fmt.Errorf("repo %s: %w", repoName, err)
		}

		clean, err := d.Git.RebaseOnto(ctx, repo.WorktreePath, repo.DefaultBranch)
		if err != nil {
			return nil, fmt.Errorf("repo %s: rebase failed: %w", repoName, err)
		}

		for !clean && rb.Attempts < state.Config.MaxRebaseAttempts {
			rb.Attempts++

			conflicted, err := d.Git.ConflictedFiles(ctx, repo.WorktreePath)
			if err != nil {
				return nil, fmt.Errorf("repo %s: %w", repoName, err)
			}

			var sb strings.Builder
			for _, path := range conflicted {
				res := fs.ReadFile(path)
				fmt.Fprintf(&sb, "### %s\n```\n%s\n```\n\n", path, res.Content)
			}
			rb.ConflictContext = sb.String()

			task, err := agent.BuildTask("conflict_resolver", repoAgentContext(repo), "Conflicted files", rb.ConflictContext,
				agent.LoopContext{InterventionInstructions: state.Intervention}, d.Model, repo.WorktreePath, fsToolDefinitions())
			if err != nil {
				return nil, err
			}
			result, err := d.runAgentStreamed(ctx, state, pipeline.StageRebase+":"+repoName, task, emit)
			if err != nil {
				return nil, fmt.Errorf("repo %s: %w", repoName, err)
			}

			var out conflictResolverOutput
			if err := decodeJSON(result.Output, &out); err == nil {
				for path, content := range out.Files {
					if res := fs.WriteFile(path, content); res.IsError {
						return nil, fmt.Errorf("repo %s: failed to write resolved %s: %s", repoName, path, res.Content)
					}
				}
			}

			clean, err = d.Git.RebaseContinue(ctx, repo.WorktreePath)
			if err != nil {
				return nil, fmt.Errorf("repo %s: rebase --continue failed: %w", repoName, err)
			}
		}

		if !clean {
			_ = d.Git.AbortRebase(ctx, repo.WorktreePath)
		}

		return rebaseRepoResult{pipeline.RebaseRepoState{ConflictContext: rb.ConflictContext, Attempts: rb.Attempts}, clean}, nil
	})
	if err := executor.Aggregate(results, executor.PolicyAll); err != nil {
		return err
	}

	if state.Rebase.PerRepo == nil {
		state.Rebase.PerRepo = make(map[string]pipeline.RebaseRepoState, len(results))
	}
	allClean := true
	for i, r := range results {
		out := r.Value.(rebaseRepoResult)
		state.Rebase.PerRepo[state.Repos[i].RepoName] = out.State
		if !out.Clean {
			allClean = false
		}
	}
	state.Rebase.RebaseClean = &allClean
	return nil
}
