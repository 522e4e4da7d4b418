package stages

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/CollideNV/hadron/internal/agent"
	"github.com/CollideNV/hadron/internal/executor"
	"github.com/CollideNV/hadron/internal/pipeline"
)

var reviewerRoles = []string{"reviewer_security", "reviewer_quality", "reviewer_spec_compliance"}

type reviewerOutput struct {
	Findings []pipeline.Finding `json:"findings"`
}

// review runs a deterministic diff-scope pre-pass (no LLM call, pure
// path-matching) and then three independent reviewer agents per
// repository, merging their findings, per spec.md §4.5's "Review". Routing
// (routeReview) decides pass/fail from Findings' severities afterward; this
// stage only collects them and bumps the loop counter once per execution.
func (d *Deps) review(ctx context.Context, state *pipeline.PipelineState, emit executor.EventEmitter) error {
	names := make([]string, len(state.Repos))
	for i, r := range state.Repos {
		names[i] = r.RepoName
	}

	results := executor.FanOut(ctx, names, func(ctx context.Context, repoName string, index int) (any, error) {
		repo := state.Repos[index]

		changed, err := d.Git.ChangedFiles(ctx, repo.WorktreePath, repo.DefaultBranch)
		if err != nil {
			return nil, fmt.Errorf("repo %s: %w", repoName, err)
		}
		var flags []pipeline.ScopeFlag
		for _, path := range changed {
			if kind := classifyScope(path); kind != "" {
				flags = append(flags, pipeline.ScopeFlag{Kind: kind, Path: path})
			}
		}

		diff, err := d.Git.UnifiedDiff(ctx, repo.WorktreePath, repo.DefaultBranch)
		if err != nil {
			return nil, fmt.Errorf("repo %s: %w", repoName, err)
		}

		reviewerResults := executor.FanOut(ctx, reviewerRoles, func(ctx context.Context, role string, idx int) (any, error) {
			task, err := agent.BuildTask(role, repoAgentContext(repo), "Diff under review", diff,
				agent.LoopContext{InterventionInstructions: state.Intervention}, d.Model, repo.WorktreePath, fsToolDefinitions())
			if err != nil {
				return nil, err
			}
			result, err := d.runAgentStreamed(ctx, state, pipeline.StageReview+":"+role+":"+repoName, task, emit)
			if err != nil {
				return nil, err
			}
			var out reviewerOutput
			if err := decodeJSON(result.Output, &out); err != nil {
				return nil, err
			}
			return out.Findings, nil
		})
		if err := executor.Aggregate(reviewerResults, executor.PolicyAll); err != nil {
			return nil, fmt.Errorf("repo %s: %w", repoName, err)
		}

		var findings []pipeline.Finding
		for _, rr := range reviewerResults {
			findings = append(findings, rr.Value.([]pipeline.Finding)...)
		}
		for _, f := range findings {
			_ = emit.Emit(ctx, pipeline.EventReviewFinding, pipeline.StageReview+":"+repoName, f)
		}

		return pipeline.ReviewRepoState{Findings: findings, ScopeFlags: flags}, nil
	})
	if err := executor.Aggregate(results, executor.PolicyAll); err != nil {
		return err
	}

	if state.Review.PerRepo == nil {
		state.Review.PerRepo = make(map[string]pipeline.ReviewRepoState, len(results))
	}
	for i, r := range results {
		state.Review.PerRepo[state.Repos[i].RepoName] = r.Value.(pipeline.ReviewRepoState)
	}
	state.Review.ReviewLoops++
	return nil
}

// classifyScope flags paths a reviewer should pay closer attention to,
// independent of any LLM judgment.
func classifyScope(path string) string {
	base := filepath.Base(path)
	switch {
	case strings.HasPrefix(path, ".github/workflows/"), strings.Contains(path, "Dockerfile"),
		strings.Contains(path, "docker-compose"), strings.HasSuffix(path, ".tf"):
		return "infra_descriptor"
	case base == "go.mod", base == "go.sum", base == "package.json", base == "package-lock.json",
		base == "Cargo.toml", base == "Cargo.lock", base == "requirements.txt", base == "pyproject.toml":
		return "dependency_manifest"
	case strings.HasSuffix(base, ".yaml"), strings.HasSuffix(base, ".yml"), strings.HasSuffix(base, ".env"),
		base == "config.json":
		return "config_file"
	default:
		return ""
	}
}
