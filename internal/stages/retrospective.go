package stages

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/CollideNV/hadron/internal/agent"
	"github.com/CollideNV/hadron/internal/executor"
	"github.com/CollideNV/hadron/internal/pipeline"
)

// retrospective asks one agent to summarize learnings from the completed
// run and writes them to each repo's .hadron/retrospective.md, which
// worktreeSetup folds into a future CR's RepoContext.Conventions, per
// spec.md §4.5's "Retrospective" and §6's "learnings from previous change
// requests" prompt layer.
func (d *Deps) retrospective(ctx context.Context, state *pipeline.PipelineState, emit executor.EventEmitter) error {
	var findings strings.Builder
	for name, rs := range state.Review.PerRepo {
		for _, f := range rs.Findings {
			fmt.Fprintf(&findings, "- [%s/%s] %s: %s\n", name, f.Severity, f.Category, f.Message)
		}
	}

	payload := fmt.Sprintf("## Change request\n%s\n\n## Review findings\n%s\n## TDD iterations\n%s",
		state.ChangeRequest.Description, findings.String(), tddIterationSummary(state))

	task, err := agent.BuildTask("retrospective", agent.RepoContext{}, "Run summary", payload,
		agent.LoopContext{InterventionInstructions: state.Intervention}, d.Model, "", nil)
	if err != nil {
		return err
	}

	result, err := d.runAgentStreamed(ctx, state, pipeline.StageRetrospective, task, emit)
	if err != nil {
		return err
	}

	for _, repo := range state.Repos {
		dir := filepath.Join(repo.WorktreePath, ".hadron")
		if err := os.MkdirAll(dir, 0o755); err != nil {
			continue
		}
		_ = os.WriteFile(filepath.Join(dir, "retrospective.md"), []byte(result.Output), 0o644)
	}
	return nil
}

func tddIterationSummary(state *pipeline.PipelineState) string {
	var sb strings.Builder
	for name, ds := range state.Development.PerRepo {
		fmt.Fprintf(&sb, "- %s: %d iterations, passed=%t\n", name, ds.TDDIterations, ds.TestResults.Passed)
	}
	return sb.String()
}
