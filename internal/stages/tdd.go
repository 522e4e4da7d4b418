package stages

import (
	"context"
	"fmt"

	"github.com/CollideNV/hadron/internal/agent"
	"github.com/CollideNV/hadron/internal/executor"
	"github.com/CollideNV/hadron/internal/pipeline"
	"github.com/CollideNV/hadron/internal/tools"
)

type tddFilesOutput struct {
	Files []string `json:"files"`
}

// tdd runs the RED/GREEN loop per repository: a test-writer agent adds
// failing tests, a code-writer agent makes them pass, and this stage runs
// the repo's real test command itself rather than trusting either agent's
// self-report, per spec.md §4.5's "TDD" loop. Sub-stage events are labeled
// tdd:test_writer / tdd:code_writer.
func (d *Deps) tdd(ctx context.Context, state *pipeline.PipelineState, emit executor.EventEmitter) error {
	names := make([]string, len(state.Repos))
	for i, r := range state.Repos {
		names[i] = r.RepoName
	}

	results := executor.FanOut(ctx, names, func(ctx context.Context, repoName string, index int) (any, error) {
		repo := state.Repos[index]
		dev := state.Development.PerRepo[repoName]

		fs, err := tools.NewFS(repo.WorktreePath)
		if err != nil {
			return nil, fmt.Errorf("repo %s: %w", repoName, err)
		}

		generated := map[string]bool{}
		for _, f := range dev.GeneratedFiles {
			generated[f] = true
		}

		var last pipeline.TestRunResult
		for dev.TDDIterations < state.Config.MaxTDDIterations {
			dev.TDDIterations++

			loop := agent.LoopContext{InterventionInstructions: state.Intervention}
			if last.Output != "" {
				loop.CILogs = last.Output
			}

			testTask, err := agent.BuildTask("tdd_test_writer", repoAgentContext(repo), "Change request",
				state.ChangeRequest.Description, loop, d.Model, repo.WorktreePath, fsToolDefinitions())
			if err != nil {
				return nil, err
			}
			testResult, err := d.runAgentStreamed(ctx, state, pipeline.StageTDD+":test_writer:"+repoName, testTask, emit)
			if err != nil {
				return nil, fmt.Errorf("repo %s: %w", repoName, err)
			}
			var testOut tddFilesOutput
			if err := decodeJSON(testResult.Output, &testOut); err == nil {
				for _, f := range testOut.Files {
					generated[f] = true
				}
			}

			codeTask, err := agent.BuildTask("tdd_code_writer", repoAgentContext(repo), "Change request",
				state.ChangeRequest.Description, loop, d.Model, repo.WorktreePath, fsToolDefinitions())
			if err != nil {
				return nil, err
			}
			codeResult, err := d.runAgentStreamed(ctx, state, pipeline.StageTDD+":code_writer:"+repoName, codeTask, emit)
			if err != nil {
				return nil, fmt.Errorf("repo %s: %w", repoName, err)
			}
			var codeOut tddFilesOutput
			if err := decodeJSON(codeResult.Output, &codeOut); err == nil {
				for _, f := range codeOut.Files {
					generated[f] = true
				}
			}

			run := fs.RunCommand(ctx, repo.TestCommand, state.Config.AgentCallTimeout)
			last = pipeline.TestRunResult{Passed: !run.IsError, Output: run.Content}
			_ = emit.Emit(ctx, pipeline.EventTestRun, pipeline.StageTDD+":"+repoName, last)

			if last.Passed {
				break
			}
		}

		files := make([]string, 0, len(generated))
		for f := range generated {
			files = append(files, f)
		}

		return pipeline.DevelopmentRepoState{
			GeneratedFiles: files,
			TestResults:    last,
			TDDIterations:  dev.TDDIterations,
		}, nil
	})
	if err := executor.Aggregate(results, executor.PolicyAll); err != nil {
		return err
	}

	if state.Development.PerRepo == nil {
		state.Development.PerRepo = make(map[string]pipeline.DevelopmentRepoState, len(results))
	}
	allPassed := true
	for i, r := range results {
		ds := r.Value.(pipeline.DevelopmentRepoState)
		state.Development.PerRepo[state.Repos[i].RepoName] = ds
		if !ds.TestResults.Passed {
			allPassed = false
		}
	}
	if !allPassed {
		state.Development.CILoops++
	}
	return nil
}
