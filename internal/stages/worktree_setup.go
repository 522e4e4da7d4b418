package stages

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/CollideNV/hadron/internal/executor"
	"github.com/CollideNV/hadron/internal/git"
	"github.com/CollideNV/hadron/internal/pipeline"
)

const directoryTreeDepth = 3

// languageProbes maps a marker file at the repo root to the language and
// default test command a worktree should assume when the trigger payload
// didn't name one.
var languageProbes = []struct {
	marker      string
	language    string
	testCommand string
}{
	{"go.mod", "Go", "go test ./..."},
	{"package.json", "JavaScript", "npm test"},
	{"pyproject.toml", "Python", "pytest"},
	{"requirements.txt", "Python", "pytest"},
	{"Cargo.toml", "Rust", "cargo test"},
	{"pom.xml", "Java", "mvn test"},
}

// worktreeSetup creates one worktree per repository on a fresh feature
// branch, then captures the directory tree and repository conventions
// (AGENTS.md/CLAUDE.md) used by every later stage's prompt composition.
func (d *Deps) worktreeSetup(ctx context.Context, state *pipeline.PipelineState, emit executor.EventEmitter) error {
	names := make([]string, len(state.Repos))
	for i, r := range state.Repos {
		names[i] = r.RepoName
	}

	results := executor.FanOut(ctx, names, func(ctx context.Context, repoName string, index int) (any, error) {
		repo := state.Repos[index]
		worktree := d.worktreeDir(state.CRID, repoName)
		if err := d.Git.CreateWorktree(ctx, d.bareDir(repoName), worktree, featureBranch(state.CRID), repo.DefaultBranch); err != nil {
			return nil, fmt.Errorf("repo %s: failed to create worktree: %w", repoName, err)
		}
		repo.WorktreePath = worktree

		tree, err := git.DirectoryTree(worktree, directoryTreeDepth)
		if err != nil {
			return nil, fmt.Errorf("repo %s: failed to read directory tree: %w", repoName, err)
		}
		repo.DirectoryTree = tree

		if repo.Language == "" || repo.TestCommand == "" {
			for _, probe := range languageProbes {
				if _, err := os.Stat(filepath.Join(worktree, probe.marker)); err == nil {
					if repo.Language == "" {
						repo.Language = probe.language
					}
					if repo.TestCommand == "" {
						repo.TestCommand = probe.testCommand
					}
					break
				}
			}
		}

		repo.Conventions = readConventions(worktree)

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

// readConventions concatenates AGENTS.md and CLAUDE.md when present, and
// appends any retrospective notes a previous change request left behind
// under .hadron/retrospective.md (written by the retrospective stage).
func readConventions(worktree string) string {
	var out string
	for _, name := range []string{"AGENTS.md", "CLAUDE.md", filepath.Join(".hadron", "retrospective.md")} {
		data, err := os.ReadFile(filepath.Join(worktree, name))
		if err != nil {
			continue
		}
		if out != "" {
			out += "\n\n"
		}
		out += fmt.Sprintf("### %s\n%s", name, string(data))
	}
	return out
}
