package stages

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CollideNV/hadron/internal/git"
	"github.com/CollideNV/hadron/internal/pipeline"
)

func setUpIdentifiedRepo(t *testing.T, d *Deps, crID string) pipeline.RepoContext {
	t.Helper()
	upstream := newUpstreamRepo(t)
	state := &pipeline.PipelineState{CRID: crID, Repos: []pipeline.RepoContext{{RepoURL: upstream}}}
	require.NoError(t, d.repoIdentification(context.Background(), state, &recordingEmitter{}))
	return state.Repos[0]
}

func TestWorktreeSetup_ChecksOutFeatureBranchAndCapturesTree(t *testing.T) {
	d := &Deps{Git: git.NewManager(), BareRoot: t.TempDir(), WorkRoot: t.TempDir()}
	repo := setUpIdentifiedRepo(t, d, "cr-1")

	state := &pipeline.PipelineState{CRID: "cr-1", Repos: []pipeline.RepoContext{repo}}
	require.NoError(t, d.worktreeSetup(context.Background(), state, &recordingEmitter{}))

	got := state.Repos[0]
	assert.Equal(t, d.worktreeDir("cr-1", got.RepoName), got.WorktreePath)
	assert.Contains(t, got.DirectoryTree, "go.mod")

	branch, err := d.Git.CurrentBranch(context.Background(), got.WorktreePath)
	require.NoError(t, err)
	assert.Equal(t, featureBranch("cr-1"), branch)
}

func TestWorktreeSetup_DetectsLanguageFromMarkerFile(t *testing.T) {
	d := &Deps{Git: git.NewManager(), BareRoot: t.TempDir(), WorkRoot: t.TempDir()}
	repo := setUpIdentifiedRepo(t, d, "cr-2")

	state := &pipeline.PipelineState{CRID: "cr-2", Repos: []pipeline.RepoContext{repo}}
	require.NoError(t, d.worktreeSetup(context.Background(), state, &recordingEmitter{}))

	assert.Equal(t, "Go", state.Repos[0].Language)
	assert.Equal(t, "go test ./...", state.Repos[0].TestCommand)
}

func TestWorktreeSetup_CallerSuppliedLanguageIsNotOverridden(t *testing.T) {
	d := &Deps{Git: git.NewManager(), BareRoot: t.TempDir(), WorkRoot: t.TempDir()}
	repo := setUpIdentifiedRepo(t, d, "cr-3")
	repo.Language = "Rust"
	repo.TestCommand = "cargo test --release"

	state := &pipeline.PipelineState{CRID: "cr-3", Repos: []pipeline.RepoContext{repo}}
	require.NoError(t, d.worktreeSetup(context.Background(), state, &recordingEmitter{}))

	assert.Equal(t, "Rust", state.Repos[0].Language)
	assert.Equal(t, "cargo test --release", state.Repos[0].TestCommand)
}

func TestWorktreeSetup_CapturesConventionsFromAgentsAndClaudeFiles(t *testing.T) {
	d := &Deps{Git: git.NewManager(), BareRoot: t.TempDir(), WorkRoot: t.TempDir()}
	repo := setUpIdentifiedRepo(t, d, "cr-4")

	state := &pipeline.PipelineState{CRID: "cr-4", Repos: []pipeline.RepoContext{repo}}
	require.NoError(t, d.worktreeSetup(context.Background(), state, &recordingEmitter{}))

	assert.Contains(t, state.Repos[0].Conventions, "keep functions small")
	assert.Contains(t, state.Repos[0].Conventions, "AGENTS.md")
}

func TestReadConventions_ConcatenatesAvailableFilesAndSkipsMissingOnes(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "AGENTS.md"), []byte("a"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".hadron"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".hadron", "retrospective.md"), []byte("b"), 0o644))

	out := readConventions(dir)
	assert.Contains(t, out, "### AGENTS.md\na")
	assert.Contains(t, out, "### .hadron/retrospective.md\nb")
	assert.NotContains(t, out, "CLAUDE.md")
}

func TestReadConventions_EmptyWhenNoConventionFilesExist(t *testing.T) {
	assert.Empty(t, readConventions(t.TempDir()))
}
