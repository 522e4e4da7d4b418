// Package git wraps the git CLI via os/exec for the operations the
// Worktree Setup, Rebase, and Delivery stage nodes need: bare clones,
// worktrees, feature branches, commits, rebases, and pushes. No complete
// example repo in this pack vendors go-git; the closest grounding is
// kadirpekel-hector's dev/git_manager.go, which drives the same git CLI
// via exec.Command for autonomous branch/commit operations. Generalized
// here from "one project root" to "one bare clone plus many worktrees",
// since Hadron runs one worktree per (cr_id, repo) pair rather than
// committing to the tool's own checkout.
package git

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Manager drives git for one change request's repositories. AuthorName and
// AuthorEmail are stamped on every commit the pipeline makes, the same way
// kadirpekel-hector's GitManager stamps its own dev-agent identity.
type Manager struct {
	AuthorName  string
	AuthorEmail string
}

func NewManager() *Manager {
	return &Manager{
		AuthorName:  "Hadron Pipeline",
		AuthorEmail: "hadron-pipeline@localhost",
	}
}

func (m *Manager) run(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out), fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return string(out), nil
}

// EnsureBareClone clones repoURL into bareDir as a bare mirror if it isn't
// already there, and fetches otherwise. Multiple CRs against the same
// upstream share one bare clone, per spec.md §4.5's "ensure a bare clone
// exists in a shared location".
//
// A plain `git clone --bare` copies the remote's heads directly into
// refs/heads/* without a refs/remotes/origin/* namespace, so the bare
// repo's own "origin/<branch>" refs the rest of this package relies on
// (CreateWorktree, RebaseOnto, ChangedFiles, UnifiedDiff) would never
// resolve. The fetch refspec is set explicitly and the initial fetch is
// driven from origin so those refs are populated the same way a normal
// (non-bare) clone populates them.
func (m *Manager) EnsureBareClone(ctx context.Context, repoURL, bareDir string) error {
	if _, err := os.Stat(filepath.Join(bareDir, "HEAD")); err == nil {
		_, err := m.run(ctx, bareDir, "fetch", "--all", "--prune")
		return err
	}
	if err := os.MkdirAll(filepath.Dir(bareDir), 0o755); err != nil {
		return fmt.Errorf("failed to create bare clone parent dir: %w", err)
	}
	if _, err := m.run(ctx, filepath.Dir(bareDir), "clone", "--bare", repoURL, bareDir); err != nil {
		return err
	}
	if _, err := m.run(ctx, bareDir, "config", "remote.origin.fetch", "+refs/heads/*:refs/remotes/origin/*"); err != nil {
		return err
	}
	_, err := m.run(ctx, bareDir, "fetch", "origin")
	return err
}

// CreateWorktree adds a worktree at worktreeDir on a new feature branch
// created from baseBranch. If the worktree directory already exists (a
// worker restarted) it is removed first so the recreate is deterministic.
func (m *Manager) CreateWorktree(ctx context.Context, bareDir, worktreeDir, featureBranch, baseBranch string) error {
	_, _ = m.run(ctx, bareDir, "worktree", "remove", "--force", worktreeDir)
	_, _ = m.run(ctx, bareDir, "branch", "-D", featureBranch)

	_, err := m.run(ctx, bareDir, "worktree", "add", "-B", featureBranch, worktreeDir,
		"origin/"+baseBranch)
	return err
}

// RecreateWorktreeFromRemote fetches and recreates a worktree from an
// existing remote feature branch, per spec.md §4.5's "on worker restart
// with an existing remote branch, fetch and recreate the worktree from the
// remote" — used instead of CreateWorktree when the branch already has
// upstream commits from a prior attempt.
func (m *Manager) RecreateWorktreeFromRemote(ctx context.Context, bareDir, worktreeDir, featureBranch string) error {
	if _, err := m.run(ctx, bareDir, "fetch", "origin", featureBranch); err != nil {
		return err
	}
	_, _ = m.run(ctx, bareDir, "worktree", "remove", "--force", worktreeDir)
	_, err := m.run(ctx, bareDir, "worktree", "add", "-B", featureBranch, worktreeDir,
		"origin/"+featureBranch)
	return err
}

// RemoteDefaultBranch asks the remote which branch HEAD points at, via
// `git ls-remote --symref`, for repos where the trigger payload didn't
// already name one.
func (m *Manager) RemoteDefaultBranch(ctx context.Context, repoURL string) (string, error) {
	out, err := m.run(ctx, "", "ls-remote", "--symref", repoURL, "HEAD")
	if err != nil {
		return "", err
	}
	for _, line := range strings.Split(out, "\n") {
		const prefix = "ref: refs/heads/"
		if strings.HasPrefix(line, prefix) {
			fields := strings.Fields(strings.TrimPrefix(line, prefix))
			if len(fields) > 0 {
				return fields[0], nil
			}
		}
	}
	return "", fmt.Errorf("could not determine default branch for %s", repoURL)
}

// CurrentBranch returns the branch checked out in worktreeDir.
func (m *Manager) CurrentBranch(ctx context.Context, worktreeDir string) (string, error) {
	out, err := m.run(ctx, worktreeDir, "branch", "--show-current")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// HasChanges reports whether worktreeDir has anything staged or unstaged.
func (m *Manager) HasChanges(ctx context.Context, worktreeDir string) bool {
	cmd := exec.CommandContext(ctx, "git", "status", "--porcelain")
	cmd.Dir = worktreeDir
	out, err := cmd.Output()
	return err == nil && len(strings.TrimSpace(string(out))) > 0
}

// Commit stages everything in worktreeDir and commits with message, using
// the pipeline's git identity. Returns nil with no error if there was
// nothing to commit.
func (m *Manager) Commit(ctx context.Context, worktreeDir, message string) error {
	if _, err := m.run(ctx, worktreeDir, "add", "."); err != nil {
		return err
	}
	if !m.HasChanges(ctx, worktreeDir) {
		return nil
	}

	cmd := exec.CommandContext(ctx, "git", "commit", "-m", message)
	cmd.Dir = worktreeDir
	cmd.Env = append(os.Environ(),
		"GIT_AUTHOR_NAME="+m.AuthorName,
		"GIT_AUTHOR_EMAIL="+m.AuthorEmail,
		"GIT_COMMITTER_NAME="+m.AuthorName,
		"GIT_COMMITTER_EMAIL="+m.AuthorEmail,
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("git commit: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

// Push pushes branch to origin, force-with-lease since the pipeline may
// rewrite its own feature branch across loop iterations.
func (m *Manager) Push(ctx context.Context, worktreeDir, branch string) error {
	_, err := m.run(ctx, worktreeDir, "push", "--force-with-lease", "origin", branch)
	return err
}

// RebaseOnto fetches base and rebases the current branch onto
// origin/base. Returns ok=false (no error) when the rebase stopped on a
// conflict, leaving the repeat-rebase-continue loop to the caller.
func (m *Manager) RebaseOnto(ctx context.Context, worktreeDir, base string) (ok bool, err error) {
	if _, err := m.run(ctx, worktreeDir, "fetch", "origin", base); err != nil {
		return false, err
	}
	out, err := m.run(ctx, worktreeDir, "rebase", "origin/"+base)
	if err == nil {
		return true, nil
	}
	if strings.Contains(out, "CONFLICT") || m.RebaseInProgress(worktreeDir) {
		return false, nil
	}
	return false, err
}

// RebaseContinue resumes a rebase after conflict markers have been
// resolved and staged.
func (m *Manager) RebaseContinue(ctx context.Context, worktreeDir string) (ok bool, err error) {
	if _, err := m.run(ctx, worktreeDir, "add", "."); err != nil {
		return false, err
	}
	cmd := exec.CommandContext(ctx, "git", "-c", "core.editor=true", "rebase", "--continue")
	cmd.Dir = worktreeDir
	out, err := cmd.CombinedOutput()
	if err == nil {
		return true, nil
	}
	if strings.Contains(string(out), "CONFLICT") || m.RebaseInProgress(worktreeDir) {
		return false, nil
	}
	return false, fmt.Errorf("git rebase --continue: %w: %s", err, strings.TrimSpace(string(out)))
}

// AbortRebase aborts an in-progress rebase, restoring the branch to its
// pre-rebase state.
func (m *Manager) AbortRebase(ctx context.Context, worktreeDir string) error {
	_, err := m.run(ctx, worktreeDir, "rebase", "--abort")
	return err
}

// RebaseInProgress reports whether worktreeDir has a rebase underway. Every
// worktree this package creates is a linked worktree (git worktree add),
// where ".git" is a file pointing at its own per-worktree git-dir under the
// main repo's worktrees/ directory, not a directory itself — rebase state
// lives there, not under "<worktreeDir>/.git/rebase-merge".
func (m *Manager) RebaseInProgress(worktreeDir string) bool {
	gitDir, err := m.run(context.Background(), worktreeDir, "rev-parse", "--git-dir")
	if err != nil {
		return false
	}
	gitDir = strings.TrimSpace(gitDir)
	if !filepath.IsAbs(gitDir) {
		gitDir = filepath.Join(worktreeDir, gitDir)
	}
	for _, name := range []string{"rebase-merge", "rebase-apply"} {
		if _, err := os.Stat(filepath.Join(gitDir, name)); err == nil {
			return true
		}
	}
	return false
}

// ConflictedFiles lists the paths git still considers unmerged.
func (m *Manager) ConflictedFiles(ctx context.Context, worktreeDir string) ([]string, error) {
	out, err := m.run(ctx, worktreeDir, "diff", "--name-only", "--diff-filter=U")
	if err != nil {
		return nil, err
	}
	var files []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			files = append(files, line)
		}
	}
	return files, nil
}

// ChangedFiles lists files changed between base and the current HEAD,
// for the release stage's file-list and the review stage's diff scope.
func (m *Manager) ChangedFiles(ctx context.Context, worktreeDir, base string) ([]string, error) {
	out, err := m.run(ctx, worktreeDir, "diff", "--name-only", "origin/"+base+"...HEAD")
	if err != nil {
		return nil, err
	}
	var files []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			files = append(files, line)
		}
	}
	return files, nil
}

// UnifiedDiff returns the full diff between base and HEAD, for the review
// stage's deterministic diff-scope pre-pass and reviewer prompts.
func (m *Manager) UnifiedDiff(ctx context.Context, worktreeDir, base string) (string, error) {
	return m.run(ctx, worktreeDir, "diff", "origin/"+base+"...HEAD")
}

// DirectoryTree renders a depth-limited directory listing rooted at dir,
// excluding hidden and common vendored directories, per spec.md §4.5's
// "captures a directory tree (depth 3, excluding hidden and common
// vendored directories)".
func DirectoryTree(dir string, maxDepth int) (string, error) {
	var sb strings.Builder
	var walk func(path string, depth int) error
	walk = func(path string, depth int) error {
		entries, err := os.ReadDir(path)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if skipEntry(e.Name()) {
				continue
			}
			rel, _ := filepath.Rel(dir, filepath.Join(path, e.Name()))
			indent := strings.Repeat("  ", depth)
			if e.IsDir() {
				sb.WriteString(fmt.Sprintf("%s%s/\n", indent, rel))
				if depth+1 < maxDepth {
					if err := walk(filepath.Join(path, e.Name()), depth+1); err != nil {
						return err
					}
				}
			} else {
				sb.WriteString(fmt.Sprintf("%s%s\n", indent, rel))
			}
		}
		return nil
	}
	if err := walk(dir, 0); err != nil {
		return "", err
	}
	return sb.String(), nil
}

func skipEntry(name string) bool {
	if strings.HasPrefix(name, ".") {
		return true
	}
	switch name {
	case "node_modules", "vendor", "target", "dist", "build", "__pycache__":
		return true
	}
	return false
}
