// Copyright (c) 2025 Arbor Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package worktree

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/bitfield/script"
	"github.com/sirupsen/logrus"
)

// ErrGitOperationFailed is returned after every branch-acquisition strategy
// has been exhausted.
var ErrGitOperationFailed = errors.New("git operation failed")

// Git runs the mutating git operations for worktree management. Branch
// resolution never goes through here (see ReadBranch); only operations
// that change repository state shell out.
type Git struct {
	repoDir string
	log     *logrus.Entry
}

// NewGit creates a Git runner rooted at the main repository checkout.
func NewGit(repoDir string, log *logrus.Entry) *Git {
	return &Git{repoDir: repoDir, log: log}
}

// DetectRepoRoot returns the git toplevel directory of the current working
// directory, used when no repo root is configured.
func DetectRepoRoot() (string, error) {
	out, err := script.Exec("git rev-parse --show-toplevel").String()
	if err != nil {
		return "", fmt.Errorf("not inside a git repository: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// attempt is one branch-acquisition strategy: tried in order, first
// success wins.
type attempt struct {
	desc string
	args []string
}

// AddWorktree creates the worktree at path on the given branch. The branch
// is acquired through an ordered fallback chain:
//
//  1. fetch the branch from origin (best-effort: it may be local-only or new)
//  2. create a new branch from the base branch
//  3. check out an existing local branch of that name
//  4. force-create the branch tracking origin/<branch>
//
// If every strategy fails the error aggregates all attempts.
func (g *Git) AddWorktree(path, branch, baseBranch string) error {
	if out, err := g.run("fetch", "origin", branch); err != nil {
		g.log.WithField("branch", branch).Debugf("fetch skipped: %v (%s)", err, strings.TrimSpace(out))
	}

	attempts := []attempt{
		{
			desc: fmt.Sprintf("new branch from %s", baseBranch),
			args: []string{"worktree", "add", "-b", branch, path, baseBranch},
		},
		{
			desc: "existing local branch",
			args: []string{"worktree", "add", path, branch},
		},
		{
			desc: fmt.Sprintf("track origin/%s", branch),
			args: []string{"worktree", "add", "-B", branch, path, "origin/" + branch},
		},
	}

	var failures []string
	for _, a := range attempts {
		out, err := g.run(a.args...)
		if err == nil {
			g.log.WithFields(logrus.Fields{"branch": branch, "strategy": a.desc}).Info("worktree created")
			return nil
		}
		failures = append(failures, fmt.Sprintf("%s: %v (%s)", a.desc, err, strings.TrimSpace(out)))
	}

	return fmt.Errorf("%w: could not acquire branch %q: %s",
		ErrGitOperationFailed, branch, strings.Join(failures, "; "))
}

// RemoveWorktree force-removes the worktree at path. A worktree whose
// directory is already gone is treated as removed.
func (g *Git) RemoveWorktree(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		// Already removed; prune any stale administrative entry.
		_ = g.Prune()
		return nil
	}

	if out, err := g.run("worktree", "remove", path, "--force"); err != nil {
		return fmt.Errorf("%w: remove %s: %v (%s)", ErrGitOperationFailed, path, err, strings.TrimSpace(out))
	}
	return nil
}

// Prune drops administrative entries for worktrees whose directories no
// longer exist.
func (g *Git) Prune() error {
	if out, err := g.run("worktree", "prune"); err != nil {
		return fmt.Errorf("%w: prune: %v (%s)", ErrGitOperationFailed, err, strings.TrimSpace(out))
	}
	return nil
}

func (g *Git) run(args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = g.repoDir
	out, err := cmd.CombinedOutput()
	return string(out), err
}
