// Copyright (c) 2025 Arbor Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package worktree

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeWorktreeFixture lays out the on-disk shape of a linked worktree:
// a .git file pointing at a git directory whose HEAD names the branch.
func writeWorktreeFixture(t *testing.T, root, id, head string) string {
	t.Helper()
	wt := filepath.Join(root, id)
	gitdir := filepath.Join(root, ".gitdirs", id)
	require.NoError(t, os.MkdirAll(wt, 0o755))
	require.NoError(t, os.MkdirAll(gitdir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(wt, ".git"), []byte("gitdir: "+gitdir+"\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(gitdir, "HEAD"), []byte(head+"\n"), 0o644))
	return wt
}

func TestScanDiscoversWorktrees(t *testing.T) {
	root := t.TempDir()
	writeWorktreeFixture(t, root, "user-auth", "ref: refs/heads/feature/user-auth")
	writeWorktreeFixture(t, root, "hotfix", "ref: refs/heads/hotfix")

	// Noise that must be ignored: plain dirs, files, hidden dirs.
	require.NoError(t, os.MkdirAll(filepath.Join(root, "not-a-worktree"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "stray.txt"), []byte("x"), 0o644))

	infos := Scan(root)
	require.Len(t, infos, 2)

	byID := map[string]Info{}
	for _, info := range infos {
		byID[info.ID] = info
	}
	assert.Equal(t, "feature/user-auth", byID["user-auth"].Branch)
	assert.Equal(t, filepath.Join(root, "user-auth"), byID["user-auth"].Path)
	assert.Equal(t, "hotfix", byID["hotfix"].Branch)
}

func TestScanMissingRootReturnsNil(t *testing.T) {
	assert.Nil(t, Scan(filepath.Join(t.TempDir(), "nope")))
}

func TestReadBranchDetachedHeadFallsBackToShortHash(t *testing.T) {
	root := t.TempDir()
	wt := writeWorktreeFixture(t, root, "detached", "0123456789abcdef0123456789abcdef01234567")

	assert.Equal(t, "01234567", ReadBranch(wt))
}

func TestReadBranchRelativeGitdir(t *testing.T) {
	root := t.TempDir()
	wt := filepath.Join(root, "rel")
	gitdir := filepath.Join(wt, "gitmeta")
	require.NoError(t, os.MkdirAll(gitdir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(wt, ".git"), []byte("gitdir: gitmeta"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(gitdir, "HEAD"), []byte("ref: refs/heads/main"), 0o644))

	assert.Equal(t, "main", ReadBranch(wt))
}

func TestReadBranchMissingMetadata(t *testing.T) {
	assert.Equal(t, "", ReadBranch(t.TempDir()))
}
