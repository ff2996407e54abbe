// Copyright (c) 2025 Arbor Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package worktree

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Info describes a worktree discovered on disk. Runtime fields (status,
// ports, pid) are overlaid later from the live process table; the scan
// itself is a pure read of the filesystem.
type Info struct {
	ID     string
	Path   string
	Branch string
}

var gitdirPattern = regexp.MustCompile(`gitdir:\s*(.+)`)

// Scan lists the worktrees under root: every subdirectory containing git
// metadata. Worktree entries are re-derived on every call rather than
// cached, so external `git worktree` invocations are picked up.
func Scan(root string) []Info {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil
	}

	var results []Info
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(root, entry.Name())
		if _, err := os.Stat(filepath.Join(path, ".git")); err != nil {
			continue
		}
		results = append(results, Info{
			ID:     entry.Name(),
			Path:   path,
			Branch: ReadBranch(path),
		})
	}
	return results
}

// ReadBranch resolves a worktree's current branch without shelling out:
// the worktree's .git file points at the real git directory, whose HEAD
// names the checked-out ref. A detached HEAD falls back to the short hash.
func ReadBranch(worktreePath string) string {
	data, err := os.ReadFile(filepath.Join(worktreePath, ".git"))
	if err != nil {
		return ""
	}

	match := gitdirPattern.FindSubmatch(data)
	if match == nil {
		return ""
	}
	gitdir := strings.TrimSpace(string(match[1]))
	if !filepath.IsAbs(gitdir) {
		gitdir = filepath.Join(worktreePath, gitdir)
	}

	head, err := os.ReadFile(filepath.Join(gitdir, "HEAD"))
	if err != nil {
		return ""
	}

	content := strings.TrimSpace(string(head))
	if ref, ok := strings.CutPrefix(content, "ref: refs/heads/"); ok {
		return ref
	}
	if len(content) >= 8 {
		return content[:8]
	}
	return content
}
