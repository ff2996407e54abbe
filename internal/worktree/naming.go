// Copyright (c) 2025 Arbor Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package worktree

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrInvalidInput is returned for branch or worktree names that fail
// validation. Validation happens before any filesystem or git mutation.
var ErrInvalidInput = errors.New("invalid input")

var (
	branchPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9/_.-]*$`)
	idPattern     = regexp.MustCompile(`^[A-Za-z0-9-]+$`)
	nonAlnum      = regexp.MustCompile(`[^A-Za-z0-9]+`)
)

// branchPrefixes are stripped when deriving a worktree id from a branch.
var branchPrefixes = []string{"feature/", "fix/", "chore/"}

// ValidateBranch rejects branch names that could inject git refs or
// traverse paths: the name must start alphanumeric, use a restricted
// character set, and contain no ".." segment.
func ValidateBranch(branch string) error {
	if !branchPattern.MatchString(branch) {
		return fmt.Errorf("%w: branch name %q", ErrInvalidInput, branch)
	}
	for _, segment := range strings.Split(branch, "/") {
		if segment == ".." {
			return fmt.Errorf("%w: branch name %q contains a '..' segment", ErrInvalidInput, branch)
		}
	}
	if strings.Contains(branch, "..") {
		return fmt.Errorf("%w: branch name %q contains '..'", ErrInvalidInput, branch)
	}
	return nil
}

// ValidateID rejects worktree ids containing anything beyond alphanumerics
// and hyphens. Ids name directories, so this is stricter than branches.
func ValidateID(id string) error {
	if !idPattern.MatchString(id) {
		return fmt.Errorf("%w: worktree id %q", ErrInvalidInput, id)
	}
	return nil
}

// DeriveID derives a stable worktree id from a branch name: known prefixes
// are stripped and remaining non-alphanumeric runs collapse to a hyphen.
// "feature/user-auth" -> "user-auth", "fix/JIRA-123/login" -> "JIRA-123-login".
func DeriveID(branch string) string {
	name := branch
	for _, prefix := range branchPrefixes {
		if rest, ok := strings.CutPrefix(name, prefix); ok {
			name = rest
			break
		}
	}
	name = nonAlnum.ReplaceAllString(name, "-")
	return strings.Trim(name, "-")
}
