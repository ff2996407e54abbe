// Copyright (c) 2025 Arbor Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package worktree

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateBranch(t *testing.T) {
	valid := []string{
		"main",
		"feature/user-auth",
		"fix/JIRA-123",
		"release/v1.2.3",
		"a",
		"0day",
		"user_name/some.branch-2",
	}
	for _, branch := range valid {
		assert.NoError(t, ValidateBranch(branch), "branch %q", branch)
	}

	invalid := []string{
		"",
		"-leading-dash",
		"/absolute",
		".hidden",
		"has space",
		"feature/../../../etc/passwd",
		"a..b",
		"semi;colon",
		"back`tick",
		"dollar$sign",
	}
	for _, branch := range invalid {
		err := ValidateBranch(branch)
		assert.Error(t, err, "branch %q", branch)
		assert.True(t, errors.Is(err, ErrInvalidInput), "branch %q: %v", branch, err)
	}
}

func TestValidateID(t *testing.T) {
	assert.NoError(t, ValidateID("user-auth-2"))
	assert.Error(t, ValidateID("has/slash"))
	assert.Error(t, ValidateID("has.dot"))
	assert.Error(t, ValidateID(""))
	assert.Error(t, ValidateID("../escape"))
}

func TestDeriveID(t *testing.T) {
	cases := map[string]string{
		"feature/user-auth":  "user-auth",
		"fix/JIRA-123/login": "JIRA-123-login",
		"chore/bump_deps":    "bump-deps",
		"main":               "main",
		"release/v1.2.3":     "release-v1-2-3",
		"feature/":           "",
	}
	for branch, want := range cases {
		assert.Equal(t, want, DeriveID(branch), "branch %q", branch)
	}
}
