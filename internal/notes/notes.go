// Copyright (c) 2025 Arbor Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

// Package notes consumes the external notes store read-only. The store
// itself (free-form per-issue text and worktree/issue links) is owned by
// another component; the pipeline only needs link resolution and per-issue
// hook-skill overrides.
package notes

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Override is a per-issue override of a skill's global enablement.
type Override string

const (
	OverrideInherit Override = "inherit"
	OverrideEnable  Override = "enable"
	OverrideDisable Override = "disable"
)

// IssueLink ties a worktree to the issue-tracker item it was created from.
type IssueLink struct {
	Source  string `json:"source"`
	IssueID string `json:"issue_id"`
}

// OverrideKey identifies one (trigger, skill) override slot.
type OverrideKey struct {
	Trigger string
	Skill   string
}

// LinkResolver is the read-only view of the Link Index the pipeline needs.
type LinkResolver interface {
	// ResolveLinkedIssue returns the issue linked to a worktree, or nil
	// when the worktree has no link.
	ResolveLinkedIssue(worktreeID string) (*IssueLink, error)
	// HookSkillOverrides returns the issue's per-(trigger,skill)
	// overrides. An empty map means everything inherits.
	HookSkillOverrides(source, issueID string) (map[OverrideKey]Override, error)
}

// FileStore reads the notes store's JSON documents off disk. Layout:
//
//	<dir>/links.json                    {"links": {"<worktreeID>": {...}}}
//	<dir>/issues/<source>-<issueID>.json {"hook_skill_overrides": {"<trigger>:<skill>": "enable"}}
type FileStore struct {
	dir string
}

// NewFileStore creates a reader over the notes directory.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

type linksDocument struct {
	Links map[string]IssueLink `json:"links"`
}

type issueDocument struct {
	HookSkillOverrides map[string]Override `json:"hook_skill_overrides"`
}

// ResolveLinkedIssue looks the worktree up in links.json. A missing file
// or missing entry both mean "no link", not an error.
func (s *FileStore) ResolveLinkedIssue(worktreeID string) (*IssueLink, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, "links.json"))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read links document: %w", err)
	}

	var doc linksDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse links document: %w", err)
	}

	link, ok := doc.Links[worktreeID]
	if !ok {
		return nil, nil
	}
	return &link, nil
}

// HookSkillOverrides reads the issue's override document. Override keys
// are stored as "<trigger>:<skill>"; malformed keys are skipped.
func (s *FileStore) HookSkillOverrides(source, issueID string) (map[OverrideKey]Override, error) {
	overrides := make(map[OverrideKey]Override)

	path := filepath.Join(s.dir, "issues", source+"-"+issueID+".json")
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return overrides, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read issue document: %w", err)
	}

	var doc issueDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse issue document: %w", err)
	}

	for raw, value := range doc.HookSkillOverrides {
		trigger, skill, ok := strings.Cut(raw, ":")
		if !ok || trigger == "" || skill == "" {
			continue
		}
		overrides[OverrideKey{Trigger: trigger, Skill: skill}] = value
	}
	return overrides, nil
}
