// Copyright (c) 2025 Arbor Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package hooks

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"
)

// filenameID guards worktree ids used as document filenames.
var filenameID = regexp.MustCompile(`^[A-Za-z0-9-]+$`)

// Store persists the pipeline documents: one config document, one
// latest-run document per worktree, one skill-results document per
// worktree. All JSON, file-per-entity under the data directory.
type Store struct {
	mu  sync.Mutex
	dir string
}

// NewStore creates a store rooted at dir (typically <repo>/.arbor/hooks).
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// LoadConfig reads the pipeline configuration. A missing document yields
// an empty configuration, not an error.
func (s *Store) LoadConfig() (*Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg := &Config{}
	if err := s.read(filepath.Join(s.dir, "config.json"), cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SaveConfig writes the pipeline configuration document.
func (s *Store) SaveConfig(cfg *Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(filepath.Join(s.dir, "config.json"), cfg)
}

// SaveRun persists the latest run for its worktree, replacing any prior run.
func (s *Store) SaveRun(run *Run) error {
	path, err := s.docPath("runs", run.WorktreeID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(path, run)
}

// LoadRun reads the latest run for a worktree; nil when none exists.
func (s *Store) LoadRun(worktreeID string) (*Run, error) {
	path, err := s.docPath("runs", worktreeID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil
	}
	run := &Run{}
	if err := s.read(path, run); err != nil {
		return nil, err
	}
	return run, nil
}

// SaveSkillResults persists the per-worktree skill results document.
func (s *Store) SaveSkillResults(worktreeID string, results []SkillResult) error {
	path, err := s.docPath("skills", worktreeID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(path, results)
}

// UpsertSkillResult replaces the result for the same skill name or appends
// a new one, keeping the document sorted by skill. The read-modify-write
// happens under the store mutex so concurrent reports for the same
// worktree cannot overwrite each other's updates.
func (s *Store) UpsertSkillResult(worktreeID string, result SkillResult) error {
	path, err := s.docPath("skills", worktreeID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var results []SkillResult
	if err := s.read(path, &results); err != nil {
		return err
	}

	replaced := false
	for i, r := range results {
		if r.Skill == result.Skill {
			results[i] = result
			replaced = true
			break
		}
	}
	if !replaced {
		results = append(results, result)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Skill < results[j].Skill })

	return s.write(path, results)
}

// LoadSkillResults reads the per-worktree skill results; empty when none.
func (s *Store) LoadSkillResults(worktreeID string) ([]SkillResult, error) {
	path, err := s.docPath("skills", worktreeID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var results []SkillResult
	if err := s.read(path, &results); err != nil {
		return nil, err
	}
	return results, nil
}

func (s *Store) docPath(kind, worktreeID string) (string, error) {
	if !filenameID.MatchString(worktreeID) {
		return "", fmt.Errorf("invalid worktree id %q", worktreeID)
	}
	return filepath.Join(s.dir, kind, worktreeID+".json"), nil
}

// read unmarshals path into v; a missing file leaves v untouched.
func (s *Store) read(path string, v any) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}

func (s *Store) write(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(path), err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
