// Copyright (c) 2025 Arbor Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package hooks

import "time"

// Trigger is the pipeline phase at which a step or skill is eligible.
type Trigger string

// TriggerPostImplementation is currently the only phase.
const TriggerPostImplementation Trigger = "post-implementation"

// Step is one configurable shell check.
type Step struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	Command string  `json:"command"`
	Enabled bool    `json:"enabled"`
	Trigger Trigger `json:"trigger"`
}

// SkillRef references an agent-performed check. The skill itself runs
// outside this process; the pipeline tracks enablement and reported
// results only. Uniqueness is (Skill, Trigger).
type SkillRef struct {
	Skill          string  `json:"skill"`
	Trigger        Trigger `json:"trigger"`
	Enabled        bool    `json:"enabled"`
	Condition      string  `json:"condition,omitempty"`
	ConditionTitle string  `json:"condition_title,omitempty"`
}

// Config is the persisted pipeline configuration document.
type Config struct {
	Steps  []Step     `json:"steps"`
	Skills []SkillRef `json:"skills"`
}

// RunStatus classifies a pipeline run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// StepStatus classifies one step's outcome.
type StepStatus string

const (
	StepPassed StepStatus = "passed"
	StepFailed StepStatus = "failed"
)

// StepResult captures one executed step.
type StepResult struct {
	StepID      string     `json:"step_id"`
	StepName    string     `json:"step_name"`
	Command     string     `json:"command"`
	Status      StepStatus `json:"status"`
	Output      string     `json:"output"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt time.Time  `json:"completed_at"`
	DurationMS  int64      `json:"duration_ms"`
}

// Run is a pipeline run. One document is kept per worktree; the latest
// run overwrites the previous one.
type Run struct {
	ID          string       `json:"id"`
	WorktreeID  string       `json:"worktree_id"`
	Status      RunStatus    `json:"status"`
	StartedAt   time.Time    `json:"started_at"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
	Steps       []StepResult `json:"steps"`
}

// SkillResult is an asynchronously reported skill outcome. One result per
// skill name per worktree; a later report replaces the earlier one.
type SkillResult struct {
	Skill      string    `json:"skill"`
	Success    bool      `json:"success"`
	Summary    string    `json:"summary"`
	Content    string    `json:"content,omitempty"`
	ReportedAt time.Time `json:"reported_at"`
}

// EffectiveSkill is a skill reference with its per-worktree effective
// enablement after applying issue overrides.
type EffectiveSkill struct {
	SkillRef
	Effective bool `json:"effective"`
}
