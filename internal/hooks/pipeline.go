// Copyright (c) 2025 Arbor Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package hooks

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"arbor/internal/notes"
)

// ErrStepNotFound is returned when a step id is not in the configuration.
var ErrStepNotFound = errors.New("hook step not found")

// DefaultStepTimeout bounds every hook-step command. The dev server itself
// has no timeout; hook steps always do.
const DefaultStepTimeout = 120 * time.Second

// PathResolver maps a worktree id to its filesystem path. Implemented by
// the worktree manager.
type PathResolver func(worktreeID string) (string, error)

// Pipeline runs the configured shell steps against a worktree and tracks
// agent-reported skill results. Runs are fire-and-forget: the latest run
// per worktree wins.
type Pipeline struct {
	store       *Store
	links       notes.LinkResolver
	resolvePath PathResolver
	stepTimeout time.Duration
	log         *logrus.Entry

	mu           sync.Mutex
	listeners    map[int]func(worktreeID string)
	nextListener int
}

// NewPipeline wires the pipeline to its store, the Link Index, and the
// worktree manager's path resolution.
func NewPipeline(store *Store, links notes.LinkResolver, resolvePath PathResolver, log *logrus.Entry) *Pipeline {
	return &Pipeline{
		store:       store,
		links:       links,
		resolvePath: resolvePath,
		stepTimeout: DefaultStepTimeout,
		log:         log,
		listeners:   make(map[int]func(string)),
	}
}

// SetStepTimeout overrides the per-step timeout (tests).
func (p *Pipeline) SetStepTimeout(d time.Duration) {
	p.stepTimeout = d
}

// Subscribe registers a per-worktree hook-update listener. Step runs and
// skill reports share this channel so one event stream serves both.
// The returned function unsubscribes.
func (p *Pipeline) Subscribe(fn func(worktreeID string)) func() {
	p.mu.Lock()
	id := p.nextListener
	p.nextListener++
	p.listeners[id] = fn
	p.mu.Unlock()

	return func() {
		p.mu.Lock()
		delete(p.listeners, id)
		p.mu.Unlock()
	}
}

func (p *Pipeline) notify(worktreeID string) {
	p.mu.Lock()
	fns := make([]func(string), 0, len(p.listeners))
	for _, fn := range p.listeners {
		fns = append(fns, fn)
	}
	p.mu.Unlock()

	for _, fn := range fns {
		fn(worktreeID)
	}
}

// RunAll executes every enabled post-implementation step concurrently and
// persists the aggregated run. A run with zero enabled steps is recorded
// as failed with a single synthetic result explaining why, so it never
// silently succeeds. A single step's failure never prevents the other
// steps from completing or being recorded.
func (p *Pipeline) RunAll(worktreeID string) (*Run, error) {
	path, err := p.resolvePath(worktreeID)
	if err != nil {
		return nil, err
	}

	cfg, err := p.store.LoadConfig()
	if err != nil {
		return nil, err
	}

	var steps []Step
	for _, step := range cfg.Steps {
		if step.Enabled && step.Trigger == TriggerPostImplementation {
			steps = append(steps, step)
		}
	}

	now := time.Now()
	run := &Run{
		ID:         uuid.NewString(),
		WorktreeID: worktreeID,
		Status:     RunRunning,
		StartedAt:  now,
	}

	if len(steps) == 0 {
		run.Status = RunFailed
		run.Steps = []StepResult{{
			StepID:      "none",
			StepName:    "No enabled steps",
			Status:      StepFailed,
			Output:      "no hook steps are enabled for the post-implementation trigger",
			StartedAt:   now,
			CompletedAt: now,
		}}
		completed := time.Now()
		run.CompletedAt = &completed
		if err := p.store.SaveRun(run); err != nil {
			return nil, err
		}
		p.notify(worktreeID)
		return run, nil
	}

	if err := p.store.SaveRun(run); err != nil {
		return nil, err
	}
	p.notify(worktreeID)

	// Fan out: steps are independent, a hung step delays only itself.
	results := make([]StepResult, len(steps))
	var wg sync.WaitGroup
	for i, step := range steps {
		wg.Add(1)
		go func(i int, step Step) {
			defer wg.Done()
			results[i] = p.executeStep(path, step)
		}(i, step)
	}
	wg.Wait()

	run.Steps = results
	run.Status = RunCompleted
	for _, r := range results {
		if r.Status == StepFailed {
			run.Status = RunFailed
			break
		}
	}
	completed := time.Now()
	run.CompletedAt = &completed

	if err := p.store.SaveRun(run); err != nil {
		return nil, err
	}
	p.notify(worktreeID)

	p.log.WithFields(logrus.Fields{
		"worktree": worktreeID,
		"steps":    len(results),
		"status":   run.Status,
	}).Info("hook run finished")

	return run, nil
}

// RunSingle executes one configured step out of band: the result is
// returned and broadcast but the latest-run document is left untouched.
// The step runs even when disabled.
func (p *Pipeline) RunSingle(worktreeID, stepID string) (*StepResult, error) {
	path, err := p.resolvePath(worktreeID)
	if err != nil {
		return nil, err
	}

	cfg, err := p.store.LoadConfig()
	if err != nil {
		return nil, err
	}

	for _, step := range cfg.Steps {
		if step.ID == stepID {
			result := p.executeStep(path, step)
			p.notify(worktreeID)
			return &result, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrStepNotFound, stepID)
}

// LatestRun returns the persisted latest run for a worktree, nil if none.
func (p *Pipeline) LatestRun(worktreeID string) (*Run, error) {
	return p.store.LoadRun(worktreeID)
}

func (p *Pipeline) executeStep(dir string, step Step) StepResult {
	started := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), p.stepTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", step.Command)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()

	completed := time.Now()
	result := StepResult{
		StepID:      step.ID,
		StepName:    step.Name,
		Command:     step.Command,
		Status:      StepPassed,
		Output:      string(out),
		StartedAt:   started,
		CompletedAt: completed,
		DurationMS:  completed.Sub(started).Milliseconds(),
	}
	if err != nil {
		result.Status = StepFailed
		if ctx.Err() == context.DeadlineExceeded {
			result.Output += fmt.Sprintf("\nstep timed out after %s", p.stepTimeout)
		} else if result.Output == "" {
			result.Output = err.Error()
		}
	}
	return result
}

// EffectiveSkills resolves which skills apply to a worktree: the global
// enabled flag, overridden per issue when the worktree links to one and
// the override is not "inherit".
func (p *Pipeline) EffectiveSkills(worktreeID string, trigger Trigger) ([]EffectiveSkill, error) {
	cfg, err := p.store.LoadConfig()
	if err != nil {
		return nil, err
	}

	overrides := map[notes.OverrideKey]notes.Override{}
	link, err := p.links.ResolveLinkedIssue(worktreeID)
	if err != nil {
		return nil, err
	}
	if link != nil {
		overrides, err = p.links.HookSkillOverrides(link.Source, link.IssueID)
		if err != nil {
			return nil, err
		}
	}

	var out []EffectiveSkill
	for _, ref := range cfg.Skills {
		if ref.Trigger != trigger {
			continue
		}
		effective := ref.Enabled
		key := notes.OverrideKey{Trigger: string(ref.Trigger), Skill: ref.Skill}
		if o, ok := overrides[key]; ok && o != notes.OverrideInherit {
			effective = o == notes.OverrideEnable
		}
		out = append(out, EffectiveSkill{SkillRef: ref, Effective: effective})
	}
	return out, nil
}

// ReportSkillResult upserts an agent-reported result by skill name (last
// write wins) and notifies the worktree's hook-update stream. The store
// applies the upsert atomically, so concurrent reports for different
// skills on the same worktree all land.
func (p *Pipeline) ReportSkillResult(worktreeID string, result SkillResult) error {
	if result.ReportedAt.IsZero() {
		result.ReportedAt = time.Now()
	}
	if err := p.store.UpsertSkillResult(worktreeID, result); err != nil {
		return err
	}
	p.notify(worktreeID)
	return nil
}

// SkillResults returns the stored skill results for a worktree.
func (p *Pipeline) SkillResults(worktreeID string) ([]SkillResult, error) {
	return p.store.LoadSkillResults(worktreeID)
}
