// Copyright (c) 2025 Arbor Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package manager

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"arbor/internal/config"
	"arbor/internal/ports"
	"arbor/internal/supervise"
	"arbor/internal/worktree"
)

// Manager composes the inspector, the allocator and the supervisor into
// the worktree lifecycle: create/start/stop/remove/list. It owns the live
// process table and the offset pool; worktree existence is re-derived from
// the filesystem on every read and never cached.
type Manager struct {
	worktreesDir   string
	baseBranch     string
	devCommand     string
	installCommand string

	git   *worktree.Git
	alloc *ports.Allocator
	sup   *supervise.Supervisor
	log   *logrus.Entry

	mu           sync.Mutex
	procs        map[string]*supervise.Process
	transitions  map[string]Status
	lastActivity map[string]time.Time
	listeners    map[int]func([]Worktree)
	nextListener int
}

// New builds a Manager from the loaded configuration.
func New(cfg *config.Config, log *logrus.Entry) *Manager {
	base := make([]ports.BasePort, 0, len(cfg.Ports.Base))
	for _, bp := range cfg.Ports.Base {
		base = append(base, ports.BasePort{Port: bp.Port, Env: bp.Env})
	}

	m := &Manager{
		worktreesDir:   cfg.Repo.WorktreesDir,
		baseBranch:     cfg.Repo.BaseBranch,
		devCommand:     cfg.Dev.Command,
		installCommand: cfg.Dev.InstallCommand,
		git:            worktree.NewGit(cfg.Repo.Root, log),
		alloc:          ports.NewAllocator(cfg.Ports.MaxInstances, cfg.Ports.OffsetStep, base, cfg.Ports.EnvTemplates),
		log:            log,
		procs:          make(map[string]*supervise.Process),
		transitions:    make(map[string]Status),
		lastActivity:   make(map[string]time.Time),
		listeners:      make(map[int]func([]Worktree)),
	}
	m.sup = supervise.New(cfg.Dev.ReadyMarkers, m.handleReady, m.handleExit, log)
	return m
}

// Subscribe registers a listener that receives the full worktree list on
// every state change. The returned function unsubscribes.
func (m *Manager) Subscribe(fn func([]Worktree)) func() {
	m.mu.Lock()
	id := m.nextListener
	m.nextListener++
	m.listeners[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

// List returns every worktree under the worktrees root, with runtime
// fields overlaid from the live process table.
func (m *Manager) List() []Worktree {
	scanned := worktree.Scan(m.worktreesDir)

	m.mu.Lock()
	procs := make(map[string]*supervise.Process, len(m.procs))
	for id, p := range m.procs {
		procs[id] = p
	}
	transitions := make(map[string]Status, len(m.transitions))
	for id, s := range m.transitions {
		transitions[id] = s
	}
	activity := make(map[string]time.Time, len(m.lastActivity))
	for id, t := range m.lastActivity {
		activity[id] = t
	}
	m.mu.Unlock()

	return merge(scanned, procs, transitions, activity)
}

// Create makes a new worktree for branch: git worktree add through the
// fallback chain, then a blocking dependency install. The worktree id is
// derived from the branch unless name is given. A create failure may leave
// partial git state behind for manual cleanup; no rollback is attempted.
func (m *Manager) Create(branch, name string) (*Worktree, error) {
	if err := worktree.ValidateBranch(branch); err != nil {
		return nil, err
	}
	id := name
	if id == "" {
		id = worktree.DeriveID(branch)
	}
	if err := worktree.ValidateID(id); err != nil {
		return nil, err
	}
	path := filepath.Join(m.worktreesDir, id)

	m.mu.Lock()
	if _, ok := m.transitions[id]; ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrConflict, id)
	}
	if _, err := os.Stat(path); err == nil {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, path)
	}
	m.transitions[id] = StatusCreating
	m.lastActivity[id] = time.Now()
	m.mu.Unlock()
	m.broadcast()

	defer func() {
		m.mu.Lock()
		delete(m.transitions, id)
		m.mu.Unlock()
		m.broadcast()
	}()

	if err := os.MkdirAll(m.worktreesDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create worktrees directory: %w", err)
	}
	if err := m.git.AddWorktree(path, branch, m.baseBranch); err != nil {
		return nil, err
	}

	if m.installCommand != "" {
		if err := m.install(path); err != nil {
			return nil, err
		}
	}

	m.touch(id)
	return &Worktree{
		ID:     id,
		Path:   path,
		Branch: branch,
		Status: StatusStopped,
	}, nil
}

func (m *Manager) install(dir string) error {
	m.log.WithField("dir", dir).Infof("running install: %s", m.installCommand)
	cmd := exec.Command("sh", "-c", m.installCommand)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %s: %v (%s)",
			ErrCommandFailed, m.installCommand, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// Start spawns the dev server for a worktree with a freshly allocated
// offset's environment injected. Starting an already-running worktree is a
// no-op returning the existing ports and pid.
func (m *Manager) Start(id string) ([]int, int, error) {
	if err := worktree.ValidateID(id); err != nil {
		return nil, 0, err
	}
	path := filepath.Join(m.worktreesDir, id)

	m.mu.Lock()
	if p, ok := m.procs[id]; ok {
		m.mu.Unlock()
		return p.Ports, p.PID, nil
	}
	if _, ok := m.transitions[id]; ok {
		m.mu.Unlock()
		return nil, 0, fmt.Errorf("%w: %s", ErrConflict, id)
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		m.mu.Unlock()
		return nil, 0, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	offset, err := m.alloc.Allocate()
	if err != nil {
		m.mu.Unlock()
		return nil, 0, err
	}

	portList := m.alloc.PortsFor(offset)
	p, err := m.sup.Spawn(id, path, m.devCommand, m.alloc.EnvFor(offset), offset, portList)
	if err != nil {
		m.alloc.Release(offset)
		m.mu.Unlock()
		return nil, 0, err
	}
	m.procs[id] = p
	m.lastActivity[id] = time.Now()
	m.mu.Unlock()

	m.broadcast()
	return p.Ports, p.PID, nil
}

// Stop terminates a worktree's dev server. The offset is released before
// termination is attempted, and termination errors are tolerated: the
// process may have exited on its own between the client's decision to stop
// and the signal landing. Stopping a worktree that is not running is a
// no-op.
func (m *Manager) Stop(id string) error {
	m.mu.Lock()
	p, ok := m.procs[id]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	delete(m.procs, id)
	m.alloc.Release(p.Offset)
	m.transitions[id] = StatusStopping
	m.lastActivity[id] = time.Now()
	m.mu.Unlock()
	m.broadcast()

	if err := m.sup.Terminate(p); err != nil {
		m.log.WithField("worktree", id).Debugf("terminate: %v", err)
	}

	m.mu.Lock()
	delete(m.transitions, id)
	m.mu.Unlock()
	m.broadcast()
	return nil
}

// Remove force-stops the worktree and removes it from git. A worktree
// whose directory is already gone counts as removed.
func (m *Manager) Remove(id string) error {
	if err := worktree.ValidateID(id); err != nil {
		return err
	}
	if err := m.Stop(id); err != nil {
		return err
	}

	m.mu.Lock()
	if _, ok := m.transitions[id]; ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrConflict, id)
	}
	m.transitions[id] = StatusDeleting
	m.mu.Unlock()
	m.broadcast()

	err := m.git.RemoveWorktree(filepath.Join(m.worktreesDir, id))

	m.mu.Lock()
	delete(m.transitions, id)
	delete(m.lastActivity, id)
	m.mu.Unlock()
	m.broadcast()
	return err
}

// Logs returns the most recent output lines of a worktree's dev server,
// empty when it is not running.
func (m *Manager) Logs(id string) ([]string, error) {
	m.mu.Lock()
	p, ok := m.procs[id]
	m.mu.Unlock()
	if ok {
		return p.Logs(), nil
	}

	if err := worktree.ValidateID(id); err != nil {
		return nil, err
	}
	if _, err := os.Stat(filepath.Join(m.worktreesDir, id)); os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return []string{}, nil
}

// Path resolves a worktree id to its directory, for components that need
// to run commands inside the worktree.
func (m *Manager) Path(id string) (string, error) {
	if err := worktree.ValidateID(id); err != nil {
		return "", err
	}
	path := filepath.Join(m.worktreesDir, id)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return path, nil
}

// StopAll terminates every running dev server, for daemon shutdown.
func (m *Manager) StopAll() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.procs))
	for id := range m.procs {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		if err := m.Stop(id); err != nil {
			m.log.WithField("worktree", id).Warnf("stop failed during shutdown: %v", err)
		}
	}
}

// handleReady re-broadcasts state as soon as a dev server prints a ready
// marker, ahead of any client polling interval.
func (m *Manager) handleReady(p *supervise.Process) {
	m.broadcast()
}

// handleExit reacts to a child exiting for any reason. The pointer
// identity check makes cleanup exactly-once: if a stop call already
// removed this process from the table it also released the offset, and
// doing so again could free an offset reallocated to another worktree.
func (m *Manager) handleExit(p *supervise.Process) {
	m.mu.Lock()
	if current, ok := m.procs[p.WorktreeID]; ok && current == p {
		delete(m.procs, p.WorktreeID)
		m.alloc.Release(p.Offset)
	}
	m.lastActivity[p.WorktreeID] = time.Now()
	m.mu.Unlock()
	m.broadcast()
}

func (m *Manager) touch(id string) {
	m.mu.Lock()
	m.lastActivity[id] = time.Now()
	m.mu.Unlock()
}

// broadcast fans the freshly recomputed worktree list out to every
// listener. Listeners run outside the manager lock; a full snapshot is
// sent rather than a diff.
func (m *Manager) broadcast() {
	snapshot := m.List()

	m.mu.Lock()
	fns := make([]func([]Worktree), 0, len(m.listeners))
	for _, fn := range m.listeners {
		fns = append(fns, fn)
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn(snapshot)
	}
}
