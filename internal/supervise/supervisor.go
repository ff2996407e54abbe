// Copyright (c) 2025 Arbor Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package supervise

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrSpawnFailed is returned when the dev-server command cannot be started.
var ErrSpawnFailed = errors.New("failed to spawn process")

// Process is one supervised dev-server instance. Created by Spawn,
// destroyed when the child exits or is terminated; never persisted.
type Process struct {
	WorktreeID string
	Offset     int
	Ports      []int
	PID        int
	StartedAt  time.Time

	cmd       *exec.Cmd
	logs      *LogBuffer
	readySeen atomic.Bool
}

// Logs returns the most recent output lines, oldest first.
func (p *Process) Logs() []string {
	return p.logs.Lines()
}

// Ready reports whether a ready marker has been seen on stdout.
func (p *Process) Ready() bool {
	return p.readySeen.Load()
}

// Supervisor spawns dev-server processes, captures their output into
// bounded buffers, and reports readiness and exit back to its owner.
// Callbacks run on supervisor-owned goroutines; the owner is responsible
// for its own locking.
type Supervisor struct {
	readyMarkers []string
	onReady      func(p *Process)
	onExit       func(p *Process)
	log          *logrus.Entry
}

// New creates a Supervisor. onReady fires at most once per process when a
// ready marker is seen on stdout; onExit fires exactly once when the child
// exits for any reason.
func New(readyMarkers []string, onReady, onExit func(p *Process), log *logrus.Entry) *Supervisor {
	return &Supervisor{
		readyMarkers: readyMarkers,
		onReady:      onReady,
		onExit:       onExit,
		log:          log,
	}
}

// Spawn starts command through `sh -c` in dir with the given extra
// environment appended to the parent environment. The child gets its own
// process group so Terminate can take down the whole tree.
func (s *Supervisor) Spawn(worktreeID, dir, command string, extraEnv []string, offset int, ports []int) (*Process, error) {
	cmd := exec.Command("sh", "-c", command)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), extraEnv...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSpawnFailed, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSpawnFailed, err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSpawnFailed, err)
	}

	p := &Process{
		WorktreeID: worktreeID,
		Offset:     offset,
		Ports:      ports,
		PID:        cmd.Process.Pid,
		StartedAt:  time.Now(),
		cmd:        cmd,
		logs:       NewLogBuffer(MaxLogLines),
	}

	s.log.WithFields(logrus.Fields{
		"worktree": worktreeID,
		"pid":      p.PID,
		"ports":    ports,
	}).Info("dev server started")

	go s.consume(p, stdout, true)
	go s.consume(p, stderr, false)
	go s.watch(p)

	return p, nil
}

// consume splits a stream into lines, trims them, drops empties, and feeds
// the ring buffer. Ready markers are only scanned on stdout. A scan error
// (a single line over the buffer cap, for instance) ends capture for this
// stream while the process keeps running, so the failure is recorded in
// the buffer rather than dropped silently.
func (s *Supervisor) consume(p *Process, r io.Reader, scanReady bool) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 256*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		p.logs.Append(line)
		if scanReady && s.looksReady(line) && p.readySeen.CompareAndSwap(false, true) {
			s.onReady(p)
		}
	}
	if err := scanner.Err(); err != nil {
		p.logs.Append(fmt.Sprintf("[log capture stopped: %v]", err))
		s.log.WithFields(logrus.Fields{
			"worktree": p.WorktreeID,
			"pid":      p.PID,
		}).Warnf("output scan stopped: %v", err)
	}
}

func (s *Supervisor) looksReady(line string) bool {
	lower := strings.ToLower(line)
	for _, marker := range s.readyMarkers {
		if strings.Contains(lower, strings.ToLower(marker)) {
			return true
		}
	}
	return false
}

// watch reaps the child and reports its exit. The exit reason is
// irrelevant to the owner: cleanup is identical for crash, kill and
// natural exit.
func (s *Supervisor) watch(p *Process) {
	err := p.cmd.Wait()
	s.log.WithFields(logrus.Fields{
		"worktree": p.WorktreeID,
		"pid":      p.PID,
	}).Infof("dev server exited: %v", err)
	s.onExit(p)
}

// Terminate signals the process group with SIGTERM so child processes go
// down with the server; if group signaling fails it falls back to killing
// the tracked pid directly. Errors are expected when the process already
// exited and callers tolerate them.
func (s *Supervisor) Terminate(p *Process) error {
	if p == nil || p.cmd == nil || p.cmd.Process == nil {
		return nil
	}

	pgid, err := syscall.Getpgid(p.PID)
	if err != nil {
		return p.cmd.Process.Kill()
	}
	if err := syscall.Kill(-pgid, syscall.SIGTERM); err != nil {
		return p.cmd.Process.Kill()
	}
	return nil
}
