// Copyright (c) 2025 Arbor Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package manager

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arbor/internal/config"
	"arbor/internal/ports"
	"arbor/internal/worktree"
)

func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetLevel(logrus.ErrorLevel)
	return logrus.NewEntry(log)
}

func testConfig(t *testing.T, maxInstances int, devCommand string) *config.Config {
	t.Helper()
	root := t.TempDir()
	return &config.Config{
		Repo: config.RepoConfig{
			Root:         root,
			WorktreesDir: filepath.Join(root, "worktrees"),
			BaseBranch:   "main",
		},
		Dev: config.DevConfig{
			Command:      devCommand,
			ReadyMarkers: []string{"ready"},
		},
		Ports: config.PortsConfig{
			MaxInstances: maxInstances,
			OffsetStep:   10,
			Base:         []config.BasePort{{Port: 3000, Env: "PORT"}},
		},
	}
}

// writeFixtureWorktree fakes a worktree on disk: a directory with a .git
// file, which is all the scanner requires.
func writeFixtureWorktree(t *testing.T, worktreesDir, id string) {
	t.Helper()
	dir := filepath.Join(worktreesDir, id)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	gitdir := filepath.Join(worktreesDir, ".gitmeta", id)
	require.NoError(t, os.MkdirAll(gitdir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(gitdir, "HEAD"), []byte("ref: refs/heads/feature/"+id+"\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".git"), []byte("gitdir: "+gitdir+"\n"), 0o644))
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal(msg)
}

func find(list []Worktree, id string) *Worktree {
	for i := range list {
		if list[i].ID == id {
			return &list[i]
		}
	}
	return nil
}

func TestListScansFixtures(t *testing.T) {
	cfg := testConfig(t, 5, "sleep 60")
	writeFixtureWorktree(t, cfg.Repo.WorktreesDir, "alpha")
	writeFixtureWorktree(t, cfg.Repo.WorktreesDir, "beta")
	m := New(cfg, testLogger())

	list := m.List()

	require.Len(t, list, 2)
	assert.Equal(t, "alpha", list[0].ID)
	assert.Equal(t, "feature/alpha", list[0].Branch)
	assert.Equal(t, StatusStopped, list[0].Status)
}

func TestStartStopLifecycle(t *testing.T) {
	cfg := testConfig(t, 5, "echo ready; sleep 60")
	writeFixtureWorktree(t, cfg.Repo.WorktreesDir, "alpha")
	m := New(cfg, testLogger())
	defer m.StopAll()

	portList, pid, err := m.Start("alpha")
	require.NoError(t, err)
	assert.Equal(t, []int{3000}, portList)
	assert.Greater(t, pid, 0)

	waitFor(t, func() bool {
		wt := find(m.List(), "alpha")
		return wt != nil && wt.Status == StatusRunning
	}, "worktree never reached running after ready marker")

	wt := find(m.List(), "alpha")
	require.NotNil(t, wt)
	assert.Equal(t, []int{3000}, wt.Ports)
	assert.Equal(t, pid, wt.PID)

	// A second start is a no-op returning the live ports and pid.
	portList2, pid2, err := m.Start("alpha")
	require.NoError(t, err)
	assert.Equal(t, portList, portList2)
	assert.Equal(t, pid, pid2)

	require.NoError(t, m.Stop("alpha"))
	waitFor(t, func() bool {
		wt := find(m.List(), "alpha")
		return wt != nil && wt.Status == StatusStopped
	}, "worktree never stopped")

	wt = find(m.List(), "alpha")
	require.NotNil(t, wt)
	assert.Empty(t, wt.Ports)
	assert.Zero(t, wt.PID)

	// Stopping again is a no-op.
	require.NoError(t, m.Stop("alpha"))
}

func TestStartNotFound(t *testing.T) {
	cfg := testConfig(t, 5, "sleep 60")
	m := New(cfg, testLogger())

	_, _, err := m.Start("nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStartAtCapacity(t *testing.T) {
	cfg := testConfig(t, 1, "sleep 60")
	writeFixtureWorktree(t, cfg.Repo.WorktreesDir, "alpha")
	writeFixtureWorktree(t, cfg.Repo.WorktreesDir, "beta")
	m := New(cfg, testLogger())
	defer m.StopAll()

	_, _, err := m.Start("alpha")
	require.NoError(t, err)

	_, _, err = m.Start("beta")
	assert.ErrorIs(t, err, ports.ErrCapacityExceeded)

	// The failed start mutated nothing: alpha keeps running, beta stays
	// stopped, and stopping alpha frees the slot for beta.
	wt := find(m.List(), "beta")
	require.NotNil(t, wt)
	assert.Equal(t, StatusStopped, wt.Status)

	require.NoError(t, m.Stop("alpha"))
	_, _, err = m.Start("beta")
	require.NoError(t, err)
}

func TestOffsetReuseAfterStop(t *testing.T) {
	cfg := testConfig(t, 2, "sleep 60")
	for _, id := range []string{"alpha", "beta", "gamma"} {
		writeFixtureWorktree(t, cfg.Repo.WorktreesDir, id)
	}
	m := New(cfg, testLogger())
	defer m.StopAll()

	portsA, _, err := m.Start("alpha")
	require.NoError(t, err)
	assert.Equal(t, []int{3000}, portsA)

	portsB, _, err := m.Start("beta")
	require.NoError(t, err)
	assert.Equal(t, []int{3010}, portsB)

	require.NoError(t, m.Stop("alpha"))

	// gamma takes the smallest free offset, which alpha just released.
	portsC, _, err := m.Start("gamma")
	require.NoError(t, err)
	assert.Equal(t, []int{3000}, portsC)
}

func TestExitReleasesOffset(t *testing.T) {
	cfg := testConfig(t, 1, "true")
	writeFixtureWorktree(t, cfg.Repo.WorktreesDir, "alpha")
	m := New(cfg, testLogger())

	_, _, err := m.Start("alpha")
	require.NoError(t, err)

	// The command exits immediately; the exit watcher must release the
	// offset and clear the process table on its own.
	waitFor(t, func() bool {
		wt := find(m.List(), "alpha")
		return wt != nil && wt.Status == StatusStopped
	}, "exit was never observed")

	_, _, err = m.Start("alpha")
	require.NoError(t, err)
	waitFor(t, func() bool {
		wt := find(m.List(), "alpha")
		return wt != nil && wt.Status == StatusStopped
	}, "second exit was never observed")
}

func TestLogs(t *testing.T) {
	cfg := testConfig(t, 5, "echo hello from dev; sleep 60")
	writeFixtureWorktree(t, cfg.Repo.WorktreesDir, "alpha")
	writeFixtureWorktree(t, cfg.Repo.WorktreesDir, "idle")
	m := New(cfg, testLogger())
	defer m.StopAll()

	_, _, err := m.Start("alpha")
	require.NoError(t, err)

	waitFor(t, func() bool {
		lines, err := m.Logs("alpha")
		return err == nil && len(lines) > 0 && strings.Contains(lines[0], "hello from dev")
	}, "dev server output never reached the log buffer")

	lines, err := m.Logs("idle")
	require.NoError(t, err)
	assert.Empty(t, lines)

	_, err = m.Logs("absent")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPath(t *testing.T) {
	cfg := testConfig(t, 5, "sleep 60")
	writeFixtureWorktree(t, cfg.Repo.WorktreesDir, "alpha")
	m := New(cfg, testLogger())

	path, err := m.Path("alpha")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(cfg.Repo.WorktreesDir, "alpha"), path)

	_, err = m.Path("absent")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = m.Path("../escape")
	assert.ErrorIs(t, err, worktree.ErrInvalidInput)
}

func TestSubscribeBroadcastsSnapshots(t *testing.T) {
	cfg := testConfig(t, 5, "sleep 60")
	writeFixtureWorktree(t, cfg.Repo.WorktreesDir, "alpha")
	m := New(cfg, testLogger())
	defer m.StopAll()

	var mu sync.Mutex
	var snapshots [][]Worktree
	unsubscribe := m.Subscribe(func(list []Worktree) {
		mu.Lock()
		snapshots = append(snapshots, list)
		mu.Unlock()
	})

	_, _, err := m.Start("alpha")
	require.NoError(t, err)
	require.NoError(t, m.Stop("alpha"))

	mu.Lock()
	count := len(snapshots)
	last := snapshots[len(snapshots)-1]
	mu.Unlock()

	assert.GreaterOrEqual(t, count, 2)
	require.Len(t, last, 1)
	assert.Equal(t, "alpha", last[0].ID)

	unsubscribe()
	mu.Lock()
	before := len(snapshots)
	mu.Unlock()
	_, _, err = m.Start("alpha")
	require.NoError(t, err)
	require.NoError(t, m.Stop("alpha"))

	// Exit watchers may still deliver one late broadcast from before the
	// unsubscribe, so only assert no growth from the new operations.
	mu.Lock()
	after := len(snapshots)
	mu.Unlock()
	assert.Equal(t, before, after, "unsubscribed listener must not receive snapshots")
}

func TestCreateRejectsInvalidBranch(t *testing.T) {
	cfg := testConfig(t, 5, "sleep 60")
	m := New(cfg, testLogger())

	for _, branch := range []string{"../evil", "-leading-dash", "has space", "a..b"} {
		_, err := m.Create(branch, "")
		assert.ErrorIs(t, err, worktree.ErrInvalidInput, "branch %q", branch)
	}

	// No filesystem mutation happened.
	_, err := os.Stat(cfg.Repo.WorktreesDir)
	assert.True(t, os.IsNotExist(err))
}

// initTestRepo creates a real repository with one commit so create and
// remove can exercise actual git worktree operations.
func initTestRepo(t *testing.T, dir string) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, "git %v: %s", args, out)
	}
	run("init", "-b", "main")
	run("config", "user.email", "test@example.com")
	run("config", "user.name", "test")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("test\n"), 0o644))
	run("add", ".")
	run("commit", "-m", "initial commit")
}

func TestCreateAndRemove(t *testing.T) {
	cfg := testConfig(t, 5, "sleep 60")
	initTestRepo(t, cfg.Repo.Root)
	m := New(cfg, testLogger())

	wt, err := m.Create("feature/user-auth", "")
	require.NoError(t, err)
	assert.Equal(t, "user-auth", wt.ID)
	assert.Equal(t, StatusStopped, wt.Status)
	assert.DirExists(t, wt.Path)

	list := m.List()
	require.Len(t, list, 1)
	assert.Equal(t, "feature/user-auth", list[0].Branch)

	_, err = m.Create("feature/user-auth", "")
	assert.ErrorIs(t, err, ErrAlreadyExists)

	require.NoError(t, m.Remove("user-auth"))
	assert.NoDirExists(t, wt.Path)

	// Removing a worktree whose directory is gone is a no-op.
	require.NoError(t, m.Remove("user-auth"))
}

func TestCreateWithExplicitName(t *testing.T) {
	cfg := testConfig(t, 5, "sleep 60")
	initTestRepo(t, cfg.Repo.Root)
	m := New(cfg, testLogger())

	wt, err := m.Create("fix/login-bug", "hotfix")
	require.NoError(t, err)
	assert.Equal(t, "hotfix", wt.ID)
}

func TestCreateInstallFailureFailsCreate(t *testing.T) {
	cfg := testConfig(t, 5, "sleep 60")
	cfg.Dev.InstallCommand = "exit 3"
	initTestRepo(t, cfg.Repo.Root)
	m := New(cfg, testLogger())

	_, err := m.Create("feature/broken-install", "")
	assert.ErrorIs(t, err, ErrCommandFailed)

	// The partially created worktree is left behind for manual cleanup.
	assert.DirExists(t, filepath.Join(cfg.Repo.WorktreesDir, "broken-install"))
}

func TestRemoveRejectsInvalidID(t *testing.T) {
	cfg := testConfig(t, 5, "sleep 60")
	m := New(cfg, testLogger())

	err := m.Remove("../../etc")
	assert.ErrorIs(t, err, worktree.ErrInvalidInput)
}
