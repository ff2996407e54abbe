// Copyright (c) 2025 Arbor Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package manager

import (
	"sort"
	"time"

	"arbor/internal/supervise"
	"arbor/internal/worktree"
)

// merge joins the filesystem scan with the in-memory process table and the
// transition map, keyed by worktree id. The two sources must agree
// deterministically: the filesystem wins for existence, the process table
// wins for runtime fields. Entries that exist only as an in-flight create
// transition are included so clients can show the worktree before its
// directory lands on disk.
func merge(
	scanned []worktree.Info,
	procs map[string]*supervise.Process,
	transitions map[string]Status,
	lastActivity map[string]time.Time,
) []Worktree {
	out := make([]Worktree, 0, len(scanned))
	seen := make(map[string]bool, len(scanned))

	for _, info := range scanned {
		seen[info.ID] = true
		wt := Worktree{
			ID:           info.ID,
			Path:         info.Path,
			Branch:       info.Branch,
			Status:       StatusStopped,
			LastActivity: lastActivity[info.ID],
		}
		if p, ok := procs[info.ID]; ok {
			wt.Status = StatusStarting
			if p.Ready() {
				wt.Status = StatusRunning
			}
			wt.Ports = p.Ports
			offset := p.Offset
			wt.Offset = &offset
			wt.PID = p.PID
		}
		if status, ok := transitions[info.ID]; ok {
			wt.Status = status
		}
		out = append(out, wt)
	}

	for id, status := range transitions {
		if seen[id] || status != StatusCreating {
			continue
		}
		out = append(out, Worktree{
			ID:           id,
			Status:       status,
			LastActivity: lastActivity[id],
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
