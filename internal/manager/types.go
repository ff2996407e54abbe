// Copyright (c) 2025 Arbor Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package manager

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned for operations on a worktree whose directory
	// does not exist.
	ErrNotFound = errors.New("worktree not found")

	// ErrAlreadyExists is returned when creating a worktree whose target
	// path is already taken.
	ErrAlreadyExists = errors.New("worktree already exists")

	// ErrConflict is returned when another lifecycle operation is in flight
	// for the same worktree id.
	ErrConflict = errors.New("operation already in progress for worktree")

	// ErrCommandFailed is returned when the dependency install command
	// exits nonzero during create.
	ErrCommandFailed = errors.New("command failed")
)

// Status is a worktree's lifecycle state.
type Status string

const (
	StatusCreating Status = "creating"
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusStopping Status = "stopping"
	StatusDeleting Status = "deleting"
)

// Worktree is the aggregate view served to clients: filesystem identity
// merged with runtime fields from the live process table.
type Worktree struct {
	ID           string    `json:"id"`
	Path         string    `json:"path"`
	Branch       string    `json:"branch"`
	Status       Status    `json:"status"`
	Ports        []int     `json:"ports,omitempty"`
	Offset       *int      `json:"offset,omitempty"`
	PID          int       `json:"pid,omitempty"`
	LastActivity time.Time `json:"last_activity,omitempty"`
}
