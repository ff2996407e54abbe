// Copyright (c) 2025 Arbor Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"arbor/internal/hooks"
	"arbor/internal/manager"
	"arbor/internal/ports"
	"arbor/internal/worktree"
)

// errorBody is the structured failure envelope. Failures are data, not
// exceptions: clients render the message without a global error boundary.
type errorBody struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the error taxonomy onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, worktree.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, manager.ErrNotFound), errors.Is(err, hooks.ErrStepNotFound):
		status = http.StatusNotFound
	case errors.Is(err, manager.ErrAlreadyExists), errors.Is(err, manager.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, ports.ErrCapacityExceeded):
		status = http.StatusConflict
	}
	writeJSON(w, status, errorBody{Success: false, Error: err.Error()})
}
