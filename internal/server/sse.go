// Copyright (c) 2025 Arbor Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"arbor/internal/manager"
)

// event is one server-sent event frame.
type event struct {
	name string
	data []byte
}

// handleEvents is the long-lived SSE stream. Worktree-list snapshots and
// hook updates share the stream so a client holds a single connection.
// A slow client drops events rather than blocking the broadcasters.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := make(chan event, 16)
	send := func(e event) {
		select {
		case ch <- e:
		default:
			s.log.Warn("sse client too slow, dropping event")
		}
	}

	unsubWorktrees := s.mgr.Subscribe(func(list []manager.Worktree) {
		data, err := json.Marshal(list)
		if err != nil {
			return
		}
		send(event{name: "worktrees", data: data})
	})
	defer unsubWorktrees()

	unsubHooks := s.pipe.Subscribe(func(worktreeID string) {
		data, _ := json.Marshal(map[string]string{"worktree_id": worktreeID})
		send(event{name: "hooks", data: data})
	})
	defer unsubHooks()

	// Initial snapshot so the client does not wait for the next mutation.
	if data, err := json.Marshal(s.mgr.List()); err == nil {
		writeEvent(w, event{name: "worktrees", data: data})
		flusher.Flush()
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case e := <-ch:
			writeEvent(w, e)
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, e event) {
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.name, e.data)
}
