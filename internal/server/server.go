// Copyright (c) 2025 Arbor Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

// Package server exposes the worktree manager and the hooks pipeline over
// HTTP, with a single SSE stream carrying both worktree-list snapshots and
// per-worktree hook updates.
package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"arbor/internal/hooks"
	"arbor/internal/manager"
)

// Server holds the handler dependencies.
type Server struct {
	mgr  *manager.Manager
	pipe *hooks.Pipeline
	log  *logrus.Entry
}

// New creates a Server over the manager and the pipeline.
func New(mgr *manager.Manager, pipe *hooks.Pipeline, log *logrus.Entry) *Server {
	return &Server{mgr: mgr, pipe: pipe, log: log}
}

// Router builds the HTTP routing table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/api/health", s.handleHealth)
	r.Get("/api/events", s.handleEvents)

	r.Route("/api/worktrees", func(r chi.Router) {
		r.Get("/", s.handleList)
		r.Post("/", s.handleCreate)

		r.Route("/{id}", func(r chi.Router) {
			r.Delete("/", s.handleRemove)
			r.Post("/start", s.handleStart)
			r.Post("/stop", s.handleStop)
			r.Get("/logs", s.handleLogs)

			r.Post("/hooks/run", s.handleRunHooks)
			r.Post("/hooks/steps/{stepID}/run", s.handleRunHookStep)
			r.Get("/hooks", s.handleHookStatus)

			r.Get("/skills", s.handleSkillResults)
			r.Post("/skills", s.handleReportSkill)
			r.Get("/skills/effective", s.handleEffectiveSkills)
		})
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "status": "ok"})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.mgr.List())
}

type createRequest struct {
	Branch string `json:"branch"`
	Name   string `json:"name,omitempty"`
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Success: false, Error: "invalid request body"})
		return
	}
	wt, err := s.mgr.Create(req.Branch, req.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "worktree": wt})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	portList, pid, err := s.mgr.Start(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "ports": portList, "pid": pid})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := s.mgr.Stop(chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	if err := s.mgr.Remove(chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	lines, err := s.mgr.Logs(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "logs": lines})
}

func (s *Server) handleRunHooks(w http.ResponseWriter, r *http.Request) {
	run, err := s.pipe.RunAll(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleRunHookStep(w http.ResponseWriter, r *http.Request) {
	result, err := s.pipe.RunSingle(chi.URLParam(r, "id"), chi.URLParam(r, "stepID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleHookStatus(w http.ResponseWriter, r *http.Request) {
	run, err := s.pipe.LatestRun(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleSkillResults(w http.ResponseWriter, r *http.Request) {
	results, err := s.pipe.SkillResults(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if results == nil {
		results = []hooks.SkillResult{}
	}
	writeJSON(w, http.StatusOK, results)
}

func (s *Server) handleReportSkill(w http.ResponseWriter, r *http.Request) {
	var result hooks.SkillResult
	if err := json.NewDecoder(r.Body).Decode(&result); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Success: false, Error: "invalid request body"})
		return
	}
	if result.Skill == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Success: false, Error: "skill name is required"})
		return
	}
	if err := s.pipe.ReportSkillResult(chi.URLParam(r, "id"), result); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleEffectiveSkills(w http.ResponseWriter, r *http.Request) {
	trigger := hooks.Trigger(r.URL.Query().Get("trigger"))
	if trigger == "" {
		trigger = hooks.TriggerPostImplementation
	}
	skills, err := s.pipe.EffectiveSkills(chi.URLParam(r, "id"), trigger)
	if err != nil {
		writeError(w, err)
		return
	}
	if skills == nil {
		skills = []hooks.EffectiveSkill{}
	}
	writeJSON(w, http.StatusOK, skills)
}
