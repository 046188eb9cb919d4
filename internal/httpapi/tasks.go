package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/antoniostano/taskyon/internal/tasks"
)

type createTaskRequest struct {
	Draft                tasks.Draft `json:"draft"`
	ParentID             string      `json:"parent_id"`
	Execute              *bool       `json:"execute"`
	PreventDuplicateName bool        `json:"prevent_duplicate_name"`
}

type createTaskResponse struct {
	TaskID string `json:"task_id"`
}

type cancelTaskRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	execute := true
	if req.Execute != nil {
		execute = *req.Execute
	}

	id, err := s.factory.AddTaskToTree(r.Context(), req.Draft, req.ParentID, execute, req.PreventDuplicateName)
	if err != nil {
		switch {
		case errors.Is(err, tasks.ErrDuplicateTask):
			respondError(w, http.StatusConflict, "duplicate_task", err.Error())
		case errors.Is(err, tasks.ErrTaskNotFound):
			respondError(w, http.StatusNotFound, "parent_not_found", err.Error())
		default:
			respondError(w, http.StatusBadRequest, "task_creation_failed", err.Error())
		}
		return
	}
	s.metrics.CountTaskEvent("created")
	respondJSON(w, http.StatusCreated, createTaskResponse{TaskID: id})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "task id is required")
		return
	}

	task, ok, err := s.store.GetTask(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "task_lookup_failed", err.Error())
		return
	}
	if !ok {
		respondError(w, http.StatusNotFound, "task_not_found", "no task with id "+id)
		return
	}
	respondJSON(w, http.StatusOK, task)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	sel := tasks.Selector{}
	for _, key := range []string{"parent_id", "name", "role", "state", "label"} {
		if v := strings.TrimSpace(r.URL.Query().Get(key)); v != "" {
			sel[key] = v
		}
	}

	found, err := s.store.SearchTasks(r.Context(), sel)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "task_search_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"tasks": found, "count": len(found)})
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "task id is required")
		return
	}
	if err := s.store.DeleteTask(r.Context(), id); err != nil {
		respondError(w, http.StatusInternalServerError, "task_delete_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"deleted": id})
}

// handleCancelTask interrupts the worker. Cancellation is cooperative and
// scoped to the task currently in progress; queued tasks drain normally.
func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))

	var req cancelTaskRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = "cancelled via api"
	}

	task, ok, err := s.store.GetTask(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "task_lookup_failed", err.Error())
		return
	}
	if !ok {
		respondError(w, http.StatusNotFound, "task_not_found", "no task with id "+id)
		return
	}
	if task.Terminal() {
		respondError(w, http.StatusConflict, "task_finished", "task already reached state "+string(task.State))
		return
	}

	s.controller.Interrupt(reason)
	respondJSON(w, http.StatusOK, map[string]any{"interrupted": id, "reason": reason})
}

func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"tools": s.registry.Names(r.Context())})
}
