package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/promptforge/promptforge/internal/scheduler"
	"github.com/promptforge/promptforge/pkg/models"
)

// StartGeneration enqueues a generation job and returns its initial view.
func (h *Handlers) StartGeneration(w http.ResponseWriter, r *http.Request) {
	var req models.GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	view, err := h.Scheduler.Submit(req)
	if err != nil {
		if errors.Is(err, scheduler.ErrEmptyRequest) {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusAccepted, view)
}

// GetGeneration returns a job snapshot.
func (h *Handlers) GetGeneration(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	view, ok := h.Scheduler.Get(jobID)
	if !ok {
		respondError(w, http.StatusNotFound, "job not found: "+jobID)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

// ListGenerations returns all tracked jobs, newest first.
func (h *Handlers) ListGenerations(w http.ResponseWriter, r *http.Request) {
	views := h.Scheduler.List()
	if views == nil {
		views = []models.JobView{}
	}
	respondJSON(w, http.StatusOK, views)
}

// CancelGeneration removes a job; its task exits at the next checkpoint.
func (h *Handlers) CancelGeneration(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if !h.Scheduler.Cancel(r.Context(), jobID) {
		respondError(w, http.StatusNotFound, "job not found: "+jobID)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
