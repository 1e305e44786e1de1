package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/promptforge/promptforge/pkg/contracts"
	"github.com/promptforge/promptforge/pkg/models"
)

// RateRun attaches a 1-5 rating and optional feedback to a recorded run.
func (h *Handlers) RateRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	var req struct {
		Rating   int    `json:"rating"`
		Feedback string `json:"feedback,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.Tracker.Rate(r.Context(), runID, req.Rating, req.Feedback); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "rated"})
}

// FavoriteRun flags a run for the UI.
func (h *Handlers) FavoriteRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	if err := h.Tracker.Favorite(r.Context(), runID); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "favorited"})
}

// TopRuns returns the best-rated recent runs. category narrows the result to
// runs whose source categories contain the given substring.
func (h *Handlers) TopRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	minRating := intParam(q.Get("min_rating"), 4)
	limit := intParam(q.Get("limit"), 10)

	runs, err := h.Tracker.TopRated(r.Context(), minRating, limit, q.Get("category"))
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if runs == nil {
		runs = []contracts.Run{}
	}
	respondJSON(w, http.StatusOK, runs)
}

// RunRecipe returns the recipe recorded with a run, its drift report, and
// optionally a fresh recomposition against the current category
// definitions. recompose=true rebuilds the recipe; categories swaps in a
// comma-separated list of target category ids instead of the stored ones;
// keep_loras / keep_settings carry the stored LoRA stack or numeric settings
// over the rebuilt one.
func (h *Handlers) RunRecipe(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	stored, err := h.Tracker.Recipe(r.Context(), runID)
	if err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}

	drift, err := h.Tracker.DriftCheck(r.Context(), stored)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := map[string]interface{}{
		"recipe": stored,
		"drift":  drift,
	}

	q := r.URL.Query()
	if parseBool(q.Get("recompose")) {
		targets := stored.SourceCategories
		if ids := splitCSV(q.Get("categories")); len(ids) > 0 {
			targets = ids
		}
		fresh, err := h.Engine.Compose(targets)
		if err != nil {
			respondError(w, http.StatusUnprocessableEntity, "recompose failed: "+err.Error())
			return
		}
		if parseBool(q.Get("keep_loras")) {
			fresh.Loras = append([]models.RecipeLora(nil), stored.Loras...)
		}
		if parseBool(q.Get("keep_settings")) {
			fresh.Steps = stored.Steps
			fresh.CFG = stored.CFG
			fresh.Width = stored.Width
			fresh.Height = stored.Height
			fresh.Sampler = stored.Sampler
			fresh.Scheduler = stored.Scheduler
			fresh.Denoise = stored.Denoise
			fresh.Checkpoint = stored.Checkpoint
			fresh.VAE = stored.VAE
		}
		resp["recomposed"] = fresh
	}

	respondJSON(w, http.StatusOK, resp)
}

func parseBool(s string) bool {
	b, err := strconv.ParseBool(s)
	return err == nil && b
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
