package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/promptforge/promptforge/pkg/models"
)

const defaultPageSize = 50

// ListCategories returns categories with optional type filter, search, and
// pagination.
func (h *Handlers) ListCategories(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var cats []*models.Category
	switch {
	case q.Get("q") != "":
		cats = h.Registry.Search(q.Get("q"))
	case q.Get("type") != "":
		t := models.CategoryType(q.Get("type"))
		if !models.ValidCategoryType(t) {
			respondError(w, http.StatusBadRequest, "invalid category type: "+q.Get("type"))
			return
		}
		cats = h.Registry.ByType(t)
	default:
		cats = h.Registry.All()
	}

	page := intParam(q.Get("page"), 1)
	pageSize := intParam(q.Get("page_size"), defaultPageSize)
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 200 {
		pageSize = defaultPageSize
	}

	total := len(cats)
	start := (page - 1) * pageSize
	if start > total {
		start = total
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	pageCats := cats[start:end]
	if pageCats == nil {
		pageCats = []*models.Category{}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"categories": pageCats,
		"total":      total,
		"page":       page,
		"page_size":  pageSize,
	})
}

// GetCategory returns one category by id.
func (h *Handlers) GetCategory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "categoryID")
	cat := h.Registry.Get(id)
	if cat == nil {
		respondError(w, http.StatusNotFound, "category not found: "+id)
		return
	}
	respondJSON(w, http.StatusOK, cat)
}

// ListWorkflows returns the loaded workflow manifests.
func (h *Handlers) ListWorkflows(w http.ResponseWriter, r *http.Request) {
	manifests := h.Workflows.All()
	if manifests == nil {
		manifests = []*models.WorkflowManifest{}
	}
	respondJSON(w, http.StatusOK, manifests)
}

func intParam(s string, fallback int) int {
	if s == "" {
		return fallback
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return fallback
}
