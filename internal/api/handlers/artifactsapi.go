package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// ServeArtifact serves stored artifact bytes. Only wired when the built-in
// memory object store is in use; external stores serve their own URLs.
func (h *Handlers) ServeArtifact(w http.ResponseWriter, r *http.Request) {
	if h.Artifacts == nil {
		respondError(w, http.StatusNotFound, "artifact serving not enabled")
		return
	}

	name := chi.URLParam(r, "*")
	data, err := h.Artifacts.Get(r.Context(), name)
	if err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	if ct, ok := h.Artifacts.ContentType(name); ok && ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.Write(data)
}
