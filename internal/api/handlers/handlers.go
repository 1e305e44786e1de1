// Package handlers implements the HTTP handlers for the PromptForge API.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/promptforge/promptforge/internal/artifacts"
	"github.com/promptforge/promptforge/internal/comfy"
	"github.com/promptforge/promptforge/internal/compose"
	"github.com/promptforge/promptforge/internal/intent"
	"github.com/promptforge/promptforge/internal/policy"
	"github.com/promptforge/promptforge/internal/progress"
	"github.com/promptforge/promptforge/internal/provenance"
	"github.com/promptforge/promptforge/internal/registry"
	"github.com/promptforge/promptforge/internal/scheduler"
	"github.com/promptforge/promptforge/internal/workflows"
)

// Handlers holds all handler dependencies.
type Handlers struct {
	Registry  *registry.Registry
	Workflows *workflows.Registry
	Scheduler *scheduler.Scheduler
	Engine    *compose.Engine
	Parser    *intent.HybridParser
	Enforcer  *policy.Enforcer
	Tracker   *provenance.Tracker
	Hub       *progress.Hub
	Backend   *comfy.Client
	Artifacts *artifacts.MemoryStore // nil when an external object store is wired
	Version   string
}

// New creates a Handlers instance with all dependencies.
func New(reg *registry.Registry, wf *workflows.Registry, sched *scheduler.Scheduler, engine *compose.Engine, parser *intent.HybridParser, enforcer *policy.Enforcer, tracker *provenance.Tracker, hub *progress.Hub, backend *comfy.Client, store *artifacts.MemoryStore, version string) *Handlers {
	return &Handlers{
		Registry:  reg,
		Workflows: wf,
		Scheduler: sched,
		Engine:    engine,
		Parser:    parser,
		Enforcer:  enforcer,
		Tracker:   tracker,
		Hub:       hub,
		Backend:   backend,
		Artifacts: store,
		Version:   version,
	}
}

// Health reports service liveness plus what the registries loaded.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	backend := "ok"
	if err := h.Backend.Health(r.Context()); err != nil {
		backend = "unreachable"
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "healthy",
		"service":    "promptforge",
		"backend":    backend,
		"categories": h.Registry.Len(),
		"workflows":  len(h.Workflows.All()),
	})
}

// VersionInfo reports the build version and category schema version.
func (h *Handlers) VersionInfo(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"version":        h.Version,
		"schema_version": h.Registry.SchemaVersion(),
	})
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
