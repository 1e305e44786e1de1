// Package api assembles the HTTP router for the PromptForge control plane.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/promptforge/promptforge/internal/api/handlers"
	"github.com/promptforge/promptforge/internal/api/middleware"
)

// NewRouter creates the HTTP router with all API routes.
func NewRouter(h *handlers.Handlers) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.Logger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health & info
	r.Get("/health", h.Health)
	r.Get("/version", h.VersionInfo)

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/generate", func(r chi.Router) {
			r.Post("/", h.StartGeneration)
			r.Get("/", h.ListGenerations)
			r.Route("/{jobID}", func(r chi.Router) {
				r.Get("/", h.GetGeneration)
				r.Delete("/", h.CancelGeneration)
			})
		})

		r.Post("/compose", h.ComposeRecipe)

		r.Route("/categories", func(r chi.Router) {
			r.Get("/", h.ListCategories)
			r.Get("/{categoryID}", h.GetCategory)
		})

		r.Get("/workflows", h.ListWorkflows)

		r.Route("/runs", func(r chi.Router) {
			r.Get("/top", h.TopRuns)
			r.Route("/{runID}", func(r chi.Router) {
				r.Post("/rate", h.RateRun)
				r.Post("/favorite", h.FavoriteRun)
				r.Get("/recipe", h.RunRecipe)
			})
		})
	})

	// Progress subscription
	r.Get("/ws/generate/{jobID}", h.WatchGeneration)

	// Built-in artifact serving
	r.Get("/artifacts/*", h.ServeArtifact)

	return r
}
