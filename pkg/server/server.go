// Package server provides the public entry point for initializing the
// PromptForge control plane.
//
// It lives in pkg/ (not internal/) so embedders can compose the full server
// with their own middleware:
//
//	srv, err := server.New(ctx)
//	http.ListenAndServe(":8080", srv.Handler)
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/promptforge/promptforge/internal/api"
	"github.com/promptforge/promptforge/internal/api/handlers"
	"github.com/promptforge/promptforge/internal/artifacts"
	"github.com/promptforge/promptforge/internal/comfy"
	"github.com/promptforge/promptforge/internal/compose"
	"github.com/promptforge/promptforge/internal/config"
	"github.com/promptforge/promptforge/internal/experiments"
	"github.com/promptforge/promptforge/internal/intent"
	"github.com/promptforge/promptforge/internal/policy"
	"github.com/promptforge/promptforge/internal/progress"
	"github.com/promptforge/promptforge/internal/provenance"
	"github.com/promptforge/promptforge/internal/registry"
	"github.com/promptforge/promptforge/internal/scheduler"
	"github.com/promptforge/promptforge/internal/telemetry"
	"github.com/promptforge/promptforge/internal/workflows"
	"github.com/promptforge/promptforge/pkg/contracts"
)

// Server holds the initialized PromptForge control plane.
type Server struct {
	// Handler is the HTTP handler with all routes and middleware.
	Handler http.Handler

	// Registry exposes the loaded categories for embedders.
	Registry *registry.Registry

	// Config is the resolved configuration.
	Config *config.Config

	// Port is the port the server should listen on.
	Port int

	// ShutdownFunc flushes telemetry on graceful shutdown.
	ShutdownFunc func(context.Context) error
}

// New initializes all components from environment configuration.
func New(ctx context.Context) (*Server, error) {
	return NewWithConfig(ctx, config.Load())
}

// logLevel maps the debug flag to the global zerolog level.
func logLevel(debug bool) zerolog.Level {
	if debug {
		return zerolog.DebugLevel
	}
	return zerolog.InfoLevel
}

// NewWithConfig initializes the control plane with an explicit configuration.
func NewWithConfig(ctx context.Context, cfg *config.Config) (*Server, error) {
	zerolog.SetGlobalLevel(logLevel(cfg.Debug))

	shutdown, err := telemetry.Init(cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	// Category registry, with hot reload in debug mode
	reg := registry.New()
	if err := reg.Load(cfg.Paths.CategoriesDir); err != nil {
		return nil, fmt.Errorf("load categories: %w", err)
	}
	if cfg.Debug {
		if err := reg.Watch(ctx, cfg.Paths.CategoriesDir); err != nil {
			log.Warn().Err(err).Msg("category hot reload unavailable")
		} else {
			log.Info().Msg("category hot reload enabled")
		}
	}

	// Workflow registry
	wf := workflows.New()
	if err := wf.Load(cfg.Paths.WorkflowsDir); err != nil {
		return nil, fmt.Errorf("load workflows: %w", err)
	}

	// Intent pipeline; LLM channel only when an endpoint is configured
	var model contracts.IntentModel
	if cfg.LLM.Endpoint != "" {
		model = intent.NewLLMParser(cfg.LLM.Endpoint, cfg.LLM.Model, cfg.LLM.Timeout)
		log.Info().Str("endpoint", cfg.LLM.Endpoint).Str("model", cfg.LLM.Model).Msg("LLM intent parser configured")
	}
	parser := intent.NewHybridParser(reg, model)

	engine := compose.NewEngine(reg, wf)
	enforcer := policy.NewEnforcer()

	// Artifact store: built-in memory store unless an external endpoint is set
	var objectStore contracts.ObjectStore
	var memArtifacts *artifacts.MemoryStore
	publicBase := fmt.Sprintf("http://%s:%d", cfg.API.Host, cfg.API.Port)
	if cfg.ObjectStore.Endpoint == "" {
		memArtifacts = artifacts.NewMemoryStore(publicBase)
		objectStore = memArtifacts
		log.Info().Msg("in-memory artifact store initialized")
	} else {
		// External blob stores plug in via contracts.ObjectStore; none is
		// bundled, so an unrecognized endpoint falls back to memory.
		memArtifacts = artifacts.NewMemoryStore(cfg.ObjectStore.Endpoint)
		objectStore = memArtifacts
		log.Warn().Str("endpoint", cfg.ObjectStore.Endpoint).Msg("external object store not recognized, using memory store")
	}

	// Experiment store: postgres when configured, memory otherwise
	var expStore contracts.ExperimentStore
	if cfg.Experiments.URI != "" {
		pg, err := experiments.NewPostgresStore(ctx, cfg.Experiments.URI)
		if err != nil {
			return nil, fmt.Errorf("experiment store: %w", err)
		}
		expStore = pg
	} else {
		expStore = experiments.NewMemoryStore()
		log.Info().Msg("in-memory experiment store initialized")
	}
	tracker := provenance.New(expStore, reg, cfg.Experiments.ExperimentName)

	// Backend bridge: one client id shared by the executor and the
	// progress hub so the backend routes frames to our proxy.
	client := comfy.NewClient(cfg.Backend.URL())
	clientID := uuid.NewString()
	executor := comfy.NewExecutorWithClientID(client, wf, objectStore, clientID, cfg.Backend.Timeout, cfg.Backend.PollInterval)
	hub := progress.NewHub(cfg.Backend.WebsocketURL(), clientID)

	sched := scheduler.New(parser, engine, enforcer, reg, executor, hub, tracker)

	h := handlers.New(reg, wf, sched, engine, parser, enforcer, tracker, hub, client, memArtifacts, cfg.Version)
	router := api.NewRouter(h)

	log.Info().
		Int("categories", reg.Len()).
		Int("workflows", len(wf.All())).
		Str("backend", cfg.Backend.URL()).
		Msg("control plane initialized")

	return &Server{
		Handler:      router,
		Registry:     reg,
		Config:       cfg,
		Port:         cfg.API.Port,
		ShutdownFunc: shutdown,
	}, nil
}
