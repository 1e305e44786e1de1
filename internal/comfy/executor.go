package comfy

import (
	"context"
	"fmt"
	"mime"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/promptforge/promptforge/internal/workflows"
	"github.com/promptforge/promptforge/pkg/contracts"
	"github.com/promptforge/promptforge/pkg/models"
)

// Executor runs the full generation pipeline: load the workflow template,
// apply the recipe, submit, await completion, fetch the first artifact, and
// persist it to the object store.
type Executor struct {
	client   *Client
	wf       *workflows.Registry
	store    contracts.ObjectStore
	clientID string

	timeout      time.Duration
	pollInterval time.Duration
}

// NewExecutor wires the pipeline. One executor serves all jobs; the client
// id identifies this control plane on the backend's websocket.
func NewExecutor(client *Client, wf *workflows.Registry, store contracts.ObjectStore, timeout, pollInterval time.Duration) *Executor {
	if store == nil {
		store = contracts.NullObjectStore{}
	}
	return &Executor{
		client:       client,
		wf:           wf,
		store:        store,
		clientID:     uuid.NewString(),
		timeout:      timeout,
		pollInterval: pollInterval,
	}
}

// NewExecutorWithClientID wires the pipeline with an explicit client id so
// the progress hub can share it.
func NewExecutorWithClientID(client *Client, wf *workflows.Registry, store contracts.ObjectStore, clientID string, timeout, pollInterval time.Duration) *Executor {
	e := NewExecutor(client, wf, store, timeout, pollInterval)
	if clientID != "" {
		e.clientID = clientID
	}
	return e
}

// Client returns the underlying backend client.
func (e *Executor) Client() *Client { return e.client }

// ClientID returns the websocket client id this executor submits under.
func (e *Executor) ClientID() string { return e.clientID }

// Execute runs one generation. onSubmit is invoked with the backend prompt
// id as soon as submission succeeds, before awaiting, so the caller can
// attach the progress proxy.
func (e *Executor) Execute(ctx context.Context, rec *models.Recipe, seed int64, onSubmit func(promptID string)) (*models.GenerationResult, error) {
	doc, err := e.wf.Template(rec.Workflow)
	if err != nil {
		return nil, fmt.Errorf("load workflow: %w", err)
	}
	ApplyRecipe(doc, rec, seed)

	promptID, err := e.client.Submit(ctx, doc, e.clientID)
	if err != nil {
		return nil, fmt.Errorf("submit workflow: %w", err)
	}
	log.Info().Str("prompt_id", promptID).Str("recipe", rec.ID).Str("workflow", rec.Workflow).Msg("Workflow submitted")

	if onSubmit != nil {
		onSubmit(promptID)
	}

	images, elapsed, err := e.client.AwaitCompletion(ctx, promptID, e.timeout, e.pollInterval)
	if err != nil {
		return nil, err
	}

	first := images[0]
	data, err := e.client.FetchArtifact(ctx, first)
	if err != nil {
		return nil, fmt.Errorf("fetch artifact: %w", err)
	}

	name := fmt.Sprintf("%s/%s", rec.ID, first.Filename)
	contentType := mime.TypeByExtension(filepath.Ext(first.Filename))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	artifactURL, err := e.store.Put(ctx, name, contentType, data)
	if err != nil {
		return nil, fmt.Errorf("persist artifact: %w", err)
	}

	log.Info().
		Str("prompt_id", promptID).
		Str("artifact", first.Filename).
		Float64("elapsed_s", elapsed).
		Msg("Generation complete")

	return &models.GenerationResult{
		ArtifactURL: artifactURL,
		Filename:    first.Filename,
		PromptID:    promptID,
		Elapsed:     elapsed,
	}, nil
}
