package provenance

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/promptforge/promptforge/internal/registry"
	"github.com/promptforge/promptforge/pkg/contracts"
	"github.com/promptforge/promptforge/pkg/models"
)

const (
	// DefaultExperimentName groups generation runs when no name is configured.
	DefaultExperimentName = "promptforge-generations"

	// recipeArtifactName is the run artifact holding the full recipe document.
	recipeArtifactName = "recipe.json"

	maxPromptChars   = 250
	maxFeedbackChars = 500
	maxLoggedLoras   = 5
)

// Tracker records generations, ratings, and favorites, and detects category
// definition drift between runs of the same recipe.
type Tracker struct {
	store contracts.ExperimentStore
	reg   *registry.Registry
	name  string

	mu    sync.Mutex
	expID string
}

// New builds a tracker over the experiment store. Pass
// contracts.NullExperimentStore to disable provenance. An empty name falls
// back to DefaultExperimentName.
func New(store contracts.ExperimentStore, reg *registry.Registry, name string) *Tracker {
	if store == nil {
		store = contracts.NullExperimentStore{}
	}
	if name == "" {
		name = DefaultExperimentName
	}
	return &Tracker{store: store, reg: reg, name: name}
}

// experiment resolves the experiment id once and caches it.
func (t *Tracker) experiment(ctx context.Context) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.expID != "" {
		return t.expID, nil
	}
	id, err := t.store.EnsureExperiment(ctx, t.name)
	if err != nil {
		return "", fmt.Errorf("ensure experiment: %w", err)
	}
	t.expID = id
	return id, nil
}

// Record logs one finished generation: hash triple, truncated prompts, LoRA
// pairs, metrics, and the recipe document as a run artifact. It returns the
// run id.
func (t *Tracker) Record(ctx context.Context, rec *models.Recipe, res *models.GenerationResult) (string, error) {
	expID, err := t.experiment(ctx)
	if err != nil {
		return "", err
	}

	recipeHash := RecipeHash(rec)
	categoryHash := CategoryHash(t.resolve(rec.SourceCategories))
	combined := CombinedHash(recipeHash, categoryHash)

	run, err := t.store.CreateRun(ctx, expID, "generation-"+rec.ID)
	if err != nil {
		return "", fmt.Errorf("create run: %w", err)
	}

	params := map[string]string{
		"workflow":        rec.Workflow,
		"steps":           strconv.Itoa(rec.Steps),
		"cfg":             strconv.FormatFloat(rec.CFG, 'f', -1, 64),
		"width":           strconv.Itoa(rec.Width),
		"height":          strconv.Itoa(rec.Height),
		"checkpoint":      "default",
		"lora_count":      strconv.Itoa(len(rec.Loras)),
		"category_count":  strconv.Itoa(len(rec.SourceCategories)),
		"positive_prompt": truncate(rec.PositivePrompt, maxPromptChars),
		"negative_prompt": truncate(rec.NegativePrompt, maxPromptChars),
	}
	if rec.Checkpoint != nil {
		params["checkpoint"] = *rec.Checkpoint
	}
	for i, l := range rec.Loras {
		if i >= maxLoggedLoras {
			break
		}
		params[fmt.Sprintf("lora_%d", i)] = fmt.Sprintf("%s:%.2f", l.Filename, l.Strength)
	}

	metrics := map[string]float64{}
	tags := map[string]string{
		"recipe_hash":   recipeHash,
		"category_hash": categoryHash,
		"combined_hash": combined,
		"recipe_id":     rec.ID,
	}
	for i, id := range rec.SourceCategories {
		tags[fmt.Sprintf("category_%d", i)] = id
	}
	if res != nil {
		metrics["elapsed_seconds"] = res.Elapsed
		if res.ArtifactURL != "" {
			tags["artifact_url"] = res.ArtifactURL
		}
		if res.PromptID != "" {
			tags["generation_id"] = res.PromptID
		}
	}

	if err := t.store.LogRun(ctx, run.ID, params, metrics, tags); err != nil {
		return "", fmt.Errorf("log run: %w", err)
	}

	doc, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("marshal recipe: %w", err)
	}
	if err := t.store.AttachArtifact(ctx, run.ID, recipeArtifactName, doc); err != nil {
		log.Warn().Err(err).Str("run_id", run.ID).Msg("recipe artifact attach failed")
	}

	log.Debug().
		Str("run_id", run.ID).
		Str("recipe_hash", recipeHash).
		Str("combined_hash", combined).
		Msg("generation recorded")
	return run.ID, nil
}

// Rate attaches a 1-5 rating and optional feedback to a run.
func (t *Tracker) Rate(ctx context.Context, runID string, rating int, feedback string) error {
	if rating < 1 || rating > 5 {
		return fmt.Errorf("rating %d outside [1, 5]", rating)
	}
	tags := map[string]string{}
	if feedback != "" {
		tags["feedback"] = truncate(feedback, maxFeedbackChars)
	}
	return t.store.LogRun(ctx, runID, nil, map[string]float64{"rating": float64(rating)}, tags)
}

// Favorite flags a run for the UI.
func (t *Tracker) Favorite(ctx context.Context, runID string) error {
	return t.store.LogRun(ctx, runID, nil, nil, map[string]string{"favorite": "true"})
}

// Recipe returns the recipe document recorded with a run.
func (t *Tracker) Recipe(ctx context.Context, runID string) (*models.Recipe, error) {
	data, err := t.store.GetArtifact(ctx, runID, recipeArtifactName)
	if err != nil {
		return nil, fmt.Errorf("fetch recipe artifact: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("run %s has no recipe artifact", runID)
	}
	var rec models.Recipe
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode recipe artifact: %w", err)
	}
	return &rec, nil
}

// TopRated returns the best-rated runs, newest first. A non-empty category
// keeps only runs whose source categories contain it as a substring.
func (t *Tracker) TopRated(ctx context.Context, minRating, limit int, category string) ([]contracts.Run, error) {
	expID, err := t.experiment(ctx)
	if err != nil {
		return nil, err
	}
	return t.store.SearchRuns(ctx, expID, contracts.RunFilter{
		MinMetric: "rating",
		MinValue:  float64(minRating),
		Category:  category,
		Limit:     limit,
	})
}

// DriftCheck reports whether the category definitions behind a recipe have
// changed since it last ran. No prior run with the same recipe hash means no
// drift.
func (t *Tracker) DriftCheck(ctx context.Context, rec *models.Recipe) (*models.DriftReport, error) {
	expID, err := t.experiment(ctx)
	if err != nil {
		return nil, err
	}

	recipeHash := RecipeHash(rec)
	current := CategoryHash(t.resolve(rec.SourceCategories))
	report := &models.DriftReport{RecipeHash: recipeHash, CurrentHash: current}

	runs, err := t.store.SearchRuns(ctx, expID, contracts.RunFilter{
		Tags:  map[string]string{"recipe_hash": recipeHash},
		Limit: 1,
	})
	if err != nil {
		return nil, fmt.Errorf("search prior runs: %w", err)
	}
	if len(runs) == 0 {
		return report, nil
	}

	prior := runs[0]
	report.PriorHash = prior.Tags["category_hash"]
	report.PriorRunID = prior.ID
	report.Drifted = report.PriorHash != "" && report.PriorHash != current
	return report, nil
}

func (t *Tracker) resolve(ids []string) []*models.Category {
	cats := make([]*models.Category, 0, len(ids))
	for _, id := range ids {
		if c := t.reg.Get(id); c != nil {
			cats = append(cats, c)
		}
	}
	return cats
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
