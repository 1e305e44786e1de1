// Package compose builds deterministic generation recipes from ordered
// category lists: it validates composition rules, merges prompt fragments,
// stacks LoRA modifiers, merges settings with defined precedence, selects a
// workflow, and emits a structured provenance trail.
package compose

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/promptforge/promptforge/internal/registry"
	"github.com/promptforge/promptforge/internal/workflows"
	"github.com/promptforge/promptforge/pkg/models"
)

// DefaultWorkflow is used when no composed category prefers a workflow.
const DefaultWorkflow = "flux-dev.json"

// Default generation settings before any category overrides.
const (
	defaultSteps  = 30
	defaultCFG    = 7.5
	defaultWidth  = 1024
	defaultHeight = 1024
)

// Engine composes recipes against a category registry and a workflow
// registry. Composition is deterministic given the same ordered id list and
// registry snapshots.
type Engine struct {
	reg             *registry.Registry
	wf              *workflows.Registry
	defaultWorkflow string
}

// NewEngine creates a composition engine. The workflow registry may be nil,
// in which case recipes skip manifest validation warnings.
func NewEngine(reg *registry.Registry, wf *workflows.Registry) *Engine {
	return &Engine{reg: reg, wf: wf, defaultWorkflow: DefaultWorkflow}
}

// Compose builds a recipe from the ordered category id list. It either
// returns a fully valid recipe or a single *Error; partial success is not
// permitted.
func (e *Engine) Compose(ids []string) (*models.Recipe, error) {
	if len(ids) == 0 {
		return nil, errEmpty()
	}

	cats, err := e.resolve(ids)
	if err != nil {
		return nil, err
	}
	if err := validateRules(cats); err != nil {
		return nil, err
	}

	rec := &models.Recipe{
		SourceCategories: append([]string(nil), ids...),
		Steps:            defaultSteps,
		CFG:              defaultCFG,
		Width:            defaultWidth,
		Height:           defaultHeight,
	}

	for _, c := range cats {
		rec.CompositionSteps = append(rec.CompositionSteps, models.CompositionStep{
			Action: models.StepAddCategory,
			Source: c.ID,
			Detail: fmt.Sprintf("%s (%s)", c.DisplayName, c.Type),
		})
	}

	e.mergePrompts(rec, cats)
	e.stackLoras(rec, cats)
	e.mergeSettings(rec, cats)
	e.selectWorkflow(rec, cats)

	rec.ID = RecipeID(rec.SourceCategories)

	if e.wf != nil {
		if m := e.wf.Get(rec.Workflow); m != nil {
			for _, msg := range workflows.ValidateRecipe(rec, m) {
				rec.Warnings = append(rec.Warnings, msg)
			}
		}
	}

	log.Debug().
		Str("recipe", rec.ID).
		Strs("categories", ids).
		Str("workflow", rec.Workflow).
		Int("loras", len(rec.Loras)).
		Msg("Recipe composed")
	return rec, nil
}

// resolve looks up every id; any miss fails the whole composition.
func (e *Engine) resolve(ids []string) ([]*models.Category, error) {
	cats := make([]*models.Category, 0, len(ids))
	for _, id := range ids {
		c := e.reg.Get(id)
		if c == nil {
			return nil, errUnknown(id)
		}
		cats = append(cats, c)
	}
	return cats, nil
}

// validateRules enforces conflicts_with, requires, and per-type caps over the
// full list before anything is merged.
func validateRules(cats []*models.Category) error {
	present := make(map[string]bool, len(cats))
	typeCount := make(map[models.CategoryType]int)
	for _, c := range cats {
		present[c.ID] = true
		typeCount[c.Type]++
	}

	for _, c := range cats {
		var conflicting []string
		for _, other := range c.Composition.ConflictsWith {
			if present[other] {
				conflicting = append(conflicting, other)
			}
		}
		if len(conflicting) > 0 {
			return errConflict(c.ID, conflicting)
		}

		var missing []string
		for _, req := range c.Composition.Requires {
			if !present[req] {
				missing = append(missing, req)
			}
		}
		if len(missing) > 0 {
			return errMissingRequires(c.ID, missing)
		}

		if cap := c.Composition.MaxPerType; cap != nil && typeCount[c.Type] > *cap {
			return errTypeCap(c.ID, string(c.Type), *cap, typeCount[c.Type])
		}
	}
	return nil
}

// mergePrompts appends required fragments first, then optional ones, each
// pass deduplicating case-insensitively, and joins with ", ".
func (e *Engine) mergePrompts(rec *models.Recipe, cats []*models.Category) {
	var positive, negative []string
	seenPos := make(map[string]bool)
	seenNeg := make(map[string]bool)

	appendFrags := func(dst *[]string, seen map[string]bool, frags []string) {
		for _, f := range frags {
			f = strings.TrimSpace(f)
			if f == "" {
				continue
			}
			key := strings.ToLower(f)
			if seen[key] {
				continue
			}
			seen[key] = true
			*dst = append(*dst, f)
		}
	}

	for _, c := range cats {
		appendFrags(&positive, seenPos, c.Prompts.Positive.Required)
	}
	for _, c := range cats {
		appendFrags(&negative, seenNeg, c.Prompts.Negative.Required)
	}
	for _, c := range cats {
		appendFrags(&positive, seenPos, c.Prompts.Positive.Optional)
	}
	for _, c := range cats {
		appendFrags(&negative, seenNeg, c.Prompts.Negative.Optional)
	}

	rec.PositivePrompt = strings.Join(positive, ", ")
	rec.NegativePrompt = strings.Join(negative, ", ")
	rec.CompositionSteps = append(rec.CompositionSteps, models.CompositionStep{
		Action: models.StepMergePrompts,
		Source: "composer",
		Detail: fmt.Sprintf("%d positive, %d negative fragments", len(positive), len(negative)),
	})
}

// stackLoras deduplicates LoRA entries by filename. A repeated filename folds
// into the existing entry: the strength becomes a running mean over all
// sources, trigger words union preserving first occurrence, and a warning is
// recorded.
func (e *Engine) stackLoras(rec *models.Recipe, cats []*models.Category) {
	index := make(map[string]int) // filename → position in rec.Loras

	stackOne := func(c *models.Category, ref models.LoraRef) {
		if i, ok := index[ref.Filename]; ok {
			entry := &rec.Loras[i]
			n := float64(len(entry.SourceCategories) + 1)
			entry.Strength = (entry.Strength*(n-1) + ref.Strength) / n
			entry.SourceCategories = append(entry.SourceCategories, c.ID)
			entry.TriggerWords = unionStrings(entry.TriggerWords, ref.TriggerWords)

			warning := fmt.Sprintf("lora %s requested by multiple categories, strength averaged to %.3f", ref.Filename, entry.Strength)
			rec.Warnings = append(rec.Warnings, warning)
			rec.CompositionSteps = append(rec.CompositionSteps, models.CompositionStep{
				Action: models.StepResolveConflict,
				Source: c.ID,
				Detail: warning,
			})
			return
		}

		index[ref.Filename] = len(rec.Loras)
		rec.Loras = append(rec.Loras, models.RecipeLora{
			Filename:         ref.Filename,
			Strength:         ref.Strength,
			SourceCategories: []string{c.ID},
			TriggerWords:     append([]string(nil), ref.TriggerWords...),
		})
		rec.CompositionSteps = append(rec.CompositionSteps, models.CompositionStep{
			Action: models.StepStackLora,
			Source: c.ID,
			Detail: fmt.Sprintf("%s @ %.2f", ref.Filename, ref.Strength),
		})
	}

	for _, c := range cats {
		for _, ref := range c.Loras.Required {
			stackOne(c, ref)
		}
		for _, ref := range c.Loras.Recommended {
			stackOne(c, ref)
		}
	}
}

// mergeSettings walks categories in order; every explicit value overrides the
// running value. Ranged settings resolve to their default, or the midpoint
// when only bounds are present.
func (e *Engine) mergeSettings(rec *models.Recipe, cats []*models.Category) {
	for _, c := range cats {
		s := c.Settings
		if s == nil {
			continue
		}
		if v := s.Steps.Resolve(); v != nil {
			rec.Steps = *v
		}
		if v := s.CFG.Resolve(); v != nil {
			rec.CFG = *v
		}
		if s.Width != nil {
			rec.Width = *s.Width
		}
		if s.Height != nil {
			rec.Height = *s.Height
		}
		if s.Sampler != nil {
			rec.Sampler = s.Sampler
		}
		if s.Scheduler != nil {
			rec.Scheduler = s.Scheduler
		}
		if v := s.Denoise.Resolve(); v != nil {
			rec.Denoise = v
		}
		if s.Checkpoint != nil {
			rec.Checkpoint = s.Checkpoint
		}
		if s.VAE != nil {
			rec.VAE = s.VAE
		}
	}

	rec.CompositionSteps = append(rec.CompositionSteps, models.CompositionStep{
		Action: models.StepApplySettings,
		Source: "composer",
		Detail: fmt.Sprintf("steps=%d cfg=%.1f size=%dx%d", rec.Steps, rec.CFG, rec.Width, rec.Height),
	})
}

// selectWorkflow prefers the first preferred workflow of a subject-typed
// category, then of any category, then the configured default.
func (e *Engine) selectWorkflow(rec *models.Recipe, cats []*models.Category) {
	source := "default"
	workflow := e.defaultWorkflow

	pick := func(match func(*models.Category) bool) bool {
		for _, c := range cats {
			if match(c) && len(c.Workflows.Preferred) > 0 {
				workflow = c.Workflows.Preferred[0]
				source = c.ID
				return true
			}
		}
		return false
	}

	if !pick(func(c *models.Category) bool { return c.Type == models.CategorySubject }) {
		pick(func(c *models.Category) bool { return true })
	}

	rec.Workflow = workflow
	rec.CompositionSteps = append(rec.CompositionSteps, models.CompositionStep{
		Action: models.StepSelectWorkflow,
		Source: source,
		Detail: workflow,
	})
}

func unionStrings(a, b []string) []string {
	seen := make(map[string]bool, len(a))
	out := append([]string(nil), a...)
	for _, s := range a {
		seen[s] = true
	}
	for _, s := range b {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
