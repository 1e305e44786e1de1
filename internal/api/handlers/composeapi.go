package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"

	"github.com/promptforge/promptforge/internal/compose"
	"github.com/promptforge/promptforge/pkg/models"
)

// maxSuggestionDistance is the levenshtein cutoff for "did you mean".
const maxSuggestionDistance = 3

// ComposeRecipe turns freeform text into a recipe with a step-by-step
// explanation. dry_run returns the explanation without the recipe.
func (h *Handlers) ComposeRecipe(w http.ResponseWriter, r *http.Request) {
	var req models.ComposeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		respondError(w, http.StatusBadRequest, "text is required")
		return
	}

	result := h.Parser.Parse(r.Context(), req.Text, req.MinConfidence)

	ids := append([]string(nil), result.ExplicitCategories...)
	for _, inf := range result.Inferred {
		if req.MaxCategories > 0 && len(ids) >= req.MaxCategories {
			break
		}
		ids = append(ids, inf.ID)
	}

	explanation := models.ComposeExplanation{
		ExplicitTags:    result.ExplicitCategories,
		Inferred:        result.Inferred,
		RemainingPrompt: result.RemainingPrompt,
		FinalCategories: ids,
		Suggestions:     h.suggest(result.UnmatchedTags),
	}

	if len(ids) == 0 {
		explanation.Summary = fmt.Sprintf("no categories matched %q", req.Text)
		respondJSON(w, http.StatusUnprocessableEntity, models.ComposeResponse{Explanation: explanation})
		return
	}

	cats := make([]*models.Category, 0, len(ids))
	for _, id := range ids {
		if c := h.Registry.Get(id); c != nil {
			cats = append(cats, c)
		}
	}
	decision := h.Enforcer.Check(cats, req.PolicyTier)
	if !decision.Allowed {
		respondError(w, http.StatusForbidden, decision.Violations[0].Error())
		return
	}

	rec, err := h.Engine.Compose(ids)
	if err != nil {
		h.respondComposeError(w, err, explanation)
		return
	}

	explanation.Summary = fmt.Sprintf("composed %d categories into recipe %s via %s parsing",
		len(rec.SourceCategories), rec.ID, result.Source)
	explanation.Steps = rec.CompositionSteps
	explanation.Warnings = rec.Warnings

	resp := models.ComposeResponse{Explanation: explanation}
	if !req.DryRun {
		resp.Recipe = rec
	}
	respondJSON(w, http.StatusOK, resp)
}

// respondComposeError maps a composition failure to a status code and, for
// unknown categories, attaches near-miss suggestions.
func (h *Handlers) respondComposeError(w http.ResponseWriter, err error, explanation models.ComposeExplanation) {
	var cerr *compose.Error
	if !errors.As(err, &cerr) {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	status := http.StatusUnprocessableEntity
	if cerr.Kind == compose.ErrEmptyInput {
		status = http.StatusBadRequest
	}
	if cerr.Kind == compose.ErrUnknownCategory {
		explanation.Suggestions = append(explanation.Suggestions, h.suggest([]string{cerr.Category})...)
	}

	explanation.Summary = cerr.Message
	respondJSON(w, status, map[string]interface{}{
		"error":       cerr.Message,
		"kind":        cerr.Kind,
		"category":    cerr.Category,
		"related":     cerr.Related,
		"explanation": explanation,
	})
}

// suggest returns close category ids for each unresolved name, nearest
// first, capped at three per name.
func (h *Handlers) suggest(unmatched []string) []string {
	if len(unmatched) == 0 {
		return nil
	}

	type candidate struct {
		id   string
		dist int
	}
	var out []string
	seen := make(map[string]bool)
	for _, raw := range unmatched {
		name := strings.ToLower(raw)
		var near []candidate
		for _, c := range h.Registry.All() {
			d := levenshtein.ComputeDistance(name, c.ID)
			if d <= maxSuggestionDistance {
				near = append(near, candidate{id: c.ID, dist: d})
			}
		}
		sort.Slice(near, func(i, j int) bool {
			if near[i].dist != near[j].dist {
				return near[i].dist < near[j].dist
			}
			return near[i].id < near[j].id
		})
		for i, c := range near {
			if i >= 3 {
				break
			}
			if !seen[c.id] {
				seen[c.id] = true
				out = append(out, c.id)
			}
		}
	}
	return out
}
