package intent

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/promptforge/promptforge/internal/registry"
	"github.com/promptforge/promptforge/pkg/contracts"
	"github.com/promptforge/promptforge/pkg/models"
)

// HybridParser merges the explicit tag channel, the optional LLM channel, and
// the keyword channel into one ranked category set.
type HybridParser struct {
	reg        *registry.Registry
	tags       *TagParser
	classifier *Classifier
	model      contracts.IntentModel
}

// NewHybridParser wires the three channels together. Pass
// contracts.NullIntentModel when no LLM is configured.
func NewHybridParser(reg *registry.Registry, model contracts.IntentModel) *HybridParser {
	if model == nil {
		model = contracts.NullIntentModel{}
	}
	return &HybridParser{
		reg:        reg,
		tags:       NewTagParser(reg),
		classifier: NewClassifier(reg),
		model:      model,
	}
}

// Parse resolves text into explicit and inferred categories.
//
// Explicit @tags are authoritative. The keyword classifier runs on the
// residual text, excluding ids the tags already claimed. When the LLM is
// configured and healthy its categories are unioned in between the two, and
// its subject/style/content_tier annotations are carried through. A later
// channel never overrides a strength or confidence from an earlier one.
func (h *HybridParser) Parse(ctx context.Context, text string, minConfidence float64) models.IntentResult {
	tagResult := h.tags.Parse(text)

	result := models.IntentResult{
		ExplicitStrengths: make(map[string]float64),
		RemainingPrompt:   tagResult.Remaining,
		UnmatchedTags:     tagResult.Unmatched,
		Source:            "keyword",
	}

	seen := make(map[string]bool)
	for _, t := range tagResult.Tags {
		if seen[t.Category] {
			continue
		}
		seen[t.Category] = true
		result.ExplicitCategories = append(result.ExplicitCategories, t.Category)
		result.ExplicitStrengths[t.Category] = t.Strength
	}

	keywordMatches := h.classifier.Classify(tagResult.Remaining, minConfidence)

	// LLM channel: union its categories after the explicit ones, before the
	// keyword ones. Unavailability is a silent fallback.
	var llmIntent *models.ParsedIntent
	if h.model.Healthy(ctx) {
		available := make([]string, 0, h.reg.Len())
		for _, c := range h.reg.All() {
			available = append(available, c.ID)
		}
		parsed, err := h.model.Parse(ctx, text, available)
		if err != nil {
			log.Warn().Err(err).Msg("LLM intent parse failed, falling back to keywords")
		} else {
			llmIntent = parsed
		}
	}

	if llmIntent != nil {
		result.Source = "hybrid"
		result.Subject = llmIntent.Subject
		result.Style = llmIntent.Style
		result.ContentTier = llmIntent.ContentTier
		for _, id := range llmIntent.Categories {
			if seen[id] {
				continue
			}
			seen[id] = true
			result.Inferred = append(result.Inferred, models.InferredCategory{
				ID:         id,
				Confidence: llmConfidence,
			})
		}
	}

	for _, m := range keywordMatches {
		if seen[m.Category] {
			continue
		}
		seen[m.Category] = true
		result.Inferred = append(result.Inferred, models.InferredCategory{
			ID:         m.Category,
			Confidence: m.Confidence,
		})
	}

	return result
}

// llmConfidence is assigned to categories the LLM inferred; the chat API
// gives no calibrated score, so they rank above keyword matches but below
// explicit tags.
const llmConfidence = 0.9
