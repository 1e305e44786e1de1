// Package provenance computes deterministic recipe and category hashes and
// records every generation against the experiment store, so a result can be
// traced back to the exact recipe and category definitions that produced it.
package provenance

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/promptforge/promptforge/pkg/models"
)

// hashLen is the truncated hex length used for every provenance hash.
const hashLen = 16

func digest(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:hashLen]
}

// RecipeHash hashes the canonical content of a recipe: source categories
// sorted, LoRAs sorted by filename, both prompts, the numeric settings, and
// the workflow name. Composition steps and warnings are provenance, not
// content, and are excluded.
func RecipeHash(rec *models.Recipe) string {
	var b strings.Builder

	cats := append([]string(nil), rec.SourceCategories...)
	sort.Strings(cats)
	b.WriteString("categories=" + strings.Join(cats, ",") + "\n")

	loras := append([]models.RecipeLora(nil), rec.Loras...)
	sort.Slice(loras, func(i, j int) bool { return loras[i].Filename < loras[j].Filename })
	for _, l := range loras {
		fmt.Fprintf(&b, "lora=%s:%.4f\n", l.Filename, l.Strength)
	}

	b.WriteString("positive=" + rec.PositivePrompt + "\n")
	b.WriteString("negative=" + rec.NegativePrompt + "\n")
	fmt.Fprintf(&b, "steps=%d cfg=%.4f width=%d height=%d\n", rec.Steps, rec.CFG, rec.Width, rec.Height)
	if rec.Sampler != nil {
		b.WriteString("sampler=" + *rec.Sampler + "\n")
	}
	if rec.Scheduler != nil {
		b.WriteString("scheduler=" + *rec.Scheduler + "\n")
	}
	if rec.Denoise != nil {
		fmt.Fprintf(&b, "denoise=%.4f\n", *rec.Denoise)
	}
	if rec.Checkpoint != nil {
		b.WriteString("checkpoint=" + *rec.Checkpoint + "\n")
	}
	if rec.VAE != nil {
		b.WriteString("vae=" + *rec.VAE + "\n")
	}
	b.WriteString("workflow=" + rec.Workflow + "\n")

	return digest(b.String())
}

// CategoryHash hashes the keyword, prompt, and LoRA blocks of the referenced
// category definitions, sorted by id. It changes when any referenced
// definition changes, which is the drift signal.
func CategoryHash(cats []*models.Category) string {
	sorted := append([]*models.Category(nil), cats...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	var b strings.Builder
	for _, c := range sorted {
		b.WriteString("id=" + c.ID + "\n")
		writeWords(&b, "kw_primary", c.Keywords.Primary)
		writeWords(&b, "kw_specific", c.Keywords.Specific)
		writeWords(&b, "kw_secondary", c.Keywords.Secondary)
		writeWords(&b, "pos_required", c.Prompts.Positive.Required)
		writeWords(&b, "pos_optional", c.Prompts.Positive.Optional)
		writeWords(&b, "neg_required", c.Prompts.Negative.Required)
		writeWords(&b, "neg_optional", c.Prompts.Negative.Optional)
		for _, l := range c.Loras.Required {
			fmt.Fprintf(&b, "lora_required=%s:%.4f\n", l.Filename, l.Strength)
		}
		for _, l := range c.Loras.Recommended {
			fmt.Fprintf(&b, "lora_recommended=%s:%.4f\n", l.Filename, l.Strength)
		}
	}
	return digest(b.String())
}

func writeWords(b *strings.Builder, label string, words []string) {
	if len(words) == 0 {
		return
	}
	b.WriteString(label + "=" + strings.Join(words, "|") + "\n")
}

// CombinedHash binds a recipe hash to the category definitions it was built
// from.
func CombinedHash(recipeHash, categoryHash string) string {
	return digest(recipeHash + ":" + categoryHash)
}
