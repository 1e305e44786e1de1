package comfy

import (
	"strings"

	"github.com/promptforge/promptforge/internal/workflows"
	"github.com/promptforge/promptforge/pkg/models"
)

// ApplyRecipe patches a workflow document in place with the recipe's values.
// Nodes are matched by class type; unknown class types are left untouched.
//
//   - CLIP text encoders: a node whose title contains "neg" receives the
//     negative prompt, every other encoder the positive prompt.
//   - Samplers: seed (when non-negative), steps, cfg, sampler, scheduler,
//     and denoise (only when below 1.0).
//   - Empty latents: width and height.
func ApplyRecipe(doc workflows.Doc, rec *models.Recipe, seed int64) {
	for _, node := range doc {
		class := node.ClassType
		switch {
		case strings.Contains(class, "CLIPTextEncode"):
			applyPrompt(node, rec)
		case strings.Contains(class, "KSampler"), strings.Contains(class, "SamplerCustom"):
			applySampler(node, rec, seed)
		case strings.Contains(class, "EmptyLatent"), strings.Contains(class, "EmptySD3Latent"):
			node.Inputs["width"] = rec.Width
			node.Inputs["height"] = rec.Height
		}
	}
}

func applyPrompt(node *workflows.Node, rec *models.Recipe) {
	if strings.Contains(strings.ToLower(node.Meta.Title), "neg") {
		node.Inputs["text"] = rec.NegativePrompt
	} else {
		node.Inputs["text"] = rec.PositivePrompt
	}
}

func applySampler(node *workflows.Node, rec *models.Recipe, seed int64) {
	if seed >= 0 {
		node.Inputs["seed"] = seed
	}
	node.Inputs["steps"] = rec.Steps
	node.Inputs["cfg"] = rec.CFG
	if rec.Sampler != nil {
		node.Inputs["sampler_name"] = *rec.Sampler
	}
	if rec.Scheduler != nil {
		node.Inputs["scheduler"] = *rec.Scheduler
	}
	if rec.Denoise != nil && *rec.Denoise < 1.0 {
		node.Inputs["denoise"] = *rec.Denoise
	}
}
