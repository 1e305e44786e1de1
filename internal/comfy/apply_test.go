package comfy

import (
	"testing"

	"github.com/promptforge/promptforge/internal/workflows"
	"github.com/promptforge/promptforge/pkg/models"
)

func strPtr(s string) *string   { return &s }
func f64Ptr(v float64) *float64 { return &v }

func sampleDoc() workflows.Doc {
	pos := &workflows.Node{ClassType: "CLIPTextEncode", Inputs: map[string]interface{}{"text": ""}}
	pos.Meta.Title = "Positive Prompt"
	neg := &workflows.Node{ClassType: "CLIPTextEncode", Inputs: map[string]interface{}{"text": ""}}
	neg.Meta.Title = "Negative Prompt"
	return workflows.Doc{
		"1": pos,
		"2": neg,
		"3": {ClassType: "KSampler", Inputs: map[string]interface{}{"seed": 0, "steps": 30, "cfg": 8.0, "denoise": 1.0}},
		"4": {ClassType: "EmptyLatentImage", Inputs: map[string]interface{}{"width": 512, "height": 512}},
		"5": {ClassType: "VAEDecode", Inputs: map[string]interface{}{}},
	}
}

func TestApplyRecipe(t *testing.T) {
	doc := sampleDoc()
	rec := &models.Recipe{
		PositivePrompt: "neon streets",
		NegativePrompt: "blurry",
		Steps:          22,
		CFG:            6.5,
		Width:          1024,
		Height:         768,
		Sampler:        strPtr("euler"),
		Scheduler:      strPtr("karras"),
	}
	ApplyRecipe(doc, rec, 42)

	if got := doc["1"].Inputs["text"]; got != "neon streets" {
		t.Errorf("positive text = %v", got)
	}
	if got := doc["2"].Inputs["text"]; got != "blurry" {
		t.Errorf("negative text = %v", got)
	}
	sampler := doc["3"].Inputs
	if sampler["seed"] != int64(42) || sampler["steps"] != 22 || sampler["cfg"] != 6.5 {
		t.Errorf("sampler inputs = %v", sampler)
	}
	if sampler["sampler_name"] != "euler" || sampler["scheduler"] != "karras" {
		t.Errorf("sampler name inputs = %v", sampler)
	}
	if sampler["denoise"] != 1.0 {
		t.Errorf("denoise = %v, want template value untouched", sampler["denoise"])
	}
	if doc["4"].Inputs["width"] != 1024 || doc["4"].Inputs["height"] != 768 {
		t.Errorf("latent inputs = %v", doc["4"].Inputs)
	}
}

func TestApplyRecipeNegativeSeedKeepsTemplateSeed(t *testing.T) {
	doc := sampleDoc()
	ApplyRecipe(doc, &models.Recipe{Steps: 20, CFG: 7}, -1)
	if got := doc["3"].Inputs["seed"]; got != 0 {
		t.Errorf("seed = %v, want template value", got)
	}
}

func TestApplyRecipeDenoiseBelowOne(t *testing.T) {
	doc := sampleDoc()
	ApplyRecipe(doc, &models.Recipe{Steps: 20, CFG: 7, Denoise: f64Ptr(0.6)}, -1)
	if got := doc["3"].Inputs["denoise"]; got != 0.6 {
		t.Errorf("denoise = %v, want 0.6", got)
	}
}
