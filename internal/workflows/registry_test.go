package workflows

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/promptforge/promptforge/pkg/models"
)

const fluxTemplate = `{
  "1": {"class_type": "CheckpointLoaderSimple", "inputs": {"ckpt_name": "flux-dev.safetensors"}},
  "2": {"class_type": "LoraLoader", "inputs": {"lora_name": "", "strength_model": 1.0}},
  "3": {"class_type": "LoraLoaderModelOnly", "inputs": {"lora_name": ""}},
  "4": {"class_type": "KSampler", "inputs": {"steps": 20, "cfg": 7.0}},
  "5": {"class_type": "ControlNetApply", "inputs": {}},
  "6": {"class_type": "VAEEncode", "inputs": {}}
}`

func writeWorkflow(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadSynthesizesManifest(t *testing.T) {
	dir := t.TempDir()
	writeWorkflow(t, dir, "flux-dev.json", fluxTemplate)

	r := New()
	if err := r.Load(dir); err != nil {
		t.Fatalf("Load: %v", err)
	}

	m := r.Get("flux-dev.json")
	if m == nil {
		t.Fatal("manifest missing")
	}
	if !m.Synthesized {
		t.Error("manifest should be marked synthesized")
	}
	if !m.Capabilities.ControlNet {
		t.Error("ControlNetApply node should set the controlnet capability")
	}
	if !m.Capabilities.Img2Img {
		t.Error("VAEEncode node should set the img2img capability")
	}
	if m.Capabilities.Video {
		t.Error("video capability set without a video node")
	}
	if got := m.Loras.MaxLoras; got != 2 {
		t.Errorf("MaxLoras = %d, want 2 (counted loaders)", got)
	}
	if !m.Loras.SupportsClipLora {
		t.Error("plain LoraLoader should enable clip lora support")
	}
	if got := m.Checkpoints.RequiredType; got != "flux" {
		t.Errorf("checkpoint type = %q, want flux", got)
	}
}

func TestLoadSidecarIsAuthoritative(t *testing.T) {
	dir := t.TempDir()
	writeWorkflow(t, dir, "flux-dev.json", fluxTemplate)
	writeWorkflow(t, dir, "flux-dev.manifest.yaml", `
description: Flux text-to-image
capabilities:
  video: true
loras:
  max_loras: 1
resolution:
  max_width: 1536
  max_height: 1536
`)

	r := New()
	if err := r.Load(dir); err != nil {
		t.Fatal(err)
	}

	m := r.Get("flux-dev.json")
	if m.Synthesized {
		t.Error("sidecar-backed manifest must not be marked synthesized")
	}
	if !m.Capabilities.Video {
		t.Error("sidecar capability lost")
	}
	if m.Capabilities.ControlNet {
		t.Error("sidecar values are authoritative, nodes must not be scanned")
	}
	if got := m.Loras.MaxLoras; got != 1 {
		t.Errorf("MaxLoras = %d, want 1 from sidecar", got)
	}
	if got := m.Name; got != "flux-dev.json" {
		t.Errorf("Name = %q, want the template filename", got)
	}
}

func TestLoadBadSidecarFallsBackToSynthesis(t *testing.T) {
	dir := t.TempDir()
	writeWorkflow(t, dir, "flux-dev.json", fluxTemplate)
	writeWorkflow(t, dir, "flux-dev.manifest.yaml", "capabilities: [broken\n")

	r := New()
	if err := r.Load(dir); err != nil {
		t.Fatal(err)
	}
	m := r.Get("flux-dev.json")
	if m == nil || !m.Synthesized {
		t.Fatal("bad sidecar should fall back to a synthesized manifest")
	}
}

func TestLoadSkipsBrokenTemplates(t *testing.T) {
	dir := t.TempDir()
	writeWorkflow(t, dir, "good.json", `{"1": {"class_type": "KSampler", "inputs": {}}}`)
	writeWorkflow(t, dir, "bad.json", "{not json")
	writeWorkflow(t, dir, "notes.txt", "ignore me")

	r := New()
	if err := r.Load(dir); err != nil {
		t.Fatal(err)
	}
	if got := len(r.All()); got != 1 {
		t.Fatalf("loaded %d workflows, want 1", got)
	}
	if r.Get("bad.json") != nil {
		t.Error("broken template should be skipped")
	}
}

func TestLoadMissingDirIsEmpty(t *testing.T) {
	r := New()
	if err := r.Load(filepath.Join(t.TempDir(), "nope")); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := len(r.All()); got != 0 {
		t.Errorf("workflows = %d, want 0", got)
	}
}

func TestFilter(t *testing.T) {
	dir := t.TempDir()
	writeWorkflow(t, dir, "plain.json", `{"1": {"class_type": "KSampler", "inputs": {}}}`)
	writeWorkflow(t, dir, "video.json", `{"1": {"class_type": "SVD_VideoLinearCFGGuidance", "inputs": {}}}`)

	r := New()
	if err := r.Load(dir); err != nil {
		t.Fatal(err)
	}

	got := r.Filter(models.ManifestCapabilities{Video: true})
	if len(got) != 1 || got[0].Name != "video.json" {
		t.Fatalf("Filter(video) = %v", names(got))
	}
	if all := r.Filter(models.ManifestCapabilities{}); len(all) != 2 {
		t.Errorf("empty filter should match everything, got %d", len(all))
	}
}

func names(ms []*models.WorkflowManifest) []string {
	out := make([]string, len(ms))
	for i, m := range ms {
		out[i] = m.Name
	}
	return out
}

func TestTemplateUnknown(t *testing.T) {
	r := New()
	if _, err := r.Template("ghost.json"); err == nil {
		t.Fatal("unknown workflow should error")
	}
}

func TestDocClone(t *testing.T) {
	dir := t.TempDir()
	writeWorkflow(t, dir, "flux-dev.json", fluxTemplate)

	r := New()
	if err := r.Load(dir); err != nil {
		t.Fatal(err)
	}
	doc, err := r.Template("flux-dev.json")
	if err != nil {
		t.Fatal(err)
	}

	clone := doc.Clone()
	clone["4"].Inputs["steps"] = 99
	if got := doc["4"].Inputs["steps"]; got == 99 {
		t.Error("patching a clone mutated the source document")
	}
}

func TestTemplateCopiesAreIndependent(t *testing.T) {
	dir := t.TempDir()
	writeWorkflow(t, dir, "flux-dev.json", fluxTemplate)

	r := New()
	if err := r.Load(dir); err != nil {
		t.Fatal(err)
	}

	first, err := r.Template("flux-dev.json")
	if err != nil {
		t.Fatal(err)
	}
	first["4"].Inputs["steps"] = 99

	second, err := r.Template("flux-dev.json")
	if err != nil {
		t.Fatal(err)
	}
	if got := second["4"].Inputs["steps"]; got == 99 {
		t.Error("patching one served template leaked into the next")
	}
}

func TestValidateRecipe(t *testing.T) {
	m := &models.WorkflowManifest{
		Resolution: models.ResolutionLimits{MinWidth: 512, MaxWidth: 2048, MinHeight: 512, MaxHeight: 2048},
		Loras:      models.LoraLimits{MaxLoras: 1, MinStrength: 0.0, MaxStrength: 1.5},
	}

	ok := &models.Recipe{
		Width: 1024, Height: 1024,
		Loras: []models.RecipeLora{{Filename: "a.safetensors", Strength: 0.8}},
	}
	if errs := ValidateRecipe(ok, m); len(errs) != 0 {
		t.Fatalf("valid recipe flagged: %v", errs)
	}

	bad := &models.Recipe{
		Width: 256, Height: 4096,
		Loras: []models.RecipeLora{
			{Filename: "a.safetensors", Strength: 0.8},
			{Filename: "b.safetensors", Strength: 1.9},
		},
	}
	errs := ValidateRecipe(bad, m)
	if len(errs) != 4 {
		t.Fatalf("violations = %d, want 4: %v", len(errs), errs)
	}
}
