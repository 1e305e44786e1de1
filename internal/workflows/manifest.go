package workflows

import (
	"strings"

	"github.com/promptforge/promptforge/pkg/models"
)

// Fallback limits used when no sidecar manifest declares better ones.
const (
	defaultMinDim      = 256
	defaultMaxDim      = 2048
	defaultMaxLoras    = 5
	defaultMinStrength = 0.0
	defaultMaxStrength = 2.0
)

// Synthesize builds a best-effort manifest from the template itself: node
// class types are scanned for capability keywords, LoRA-loader nodes are
// counted, and the required checkpoint type is inferred from the filename.
func Synthesize(name string, doc Doc) *models.WorkflowManifest {
	m := &models.WorkflowManifest{
		Name: name,
		Resolution: models.ResolutionLimits{
			MinWidth:  defaultMinDim,
			MinHeight: defaultMinDim,
			MaxWidth:  defaultMaxDim,
			MaxHeight: defaultMaxDim,
		},
		Loras: models.LoraLimits{
			MaxLoras:    defaultMaxLoras,
			MinStrength: defaultMinStrength,
			MaxStrength: defaultMaxStrength,
		},
		Checkpoints: models.CheckpointSpec{
			RequiredType: inferCheckpointType(name),
		},
		Defaults:    models.ManifestDefaults{Steps: 30, CFG: 7.5},
		Synthesized: true,
	}

	loraLoaders := 0
	for _, node := range doc {
		class := strings.ToLower(node.ClassType)
		switch {
		case strings.Contains(class, "controlnet"):
			m.Capabilities.ControlNet = true
		case strings.Contains(class, "animate"), strings.Contains(class, "video"):
			m.Capabilities.Video = true
		case strings.Contains(class, "inpaint"):
			m.Capabilities.Inpainting = true
		case strings.Contains(class, "upscale"):
			m.Capabilities.Upscale = true
		}
		if strings.Contains(class, "loraloader") {
			loraLoaders++
			if strings.Contains(class, "modelonly") {
				// model-only loaders cannot apply CLIP weights
			} else {
				m.Loras.SupportsClipLora = true
			}
		}
		// A latent image fed from a load-image node implies img2img.
		if class == "vaeencode" || strings.Contains(class, "imagetolatent") {
			m.Capabilities.Img2Img = true
		}
	}
	if loraLoaders > 0 {
		m.Loras.MaxLoras = loraLoaders
	}
	return m
}

// inferCheckpointType guesses the checkpoint family from a template filename.
func inferCheckpointType(name string) string {
	lower := strings.ToLower(name)
	switch {
	case strings.Contains(lower, "flux"):
		return "flux"
	case strings.Contains(lower, "sdxl"), strings.Contains(lower, "xl"):
		return "sdxl"
	case strings.Contains(lower, "sd15"), strings.Contains(lower, "sd1.5"), strings.Contains(lower, "sd-1-5"):
		return "sd15"
	case strings.Contains(lower, "svd"), strings.Contains(lower, "video"):
		return "svd"
	}
	return ""
}
