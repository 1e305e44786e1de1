// Package workflows discovers ComfyUI workflow templates and their capability
// manifests, and validates recipes against a workflow's declared limits.
package workflows

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/promptforge/promptforge/pkg/models"
)

// Node is one node of a ComfyUI prompt-format workflow document.
type Node struct {
	ClassType string                 `json:"class_type"`
	Inputs    map[string]interface{} `json:"inputs"`
	Meta      struct {
		Title string `json:"title"`
	} `json:"_meta"`
}

// Doc is a full workflow document keyed by node id.
type Doc map[string]*Node

// Clone returns a deep copy of the document safe to patch in place.
func (d Doc) Clone() Doc {
	out := make(Doc, len(d))
	for id, n := range d {
		cp := *n
		cp.Inputs = make(map[string]interface{}, len(n.Inputs))
		for k, v := range n.Inputs {
			cp.Inputs[k] = v
		}
		out[id] = &cp
	}
	return out
}

// Registry holds the discovered workflow templates and manifests.
type Registry struct {
	mu        sync.RWMutex
	dir       string
	manifests map[string]*models.WorkflowManifest
	docs      map[string]Doc // workflow name → parsed template
}

// New returns an empty workflow registry. Call Load to populate it.
func New() *Registry {
	return &Registry{
		manifests: make(map[string]*models.WorkflowManifest),
		docs:      make(map[string]Doc),
	}
}

// Load discovers workflow templates in dir. For each template it loads a
// sidecar manifest when one exists, else synthesizes one by scanning the
// template's node class types. Sidecar values are authoritative.
func (r *Registry) Load(dir string) error {
	manifests := make(map[string]*models.WorkflowManifest)
	docs := make(map[string]Doc)

	entries, err := os.ReadDir(dir)
	if err != nil {
		log.Warn().Str("dir", dir).Msg("Workflows directory missing, registry is empty")
		r.mu.Lock()
		r.dir, r.manifests, r.docs = dir, manifests, docs
		r.mu.Unlock()
		return nil
	}

	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		name := e.Name()
		path := filepath.Join(dir, name)

		doc, err := loadDoc(path)
		if err != nil {
			log.Warn().Err(err).Str("file", name).Msg("Skipping workflow template")
			continue
		}

		manifest, err := loadSidecar(dir, name)
		if err != nil {
			log.Warn().Err(err).Str("file", name).Msg("Skipping bad sidecar manifest, synthesizing")
		}
		if manifest == nil {
			manifest = Synthesize(name, doc)
		}
		manifest.Name = name

		manifests[name] = manifest
		docs[name] = doc
	}

	r.mu.Lock()
	r.dir, r.manifests, r.docs = dir, manifests, docs
	r.mu.Unlock()

	log.Info().Int("workflows", len(manifests)).Str("dir", dir).Msg("Workflow registry loaded")
	return nil
}

// Get returns the manifest for a workflow name, or nil.
func (r *Registry) Get(name string) *models.WorkflowManifest {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.manifests[name]
}

// All returns every manifest, sorted by name.
func (r *Registry) All() []*models.WorkflowManifest {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*models.WorkflowManifest, 0, len(r.manifests))
	for _, m := range r.manifests {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Filter returns manifests whose capabilities include every flag set in want.
func (r *Registry) Filter(want models.ManifestCapabilities) []*models.WorkflowManifest {
	var out []*models.WorkflowManifest
	for _, m := range r.All() {
		c := m.Capabilities
		if want.Img2Img && !c.Img2Img {
			continue
		}
		if want.Inpainting && !c.Inpainting {
			continue
		}
		if want.ControlNet && !c.ControlNet {
			continue
		}
		if want.Video && !c.Video {
			continue
		}
		if want.Upscale && !c.Upscale {
			continue
		}
		out = append(out, m)
	}
	return out
}

// Template returns a copy of the named workflow document, safe to patch in
// place. Documents are parsed once at Load time.
func (r *Registry) Template(name string) (Doc, error) {
	r.mu.RLock()
	doc, ok := r.docs[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown workflow %q", name)
	}
	return doc.Clone(), nil
}

// ValidateRecipe checks a recipe against a manifest's limits and returns one
// message per violation.
func ValidateRecipe(rec *models.Recipe, m *models.WorkflowManifest) []string {
	var errs []string

	if m.Loras.MaxLoras > 0 && len(rec.Loras) > m.Loras.MaxLoras {
		errs = append(errs, fmt.Sprintf("recipe stacks %d loras, workflow allows %d", len(rec.Loras), m.Loras.MaxLoras))
	}
	for _, l := range rec.Loras {
		if l.Strength < m.Loras.MinStrength || l.Strength > m.Loras.MaxStrength {
			errs = append(errs, fmt.Sprintf("lora %s strength %.2f outside workflow range [%.2f, %.2f]",
				l.Filename, l.Strength, m.Loras.MinStrength, m.Loras.MaxStrength))
		}
	}

	res := m.Resolution
	if res.MinWidth > 0 && rec.Width < res.MinWidth {
		errs = append(errs, fmt.Sprintf("width %d below workflow minimum %d", rec.Width, res.MinWidth))
	}
	if res.MaxWidth > 0 && rec.Width > res.MaxWidth {
		errs = append(errs, fmt.Sprintf("width %d above workflow maximum %d", rec.Width, res.MaxWidth))
	}
	if res.MinHeight > 0 && rec.Height < res.MinHeight {
		errs = append(errs, fmt.Sprintf("height %d below workflow minimum %d", rec.Height, res.MinHeight))
	}
	if res.MaxHeight > 0 && rec.Height > res.MaxHeight {
		errs = append(errs, fmt.Sprintf("height %d above workflow maximum %d", rec.Height, res.MaxHeight))
	}

	return errs
}

func loadDoc(path string) (Doc, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read template: %w", err)
	}
	var doc Doc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse template: %w", err)
	}
	return doc, nil
}

// loadSidecar reads <stem>.manifest.yaml next to the template. A missing
// sidecar returns (nil, nil).
func loadSidecar(dir, templateName string) (*models.WorkflowManifest, error) {
	stem := strings.TrimSuffix(templateName, filepath.Ext(templateName))
	path := filepath.Join(dir, stem+".manifest.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil
	}
	var m models.WorkflowManifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse sidecar %s: %w", path, err)
	}
	return &m, nil
}
