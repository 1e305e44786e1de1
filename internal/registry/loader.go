package registry

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/promptforge/promptforge/pkg/models"
)

// SupportedSchemaMajor is the category schema major version this build
// understands. Unknown minor versions are compatible; an unknown major
// version fails the load of the whole tree.
const SupportedSchemaMajor = 1

// schemaDoc is the version document expected at the categories root.
type schemaDoc struct {
	SchemaVersion string `yaml:"schema_version"`
}

// Load reads every category document under dir into a fresh index set and
// swaps it in. A missing directory yields an empty registry and a warning.
// Malformed or schema-invalid files are skipped and counted.
func (r *Registry) Load(dir string) error {
	idx := newIndexes()

	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		log.Warn().Str("dir", dir).Msg("Categories directory missing, registry is empty")
		r.swap(idx)
		return nil
	}

	version, err := readSchemaVersion(dir)
	if err != nil {
		return err
	}
	idx.schemaVersion = version

	walkErr := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		base := d.Name()
		if strings.HasPrefix(base, "_") {
			return nil
		}
		ext := filepath.Ext(base)
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}

		cat, err := loadCategoryFile(path)
		if err != nil {
			idx.loadErrors++
			log.Warn().Err(err).Str("file", path).Msg("Skipping category file")
			return nil
		}
		if cat.SchemaVersion == "" {
			cat.SchemaVersion = version
		}
		if idx.index(cat) {
			log.Warn().Str("id", cat.ID).Str("file", path).Msg("Duplicate category id, overwriting")
		}
		return nil
	})
	if walkErr != nil {
		return fmt.Errorf("walk categories dir: %w", walkErr)
	}

	r.swap(idx)
	log.Info().
		Int("categories", len(idx.byID)).
		Int("skipped", idx.loadErrors).
		Str("schema_version", version).
		Str("dir", dir).
		Msg("Category registry loaded")
	return nil
}

// readSchemaVersion loads _schema.yaml at the tree root. A missing document
// defaults to "1.0".
func readSchemaVersion(dir string) (string, error) {
	data, err := os.ReadFile(filepath.Join(dir, "_schema.yaml"))
	if err != nil {
		return "1.0", nil
	}
	var doc schemaDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return "", fmt.Errorf("parse _schema.yaml: %w", err)
	}
	if doc.SchemaVersion == "" {
		return "1.0", nil
	}
	major := doc.SchemaVersion
	if i := strings.Index(major, "."); i >= 0 {
		major = major[:i]
	}
	n, err := strconv.Atoi(major)
	if err != nil {
		return "", fmt.Errorf("invalid schema_version %q", doc.SchemaVersion)
	}
	if n != SupportedSchemaMajor {
		return "", fmt.Errorf("unsupported category schema major version %d (supported: %d)", n, SupportedSchemaMajor)
	}
	return doc.SchemaVersion, nil
}

func loadCategoryFile(path string) (*models.Category, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}
	var cat models.Category
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	if err := validate(&cat); err != nil {
		return nil, fmt.Errorf("schema: %w", err)
	}
	normalize(&cat)
	return &cat, nil
}

// validate enforces the category schema: required fields, enums, and
// numeric ranges.
func validate(c *models.Category) error {
	if c.ID == "" {
		return fmt.Errorf("missing id")
	}
	if !models.ValidCategoryType(c.Type) {
		return fmt.Errorf("invalid type %q", c.Type)
	}
	if c.DisplayName == "" {
		return fmt.Errorf("missing display_name")
	}
	if c.PolicyTier == "" {
		c.PolicyTier = models.TierGeneral
	}
	if !models.ValidPolicyTier(c.PolicyTier) {
		return fmt.Errorf("invalid policy_tier %q", c.PolicyTier)
	}
	for _, l := range append(append([]models.LoraRef{}, c.Loras.Required...), c.Loras.Recommended...) {
		if l.Filename == "" {
			return fmt.Errorf("lora entry missing filename")
		}
		if l.Strength < 0 || l.Strength > 2 {
			return fmt.Errorf("lora %s strength %.2f outside [0, 2]", l.Filename, l.Strength)
		}
	}
	if c.Composition.Priority < 0 || c.Composition.Priority > 100 {
		return fmt.Errorf("priority %d outside [0, 100]", c.Composition.Priority)
	}
	if c.Composition.MaxPerType != nil && *c.Composition.MaxPerType < 1 {
		return fmt.Errorf("max_per_type must be >= 1")
	}
	return nil
}

// normalize lowercases keyword membership so lookups stay case-insensitive.
func normalize(c *models.Category) {
	lower := func(words []string) []string {
		out := make([]string, 0, len(words))
		for _, w := range words {
			w = strings.ToLower(strings.TrimSpace(w))
			if w != "" {
				out = append(out, w)
			}
		}
		return out
	}
	c.Keywords.Primary = lower(c.Keywords.Primary)
	c.Keywords.Specific = lower(c.Keywords.Specific)
	c.Keywords.Secondary = lower(c.Keywords.Secondary)
}
