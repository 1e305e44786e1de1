package intent

import (
	"math"
	"testing"

	"github.com/promptforge/promptforge/internal/registry"
	"github.com/promptforge/promptforge/pkg/models"
)

func classifierRegistry() *registry.Registry {
	return registry.NewStatic(
		&models.Category{
			ID: "cyberpunk", Type: models.CategoryStyle, DisplayName: "Cyberpunk",
			Keywords: models.Keywords{Primary: []string{"cyberpunk", "neon"}, Secondary: []string{"city"}},
		},
		&models.Category{
			ID: "noir", Type: models.CategoryStyle, DisplayName: "Noir",
			Keywords: models.Keywords{Secondary: []string{"city"}},
		},
	)
}

func TestClassifyNormalization(t *testing.T) {
	c := NewClassifier(classifierRegistry())
	matches := c.Classify("neon city at night", 0.1)

	if len(matches) != 2 {
		t.Fatalf("matches = %d, want 2", len(matches))
	}
	// cyberpunk: neon (1.0) + city (0.6) = 1.6, normalized to 1.0.
	// noir: city (0.6) -> 0.6/1.6 = 0.375.
	if matches[0].Category != "cyberpunk" || matches[0].Confidence != 1.0 {
		t.Errorf("top match = %+v", matches[0])
	}
	if matches[1].Category != "noir" || math.Abs(matches[1].Confidence-0.375) > 1e-9 {
		t.Errorf("second match = %+v", matches[1])
	}
	if matches[0].BestKind != models.KeywordPrimary {
		t.Errorf("best kind = %q, want primary", matches[0].BestKind)
	}
}

func TestClassifyMinConfidenceFilter(t *testing.T) {
	c := NewClassifier(classifierRegistry())
	matches := c.Classify("neon city", 0.5)
	if len(matches) != 1 || matches[0].Category != "cyberpunk" {
		t.Fatalf("matches = %+v, want noir filtered out", matches)
	}
}

func TestClassifyDefaultMinConfidence(t *testing.T) {
	c := NewClassifier(classifierRegistry())
	// zero threshold falls back to the default, which 0.375 passes
	matches := c.Classify("neon city", 0)
	if len(matches) != 2 {
		t.Fatalf("matches = %d, want 2 at default threshold", len(matches))
	}
}

func TestClassifyNoMatches(t *testing.T) {
	c := NewClassifier(classifierRegistry())
	if got := c.Classify("ocean waves", 0.1); got != nil {
		t.Errorf("matches = %+v, want nil", got)
	}
	if got := c.Classify("", 0.1); got != nil {
		t.Errorf("empty text matches = %+v, want nil", got)
	}
}

func TestClassifyReloadInvalidatesIndex(t *testing.T) {
	reg := registry.NewStatic(&models.Category{
		ID: "cyberpunk", Type: models.CategoryStyle, DisplayName: "Cyberpunk",
		Keywords: models.Keywords{Primary: []string{"neon"}},
	})
	c := NewClassifier(reg)

	if got := c.Classify("neon", 0.1); len(got) != 1 {
		t.Fatalf("matches = %d, want 1", len(got))
	}

	// An empty reload drops every keyword; the index must rebuild.
	if err := reg.Load(t.TempDir()); err != nil {
		t.Fatal(err)
	}
	if got := c.Classify("neon", 0.1); got != nil {
		t.Errorf("matches after reload = %+v, want nil", got)
	}
}
