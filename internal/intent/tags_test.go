package intent

import (
	"reflect"
	"testing"

	"github.com/promptforge/promptforge/internal/registry"
	"github.com/promptforge/promptforge/pkg/models"
)

func tagRegistry() *registry.Registry {
	return registry.NewStatic(
		&models.Category{
			ID: "cyberpunk", Type: models.CategoryStyle, DisplayName: "Cyberpunk",
			Keywords: models.Keywords{Primary: []string{"cyberpunk", "neon"}},
		},
		&models.Category{
			ID: "forest", Type: models.CategorySubject, DisplayName: "Forest",
			Keywords: models.Keywords{Primary: []string{"forest"}, Specific: []string{"redwood"}},
		},
	)
}

func TestTagParse(t *testing.T) {
	p := NewTagParser(tagRegistry())
	res := p.Parse("@cyberpunk:1.2 a quiet street @forest")

	if len(res.Tags) != 2 {
		t.Fatalf("tags = %d, want 2", len(res.Tags))
	}
	if res.Tags[0].Category != "cyberpunk" || res.Tags[0].Strength != 1.2 {
		t.Errorf("first tag = %+v", res.Tags[0])
	}
	if res.Tags[1].Category != "forest" || res.Tags[1].Strength != 1.0 {
		t.Errorf("second tag = %+v, want default strength 1.0", res.Tags[1])
	}
	if res.Remaining != "a quiet street" {
		t.Errorf("remaining = %q", res.Remaining)
	}
}

func TestTagParseStrengthClamp(t *testing.T) {
	p := NewTagParser(tagRegistry())
	res := p.Parse("@cyberpunk:9.5")
	if res.Tags[0].Strength != 2.0 {
		t.Errorf("strength = %v, want clamp to 2.0", res.Tags[0].Strength)
	}
}

func TestTagParseKeywordFallback(t *testing.T) {
	// "redwood" is not a category id but is a specific keyword of forest.
	p := NewTagParser(tagRegistry())
	res := p.Parse("@redwood grove")
	if len(res.Tags) != 1 || res.Tags[0].Category != "forest" {
		t.Fatalf("tags = %+v, want resolution via keyword search", res.Tags)
	}
}

func TestTagParseUnmatched(t *testing.T) {
	p := NewTagParser(tagRegistry())
	res := p.Parse("@nonsense city")
	if len(res.Tags) != 0 {
		t.Errorf("tags = %+v, want none", res.Tags)
	}
	if !reflect.DeepEqual(res.Unmatched, []string{"nonsense"}) {
		t.Errorf("unmatched = %v", res.Unmatched)
	}
	if res.Remaining != "city" {
		t.Errorf("remaining = %q", res.Remaining)
	}
}

func TestTagParseNoTags(t *testing.T) {
	p := NewTagParser(tagRegistry())
	res := p.Parse("  just   a  prompt  ")
	if len(res.Tags) != 0 || len(res.Unmatched) != 0 {
		t.Fatalf("unexpected tags: %+v", res)
	}
	if res.Remaining != "just a prompt" {
		t.Errorf("remaining = %q, want collapsed whitespace", res.Remaining)
	}
}

func TestTagParseCaseInsensitive(t *testing.T) {
	p := NewTagParser(tagRegistry())
	res := p.Parse("@CyberPunk street")
	if len(res.Tags) != 1 || res.Tags[0].Category != "cyberpunk" {
		t.Fatalf("tags = %+v", res.Tags)
	}
	if res.Tags[0].Raw != "@CyberPunk" {
		t.Errorf("raw = %q, want the original spelling", res.Tags[0].Raw)
	}
}
