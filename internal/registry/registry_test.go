package registry

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/promptforge/promptforge/pkg/models"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

const cyberpunkYAML = `
id: cyberpunk
type: style
display_name: Cyberpunk
keywords:
  primary: [Cyberpunk, Neon]
  secondary: [futuristic]
prompts:
  positive:
    required: [neon-lit streets]
`

const forestYAML = `
id: forest
type: subject
display_name: Forest
keywords:
  primary: [forest]
  specific: [redwood]
`

func loadTestDir(t *testing.T, files map[string]string) *Registry {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		writeFile(t, dir, name, content)
	}
	r := New()
	if err := r.Load(dir); err != nil {
		t.Fatalf("Load: %v", err)
	}
	return r
}

func TestLoadBasic(t *testing.T) {
	r := loadTestDir(t, map[string]string{
		"styles/cyberpunk.yaml": cyberpunkYAML,
		"subjects/forest.yml":   forestYAML,
	})

	if got := r.Len(); got != 2 {
		t.Fatalf("Len = %d, want 2", got)
	}
	cat := r.Get("cyberpunk")
	if cat == nil {
		t.Fatal("Get(cyberpunk) = nil")
	}
	if cat.Type != models.CategoryStyle {
		t.Errorf("type = %q, want style", cat.Type)
	}
	if cat.PolicyTier != models.TierGeneral {
		t.Errorf("policy tier = %q, want default general", cat.PolicyTier)
	}
	// Keywords are lowercased on load.
	if got := cat.Keywords.Primary; !reflect.DeepEqual(got, []string{"cyberpunk", "neon"}) {
		t.Errorf("primary keywords = %v", got)
	}
	if got := r.SchemaVersion(); got != "1.0" {
		t.Errorf("schema version = %q, want default 1.0", got)
	}
}

func TestLoadSkipsUnderscoreAndNonYAML(t *testing.T) {
	r := loadTestDir(t, map[string]string{
		"cyberpunk.yaml": cyberpunkYAML,
		"_draft.yaml":    forestYAML,
		"README.md":      "notes",
	})
	if got := r.Len(); got != 1 {
		t.Fatalf("Len = %d, want 1", got)
	}
	if r.Get("forest") != nil {
		t.Error("underscore-prefixed file should be skipped")
	}
}

func TestLoadCountsMalformedFiles(t *testing.T) {
	r := loadTestDir(t, map[string]string{
		"cyberpunk.yaml": cyberpunkYAML,
		"broken.yaml":    "id: [not a scalar\n",
		"badtype.yaml":   "id: x\ntype: cinematic\ndisplay_name: X\n",
		"nostrength.yaml": `
id: y
type: style
display_name: Y
loras:
  required:
    - filename: y.safetensors
      strength: 3.5
`,
	})
	if got := r.Len(); got != 1 {
		t.Fatalf("Len = %d, want 1", got)
	}
	if got := r.LoadErrors(); got != 3 {
		t.Errorf("LoadErrors = %d, want 3", got)
	}
}

func TestLoadDuplicateIDOverwrites(t *testing.T) {
	// Walk order is lexical, so b.yaml wins.
	r := loadTestDir(t, map[string]string{
		"a.yaml": "id: dup\ntype: style\ndisplay_name: First\n",
		"b.yaml": "id: dup\ntype: subject\ndisplay_name: Second\n",
	})
	if got := r.Len(); got != 1 {
		t.Fatalf("Len = %d, want 1", got)
	}
	cat := r.Get("dup")
	if cat.DisplayName != "Second" {
		t.Errorf("DisplayName = %q, want Second", cat.DisplayName)
	}
	if got := len(r.ByType(models.CategoryStyle)); got != 0 {
		t.Errorf("stale type index entry survived overwrite: %d", got)
	}
}

func TestLoadSchemaVersion(t *testing.T) {
	r := loadTestDir(t, map[string]string{
		"_schema.yaml":   "schema_version: \"1.3\"\n",
		"cyberpunk.yaml": cyberpunkYAML,
	})
	if got := r.SchemaVersion(); got != "1.3" {
		t.Errorf("schema version = %q, want 1.3", got)
	}
	if got := r.Get("cyberpunk").SchemaVersion; got != "1.3" {
		t.Errorf("category schema version = %q, want inherited 1.3", got)
	}
}

func TestLoadRejectsUnknownSchemaMajor(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "_schema.yaml", "schema_version: \"2.0\"\n")
	writeFile(t, dir, "cyberpunk.yaml", cyberpunkYAML)

	r := New()
	if err := r.Load(dir); err == nil {
		t.Fatal("Load with major version 2 should fail")
	}
	if got := r.Len(); got != 0 {
		t.Errorf("failed load must not swap in categories, Len = %d", got)
	}
}

func TestLoadMissingDirIsEmpty(t *testing.T) {
	r := New()
	if err := r.Load(filepath.Join(t.TempDir(), "nope")); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := r.Len(); got != 0 {
		t.Errorf("Len = %d, want 0", got)
	}
}

func TestSearchRanking(t *testing.T) {
	r := NewStatic(
		&models.Category{
			ID: "cyberpunk", Type: models.CategoryStyle, DisplayName: "Cyberpunk",
			Keywords: models.Keywords{Primary: []string{"cyberpunk", "neon"}, Secondary: []string{"city"}},
		},
		&models.Category{
			ID: "noir", Type: models.CategoryStyle, DisplayName: "Noir",
			Keywords: models.Keywords{Primary: []string{"noir"}, Secondary: []string{"city"}},
		},
	)

	got := r.Search("neon city")
	if len(got) != 2 {
		t.Fatalf("Search returned %d results, want 2", len(got))
	}
	if got[0].ID != "cyberpunk" {
		t.Errorf("top hit = %q, want cyberpunk (two token hits)", got[0].ID)
	}

	if res := r.Search("Neon-City"); len(res) != 2 {
		t.Errorf("hyphenated, mixed-case query returned %d results", len(res))
	}
	if res := r.Search("zzz"); res != nil {
		t.Errorf("no-hit query = %v, want nil", res)
	}
	if res := r.Search("  !! "); res != nil {
		t.Errorf("tokenless query = %v, want nil", res)
	}
}

func TestByTypeSorted(t *testing.T) {
	r := NewStatic(
		&models.Category{ID: "zeta", Type: models.CategoryStyle, DisplayName: "Z"},
		&models.Category{ID: "alpha", Type: models.CategoryStyle, DisplayName: "A"},
		&models.Category{ID: "mid", Type: models.CategorySubject, DisplayName: "M"},
	)
	styles := r.ByType(models.CategoryStyle)
	if len(styles) != 2 || styles[0].ID != "alpha" || styles[1].ID != "zeta" {
		t.Errorf("ByType(style) = %v", ids(styles))
	}
	all := r.All()
	if !reflect.DeepEqual(ids(all), []string{"alpha", "mid", "zeta"}) {
		t.Errorf("All = %v", ids(all))
	}
}

func ids(cats []*models.Category) []string {
	out := make([]string, len(cats))
	for i, c := range cats {
		out[i] = c.ID
	}
	return out
}

func TestKeywordHits(t *testing.T) {
	r := NewStatic(&models.Category{
		ID: "forest", Type: models.CategorySubject, DisplayName: "Forest",
		Keywords: models.Keywords{Primary: []string{"forest"}, Specific: []string{"redwood"}},
	})

	hits := r.KeywordHits("redwood")
	if len(hits) != 1 {
		t.Fatalf("hits = %d, want 1", len(hits))
	}
	if hits[0].Category != "forest" || hits[0].BestKind != models.KeywordSpecific {
		t.Errorf("hit = %+v", hits[0])
	}
	if r.KeywordHits("missing") != nil {
		t.Error("unknown token should return nil")
	}
}

func TestReloadHookFires(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "cyberpunk.yaml", cyberpunkYAML)

	r := New()
	var fired int
	r.AddReloadHook(func() { fired++ })

	if err := r.Load(dir); err != nil {
		t.Fatal(err)
	}
	if err := r.Load(dir); err != nil {
		t.Fatal(err)
	}
	if fired != 2 {
		t.Errorf("hook fired %d times, want 2", fired)
	}
}

func TestTokenize(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"Neon-lit Streets!", []string{"neon", "lit", "streets"}},
		{"a1b2", []string{"a", "b"}},
		{"", nil},
		{"   ", nil},
	}
	for _, tc := range cases {
		if got := Tokenize(tc.in); !reflect.DeepEqual(got, tc.want) {
			t.Errorf("Tokenize(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}
