// Package registry loads and indexes category definitions from a directory
// tree of YAML documents. Categories are immutable after load; a reload swaps
// the whole index set atomically.
package registry

import (
	"sort"
	"strings"
	"sync"

	"github.com/promptforge/promptforge/pkg/models"
)

// keywordEntry records which category and keyword list a keyword belongs to.
type keywordEntry struct {
	id   string
	kind models.KeywordKind
}

// indexes is one immutable snapshot of the loaded categories.
type indexes struct {
	byID          map[string]*models.Category
	byType        map[models.CategoryType][]*models.Category
	byKeyword     map[string][]keywordEntry
	schemaVersion string
	loadErrors    int
}

func newIndexes() *indexes {
	return &indexes{
		byID:      make(map[string]*models.Category),
		byType:    make(map[models.CategoryType][]*models.Category),
		byKeyword: make(map[string][]keywordEntry),
	}
}

// Registry is the thread-safe category lookup used by the parsers and the
// composition engine.
type Registry struct {
	mu    sync.RWMutex
	idx   *indexes
	hooks []func()
}

// AddReloadHook registers fn to run after every successful Load. Dependents
// with derived indexes (the keyword classifier) use this to invalidate.
func (r *Registry) AddReloadHook(fn func()) {
	r.mu.Lock()
	r.hooks = append(r.hooks, fn)
	r.mu.Unlock()
}

// New returns an empty registry. Call Load to populate it.
func New() *Registry {
	return &Registry{idx: newIndexes()}
}

// NewStatic builds a registry from in-memory categories, bypassing the
// filesystem loader. For embedders and tests.
func NewStatic(cats ...*models.Category) *Registry {
	idx := newIndexes()
	for _, c := range cats {
		idx.index(c)
	}
	return &Registry{idx: idx}
}

// Get returns the category with the given id, or nil.
func (r *Registry) Get(id string) *models.Category {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.idx.byID[id]
}

// ByType returns all categories of the given type, sorted by id.
func (r *Registry) ByType(t models.CategoryType) []*models.Category {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*models.Category, len(r.idx.byType[t]))
	copy(out, r.idx.byType[t])
	return out
}

// All returns every loaded category, sorted by id.
func (r *Registry) All() []*models.Category {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*models.Category, 0, len(r.idx.byID))
	for _, c := range r.idx.byID {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of loaded categories.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.idx.byID)
}

// LoadErrors returns the number of files skipped during the last load.
func (r *Registry) LoadErrors() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.idx.loadErrors
}

// SchemaVersion returns the schema version declared at the categories root.
func (r *Registry) SchemaVersion() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.idx.schemaVersion
}

// Search ranks categories by how many tokens of the query hit their keyword
// index. Matching is case-insensitive; hyphens are treated as spaces.
// Results are sorted by decreasing match count, ties broken by id.
func (r *Registry) Search(query string) []*models.Category {
	tokens := Tokenize(query)
	if len(tokens) == 0 {
		return nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[string]int)
	for _, tok := range tokens {
		for _, e := range r.idx.byKeyword[tok] {
			counts[e.id]++
		}
	}
	if len(counts) == 0 {
		return nil
	}

	ids := make([]string, 0, len(counts))
	for id := range counts {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if counts[ids[i]] != counts[ids[j]] {
			return counts[ids[i]] > counts[ids[j]]
		}
		return ids[i] < ids[j]
	})

	out := make([]*models.Category, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.idx.byID[id])
	}
	return out
}

// KeywordHits returns the keyword entries for one lowercase token.
// Used by the keyword classifier to share the registry's index.
func (r *Registry) KeywordHits(token string) []models.KeywordMatch {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entries := r.idx.byKeyword[token]
	if len(entries) == 0 {
		return nil
	}
	out := make([]models.KeywordMatch, 0, len(entries))
	for _, e := range entries {
		out = append(out, models.KeywordMatch{
			Category: e.id,
			BestKind: e.kind,
		})
	}
	return out
}

// swap replaces the current index snapshot and fires reload hooks.
func (r *Registry) swap(idx *indexes) {
	r.mu.Lock()
	r.idx = idx
	hooks := make([]func(), len(r.hooks))
	copy(hooks, r.hooks)
	r.mu.Unlock()
	for _, fn := range hooks {
		fn()
	}
}

// Tokenize lowercases text, treats hyphens as spaces, and extracts
// alphabetic words.
func Tokenize(text string) []string {
	lowered := strings.ToLower(strings.ReplaceAll(text, "-", " "))
	var tokens []string
	var b strings.Builder
	flush := func() {
		if b.Len() > 0 {
			tokens = append(tokens, b.String())
			b.Reset()
		}
	}
	for _, r := range lowered {
		if r >= 'a' && r <= 'z' {
			b.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()
	return tokens
}

// index adds a category to an index snapshot, overwriting duplicates.
func (idx *indexes) index(c *models.Category) (overwrote bool) {
	if old, ok := idx.byID[c.ID]; ok {
		overwrote = true
		idx.removeFromType(old)
		idx.removeFromKeywords(old)
	}
	idx.byID[c.ID] = c
	idx.byType[c.Type] = append(idx.byType[c.Type], c)
	sort.Slice(idx.byType[c.Type], func(i, j int) bool {
		return idx.byType[c.Type][i].ID < idx.byType[c.Type][j].ID
	})

	add := func(words []string, kind models.KeywordKind) {
		for _, w := range words {
			key := strings.ToLower(strings.TrimSpace(w))
			if key == "" {
				continue
			}
			idx.byKeyword[key] = append(idx.byKeyword[key], keywordEntry{id: c.ID, kind: kind})
		}
	}
	add(c.Keywords.Primary, models.KeywordPrimary)
	add(c.Keywords.Specific, models.KeywordSpecific)
	add(c.Keywords.Secondary, models.KeywordSecondary)
	return overwrote
}

func (idx *indexes) removeFromType(c *models.Category) {
	list := idx.byType[c.Type]
	for i, e := range list {
		if e.ID == c.ID {
			idx.byType[c.Type] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

func (idx *indexes) removeFromKeywords(c *models.Category) {
	for key, entries := range idx.byKeyword {
		kept := entries[:0]
		for _, e := range entries {
			if e.id != c.ID {
				kept = append(kept, e)
			}
		}
		if len(kept) == 0 {
			delete(idx.byKeyword, key)
		} else {
			idx.byKeyword[key] = kept
		}
	}
}
