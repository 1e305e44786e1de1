package intent

import (
	"sort"
	"sync"

	"github.com/promptforge/promptforge/internal/registry"
	"github.com/promptforge/promptforge/pkg/models"
)

// DefaultMinConfidence filters classifier matches when the caller gives none.
const DefaultMinConfidence = 0.3

// indexEntry is one posting of the classifier's inverted index.
type indexEntry struct {
	category string
	kind     models.KeywordKind
	weight   float64
}

// Classifier scores request text against category keywords using a weighted
// inverted index built lazily on first use. The index is invalidated when the
// registry reloads.
type Classifier struct {
	reg *registry.Registry

	mu    sync.Mutex
	index map[string][]indexEntry
}

// NewClassifier returns a keyword classifier bound to the registry. It
// registers a reload hook so a hot-reloaded registry rebuilds the index.
func NewClassifier(reg *registry.Registry) *Classifier {
	c := &Classifier{reg: reg}
	reg.AddReloadHook(c.invalidate)
	return c
}

func (c *Classifier) invalidate() {
	c.mu.Lock()
	c.index = nil
	c.mu.Unlock()
}

// ensureIndex builds the inverted index keyword → postings on first use.
func (c *Classifier) ensureIndex() map[string][]indexEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.index != nil {
		return c.index
	}
	idx := make(map[string][]indexEntry)
	for _, cat := range c.reg.All() {
		add := func(words []string, kind models.KeywordKind) {
			for _, w := range words {
				idx[w] = append(idx[w], indexEntry{
					category: cat.ID,
					kind:     kind,
					weight:   kind.Weight(),
				})
			}
		}
		add(cat.Keywords.Primary, models.KeywordPrimary)
		add(cat.Keywords.Specific, models.KeywordSpecific)
		add(cat.Keywords.Secondary, models.KeywordSecondary)
	}
	c.index = idx
	return idx
}

// Classify tokenizes text, accumulates per-category keyword scores, and
// normalizes them by the maximum observed score. Matches below minConfidence
// are dropped; the rest come back sorted by decreasing confidence.
func (c *Classifier) Classify(text string, minConfidence float64) []models.KeywordMatch {
	if minConfidence <= 0 {
		minConfidence = DefaultMinConfidence
	}
	tokens := registry.Tokenize(text)
	if len(tokens) == 0 {
		return nil
	}

	idx := c.ensureIndex()

	type acc struct {
		score    float64
		bestKind models.KeywordKind
		bestW    float64
		hits     []string
	}
	scores := make(map[string]*acc)

	for _, tok := range tokens {
		for _, e := range idx[tok] {
			a := scores[e.category]
			if a == nil {
				a = &acc{}
				scores[e.category] = a
			}
			a.score += e.weight
			if e.weight > a.bestW {
				a.bestW = e.weight
				a.bestKind = e.kind
			}
			a.hits = append(a.hits, tok)
		}
	}
	if len(scores) == 0 {
		return nil
	}

	maxScore := 0.0
	for _, a := range scores {
		if a.score > maxScore {
			maxScore = a.score
		}
	}

	var out []models.KeywordMatch
	for id, a := range scores {
		conf := a.score / maxScore
		if conf < minConfidence {
			continue
		}
		out = append(out, models.KeywordMatch{
			Category:   id,
			Confidence: conf,
			BestKind:   a.bestKind,
			Hits:       a.hits,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].Category < out[j].Category
	})
	return out
}
