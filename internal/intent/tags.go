// Package intent resolves freeform generation requests into ranked category
// sets. It layers three channels: explicit @tags, a weighted keyword
// classifier, and an optional external intent model, merged with the
// precedence explicit > llm > keyword.
package intent

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/promptforge/promptforge/internal/registry"
	"github.com/promptforge/promptforge/pkg/models"
)

// tagPattern matches @<ident>[:<number>] where ident starts with a letter or
// underscore followed by letters, digits, underscores, or hyphens.
var tagPattern = regexp.MustCompile(`(?i)@([a-z_][a-z0-9_-]*)(?::([0-9]*\.?[0-9]+))?`)

// TagParser extracts explicit category tags from request text.
type TagParser struct {
	reg *registry.Registry
}

// NewTagParser returns a tag parser backed by the category registry.
func NewTagParser(reg *registry.Registry) *TagParser {
	return &TagParser{reg: reg}
}

// Parse extracts every @id[:strength] token from text. Idents resolve by
// direct id lookup first, then by taking the top keyword-search match.
// Strengths are clamped to [0, 2] with a default of 1.0. The remaining text
// has tags removed and whitespace collapsed.
func (p *TagParser) Parse(text string) models.TagResult {
	result := models.TagResult{Remaining: text}

	matches := tagPattern.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		result.Remaining = collapseWhitespace(text)
		return result
	}

	for _, m := range matches {
		raw := text[m[0]:m[1]]
		ident := strings.ToLower(text[m[2]:m[3]])

		strength := 1.0
		if m[4] >= 0 {
			if v, err := strconv.ParseFloat(text[m[4]:m[5]], 64); err == nil {
				strength = clampStrength(v)
			}
		}

		id := p.resolve(ident)
		if id == "" {
			result.Unmatched = append(result.Unmatched, ident)
			continue
		}
		result.Tags = append(result.Tags, models.ParsedTag{
			Raw:      raw,
			Category: id,
			Strength: strength,
			Position: m[0],
		})
	}

	result.Remaining = collapseWhitespace(tagPattern.ReplaceAllString(text, " "))
	return result
}

// resolve maps a tag ident to a category id, falling back to keyword search.
func (p *TagParser) resolve(ident string) string {
	if c := p.reg.Get(ident); c != nil {
		return c.ID
	}
	if hits := p.reg.Search(ident); len(hits) > 0 {
		return hits[0].ID
	}
	return ""
}

func clampStrength(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 2 {
		return 2
	}
	return v
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
