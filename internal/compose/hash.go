package compose

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// RecipeID derives the recipe identifier: the first 16 hex characters of the
// SHA-256 over the sorted source-category ids joined by ":". It is a pure
// function of the multiset of ids.
func RecipeID(ids []string) string {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	sum := sha256.Sum256([]byte(strings.Join(sorted, ":")))
	return hex.EncodeToString(sum[:])[:16]
}
