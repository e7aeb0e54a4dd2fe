// Package relevance fills missing unit relevance scores from query term overlap.
package relevance

import (
	"regexp"
	"strings"

	"github.com/hpungsan/governor/internal/unit"
)

var wordRe = regexp.MustCompile(`[a-zA-Z0-9_]+`)

// Tokenize returns the lowercased words of text.
func Tokenize(text string) []string {
	words := wordRe.FindAllString(text, -1)
	for i, w := range words {
		words[i] = strings.ToLower(w)
	}
	return words
}

// Overlap returns the fraction of distinct query terms present in content.
func Overlap(query, content string) float64 {
	terms := make(map[string]struct{})
	for _, w := range Tokenize(query) {
		terms[w] = struct{}{}
	}
	if len(terms) == 0 {
		return 0
	}
	found := 0
	for _, w := range Tokenize(content) {
		if _, ok := terms[w]; ok {
			found++
			delete(terms, w)
			if len(terms) == 0 {
				break
			}
		}
	}
	total := found + len(terms)
	return float64(found) / float64(total)
}

// Apply sets Relevance on units that have none. It returns the number of
// units scored. An empty query is a no-op.
func Apply(units []unit.ContextUnit, query string) int {
	if strings.TrimSpace(query) == "" {
		return 0
	}
	n := 0
	for i := range units {
		if units[i].Relevance != nil {
			continue
		}
		score := Overlap(query, units[i].Content)
		units[i].Relevance = &score
		n++
	}
	return n
}
