package budget

import (
	"strings"

	"github.com/hpungsan/governor/internal/tokens"
)

// Model describes a target model's context window and tokenizer family.
type Model struct {
	ID            string        `json:"id"`
	ContextWindow int           `json:"context_window"`
	Family        tokens.Family `json:"tokenizer_family"`
}

// catalog is matched by longest prefix, so dated ids resolve to their base.
var catalog = []Model{
	{"claude-opus-4", 200000, tokens.FamilyClaude},
	{"claude-sonnet-4", 200000, tokens.FamilyClaude},
	{"claude-haiku-4", 200000, tokens.FamilyClaude},
	{"claude-3-7-sonnet", 200000, tokens.FamilyClaude},
	{"claude-3-5-sonnet", 200000, tokens.FamilyClaude},
	{"claude-3-5-haiku", 200000, tokens.FamilyClaude},
	{"claude-3-opus", 200000, tokens.FamilyClaude},
	{"claude-3-sonnet", 200000, tokens.FamilyClaude},
	{"claude-3-haiku", 200000, tokens.FamilyClaude},
	{"claude-", 200000, tokens.FamilyClaude},
	{"gpt-4.1", 1047576, tokens.FamilyO200k},
	{"gpt-4o", 128000, tokens.FamilyO200k},
	{"gpt-4-turbo", 128000, tokens.FamilyCL100k},
	{"gpt-4", 8192, tokens.FamilyCL100k},
	{"gpt-3.5-turbo", 16385, tokens.FamilyCL100k},
	{"o1", 200000, tokens.FamilyO200k},
	{"o3", 200000, tokens.FamilyO200k},
	{"o4-mini", 200000, tokens.FamilyO200k},
}

// LookupModel resolves a model id. ok is false for unknown models, which
// get a zero context window and the approximate tokenizer family.
func LookupModel(id string) (m Model, ok bool) {
	id = strings.ToLower(strings.TrimSpace(id))
	best := match(id)
	if best < 0 {
		return Model{ID: id, Family: tokens.FamilyUnknown}, false
	}
	m = catalog[best]
	m.ID = id
	return m, true
}

// Models returns the catalog entries.
func Models() []Model {
	out := make([]Model, len(catalog))
	copy(out, catalog)
	return out
}

// match returns the index of the longest catalog prefix of id, or -1.
func match(id string) int {
	best := -1
	for i, c := range catalog {
		if strings.HasPrefix(id, c.ID) && (best < 0 || len(c.ID) > len(catalog[best].ID)) {
			best = i
		}
	}
	return best
}
