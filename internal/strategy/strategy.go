// Package strategy holds the per-intent pruning profiles and the unit scorer.
package strategy

import (
	"cmp"
	"maps"
	"slices"

	gerrors "github.com/hpungsan/governor/internal/errors"
	"github.com/hpungsan/governor/internal/intent"
	"github.com/hpungsan/governor/internal/unit"
)

// Weights is the (priority, relevance, recency) weight triple.
type Weights struct {
	Priority  float64 `json:"priority"`
	Relevance float64 `json:"relevance"`
	Recency   float64 `json:"recency"`
}

// Profile is a named pruning strategy.
type Profile struct {
	Name    string                `json:"name"`
	Weights Weights               `json:"weights"`
	Types   map[unit.Type]float64 `json:"type_weights"`
	// Preserved types receive their type weight as a score bonus.
	Preserved []unit.Type `json:"preserved_types"`
	// NeverPrune types are protected outright.
	NeverPrune []unit.Type `json:"never_prune,omitempty"`
	// Aggressiveness scales how readily the profile shrinks content; 0..1.
	Aggressiveness float64 `json:"prune_aggressiveness"`
}

// IsPreserved reports whether t is in the preserved set.
func (p *Profile) IsPreserved(t unit.Type) bool {
	return slices.Contains(p.Preserved, t)
}

// IsNeverPrune reports whether t may never be pruned under this profile.
func (p *Profile) IsNeverPrune(t unit.Type) bool {
	return slices.Contains(p.NeverPrune, t)
}

// TypeBonus returns the type weight when t is preserved, else 0.
func (p *Profile) TypeBonus(t unit.Type) float64 {
	if !p.IsPreserved(t) {
		return 0
	}
	return p.Types[t]
}

// Table maps strategy names to profiles. Read-only after construction.
type Table struct {
	profiles map[string]*Profile
}

// DefaultTable returns the built-in profiles, one per intent.
func DefaultTable() *Table {
	t := &Table{profiles: make(map[string]*Profile)}
	add := func(p *Profile) { t.profiles[p.Name] = p }

	add(&Profile{
		Name:           string(intent.CodeGeneration),
		Weights:        Weights{Priority: 0.5, Relevance: 0.3, Recency: 0.2},
		Types:          map[unit.Type]float64{unit.TypeFile: 0.25, unit.TypeDocumentation: 0.15, unit.TypeDiff: 0.10, unit.TypeMessage: 0.05},
		Preserved:      []unit.Type{unit.TypeFile, unit.TypeDocumentation},
		Aggressiveness: 0.5,
	})
	add(&Profile{
		Name:           string(intent.Debugging),
		Weights:        Weights{Priority: 0.4, Relevance: 0.3, Recency: 0.3},
		Types:          map[unit.Type]float64{unit.TypeToolResult: 0.30, unit.TypeFile: 0.20, unit.TypeMessage: 0.10, unit.TypeDiff: 0.10},
		Preserved:      []unit.Type{unit.TypeToolResult, unit.TypeFile},
		Aggressiveness: 0.4,
	})
	add(&Profile{
		Name:           string(intent.Explanation),
		Weights:        Weights{Priority: 0.5, Relevance: 0.35, Recency: 0.15},
		Types:          map[unit.Type]float64{unit.TypeDocumentation: 0.25, unit.TypeFile: 0.20, unit.TypeMessage: 0.10},
		Preserved:      []unit.Type{unit.TypeDocumentation, unit.TypeFile},
		Aggressiveness: 0.5,
	})
	add(&Profile{
		Name:           string(intent.Search),
		Weights:        Weights{Priority: 0.3, Relevance: 0.5, Recency: 0.2},
		Types:          map[unit.Type]float64{unit.TypeFile: 0.30, unit.TypeToolResult: 0.20},
		Preserved:      []unit.Type{unit.TypeFile, unit.TypeToolResult},
		Aggressiveness: 0.6,
	})
	add(&Profile{
		Name:           string(intent.Planning),
		Weights:        Weights{Priority: 0.5, Relevance: 0.2, Recency: 0.3},
		Types:          map[unit.Type]float64{unit.TypeMessage: 0.25, unit.TypeDocumentation: 0.20},
		Preserved:      []unit.Type{unit.TypeMessage, unit.TypeDocumentation},
		Aggressiveness: 0.5,
	})
	add(&Profile{
		Name:           string(intent.Review),
		Weights:        Weights{Priority: 0.4, Relevance: 0.3, Recency: 0.3},
		Types:          map[unit.Type]float64{unit.TypeDiff: 0.30, unit.TypeFile: 0.20, unit.TypeMessage: 0.05},
		Preserved:      []unit.Type{unit.TypeDiff, unit.TypeFile},
		NeverPrune:     []unit.Type{unit.TypeDiff},
		Aggressiveness: 0.4,
	})
	add(&Profile{
		Name:           string(intent.Generic),
		Weights:        Weights{Priority: 0.5, Relevance: 0.25, Recency: 0.25},
		Types:          map[unit.Type]float64{},
		Aggressiveness: 0.5,
	})
	return t
}

// Get returns the named profile. Unknown names are a configuration error.
func (t *Table) Get(name string) (*Profile, error) {
	p, ok := t.profiles[name]
	if !ok {
		return nil, gerrors.NewInvalidConfig("strategy", "unknown strategy "+name)
	}
	return p, nil
}

// ForIntent returns the profile for an intent.
func (t *Table) ForIntent(in intent.Intent) (*Profile, error) {
	return t.Get(string(in))
}

// Names returns the profile names in sorted order.
func (t *Table) Names() []string {
	return slices.Sorted(maps.Keys(t.profiles))
}

// Score computes the combined unit score. A missing relevance counts as 0.
// The type bonus is added unclamped, so preserved types may score above 1.
func Score(u *unit.ContextUnit, p *Profile) float64 {
	rel := 0.0
	if u.Relevance != nil {
		rel = *u.Relevance
	}
	return p.Weights.Priority*u.Priority +
		p.Weights.Relevance*rel +
		p.Weights.Recency*u.Recency +
		p.TypeBonus(u.Type)
}

// Scored pairs a unit with its score.
type Scored struct {
	Unit  *unit.ContextUnit
	Score float64
}

// Compare orders scored units best first: higher score, then protected,
// then higher priority, then lower id.
func Compare(a, b Scored) int {
	if c := cmp.Compare(b.Score, a.Score); c != 0 {
		return c
	}
	if a.Unit.Protected != b.Unit.Protected {
		if a.Unit.Protected {
			return -1
		}
		return 1
	}
	if c := cmp.Compare(b.Unit.Priority, a.Unit.Priority); c != 0 {
		return c
	}
	return cmp.Compare(a.Unit.ID, b.Unit.ID)
}

// Rank scores units and returns them sorted by Compare.
func Rank(units []unit.ContextUnit, p *Profile) []Scored {
	out := make([]Scored, len(units))
	for i := range units {
		out[i] = Scored{Unit: &units[i], Score: Score(&units[i], p)}
	}
	slices.SortStableFunc(out, Compare)
	return out
}
