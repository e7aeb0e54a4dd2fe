// Package tier sorts context units into load tiers: critical content that is
// always loaded, contextual content loaded on demand, and reference content
// that should be linked rather than loaded.
package tier

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/hpungsan/governor/internal/unit"
)

// Tier is a load tier.
type Tier int

const (
	Critical   Tier = 1
	Contextual Tier = 2
	Reference  Tier = 3
)

// Load conditions per tier.
const (
	LoadAlways   = "always"
	LoadOnDemand = "on_demand"
	LoadNever    = "never_load_link_only"
)

// Budgets are the token targets per tier.
const (
	CriticalBudget   = 800
	ContextualBudget = 1500
	// largeContextual is the size at which a contextual unit should move to
	// the reference tier.
	largeContextual = 1000
)

// MaxScanChars bounds the content scanned per unit.
const MaxScanChars = 8000

var (
	criticalPatterns = compile(
		`critical\s*rules?`, `never\s+do`, `don'?t\s+ever`, `important\s*:`,
		`⚠️|🚨|❌`, `quick\s*start`, `getting\s*started`, `emergency`,
		`troubleshoot`, `common\s*issues?`, `overview`, `purpose`,
	)
	contextualPatterns = compile(
		`api\s*(reference|docs|endpoints)`, `database\s*(schema|docs)`,
		`deployment\s*(guide|docs)`, `testing\s*(guide|patterns)`,
		`configuration`, `architecture`, `components?`, `modules?`,
	)
	referencePatterns = compile(
		`changelog`, `history`, `generated\s*docs?`, `complete\s*(api|reference)`,
		`full\s*(documentation|specs?)`, `detailed\s*troubleshooting`, `appendix`, `legacy`,
	)
)

// fileTiers maps well-known file names (lowercased substrings of the unit
// source) to tiers. Checked in order before content patterns.
var fileTiers = []struct {
	tier     Tier
	patterns []string
}{
	{Critical, []string{"claude.md", "readme.md", "quick_ref.md"}},
	{Contextual, []string{"api.md", "database.md", "testing.md", "deployment.md", "architecture.md"}},
	{Reference, []string{"changelog.md", "history.md", "docs/troubleshooting/", "generated/"}},
}

func compile(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(exprs))
	for i, e := range exprs {
		out[i] = regexp.MustCompile(`(?i)` + e)
	}
	return out
}

// LoadCondition returns the load condition of t.
func (t Tier) LoadCondition() string {
	switch t {
	case Critical:
		return LoadAlways
	case Reference:
		return LoadNever
	default:
		return LoadOnDemand
	}
}

// Classify returns the tier of content from source. The source name wins
// over content patterns; unknown content is contextual.
func Classify(source, content string) Tier {
	name := strings.ToLower(source)
	for _, ft := range fileTiers {
		for _, p := range ft.patterns {
			if strings.Contains(name, p) {
				return ft.tier
			}
		}
	}

	content = head(content, MaxScanChars)
	critical := countMatches(criticalPatterns, content)
	contextual := countMatches(contextualPatterns, content)
	reference := countMatches(referencePatterns, content)
	switch {
	case critical > contextual && critical > reference:
		return Critical
	case reference > contextual:
		return Reference
	default:
		return Contextual
	}
}

func countMatches(res []*regexp.Regexp, s string) int {
	n := 0
	for _, re := range res {
		if re.MatchString(s) {
			n++
		}
	}
	return n
}

// head returns at most n bytes of s, cut on a rune boundary.
func head(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// Assignment is the tier of one unit.
type Assignment struct {
	ID            string `json:"id"`
	Tier          Tier   `json:"tier"`
	LoadCondition string `json:"load_condition"`
	Tokens        int    `json:"tokens"`
}

// Analysis is the tiered view of a unit set.
type Analysis struct {
	Enabled         bool         `json:"enabled"`
	Reason          string       `json:"reason,omitempty"`
	CriticalTokens  int          `json:"tier_1_tokens"`
	ContextualTok   int          `json:"tier_2_tokens"`
	ReferenceTokens int          `json:"tier_3_tokens"`
	CriticalOver    bool         `json:"tier_1_over_budget"`
	CurrentTokens   int          `json:"current_startup_tokens"`
	OptimizedTokens int          `json:"optimized_startup_tokens"`
	TokensSaved     int          `json:"tokens_saved_per_session"`
	ReductionPct    float64      `json:"reduction_percentage"`
	Units           []Assignment `json:"units,omitempty"`
	Recommendations []string     `json:"recommendations,omitempty"`
}

// Disabled returns an Analysis that records why tiering did not run.
func Disabled(reason string) Analysis {
	return Analysis{Reason: reason}
}

// Analyze classifies units and estimates the startup saving of loading only
// the critical tier.
func Analyze(units []unit.ContextUnit) Analysis {
	a := Analysis{Enabled: true, Units: make([]Assignment, 0, len(units))}
	hasQuickRef := false
	var large []Assignment

	for _, u := range units {
		t := Classify(sourceName(u), u.Content)
		as := Assignment{ID: u.ID, Tier: t, LoadCondition: t.LoadCondition(), Tokens: u.RawTokens}
		a.Units = append(a.Units, as)
		switch t {
		case Critical:
			a.CriticalTokens += u.RawTokens
			if strings.Contains(strings.ToLower(sourceName(u)), "quick_ref") {
				hasQuickRef = true
			}
		case Contextual:
			a.ContextualTok += u.RawTokens
			if u.RawTokens > largeContextual {
				large = append(large, as)
			}
		case Reference:
			a.ReferenceTokens += u.RawTokens
		}
	}

	a.CurrentTokens = a.CriticalTokens + a.ContextualTok + a.ReferenceTokens
	a.OptimizedTokens = a.CriticalTokens
	a.TokensSaved = a.CurrentTokens - a.OptimizedTokens
	if a.CurrentTokens > 0 {
		a.ReductionPct = math.Round(float64(a.TokensSaved)/float64(a.CurrentTokens)*1000) / 10
	}
	a.CriticalOver = a.CriticalTokens > CriticalBudget

	if a.CriticalOver {
		a.Recommendations = append(a.Recommendations, fmt.Sprintf(
			"tier 1 is %d tokens over budget (%d/%d); move detailed content to tier 2 docs and link to them",
			a.CriticalTokens-CriticalBudget, a.CriticalTokens, CriticalBudget))
	}
	for _, as := range large {
		a.Recommendations = append(a.Recommendations, fmt.Sprintf(
			"%s has %d tokens; consider moving it to tier 3 (reference) and linking", as.ID, as.Tokens))
	}
	if len(units) > 0 && !hasQuickRef {
		a.Recommendations = append(a.Recommendations,
			"create a QUICK_REF.md with common commands and troubleshooting for tier 1")
	}
	return a
}

// sourceName is the unit source, or its id when no source is set.
func sourceName(u unit.ContextUnit) string {
	if u.Source != "" {
		return u.Source
	}
	return u.ID
}
