package relevance

import (
	"math"
	"regexp"

	"github.com/hpungsan/governor/internal/intent"
	"github.com/hpungsan/governor/internal/unit"
)

// Relevance categories.
const (
	CategoryHigh   = "high"
	CategoryMedium = "medium"
	CategoryLow    = "low"
	CategoryZero   = "zero"
)

// Category thresholds on a relevance score.
const (
	HighThreshold   = 0.7
	MediumThreshold = 0.4
	// noSignalScore is the score of content that matches no pattern.
	noSignalScore = 0.3
)

// MaxWasteScanChars bounds the content scanned for waste signals.
const MaxWasteScanChars = 5000

// contentSignals are checked in order; the first match decides.
var contentSignals = []struct {
	re     *regexp.Regexp
	intent intent.Intent
	score  float64
}{
	{regexp.MustCompile(`(?i)error|exception`), intent.Debugging, 0.9},
	{regexp.MustCompile(`(?i)test`), intent.Review, 0.8},
	{regexp.MustCompile(`TODO`), intent.Planning, 0.7},
	{regexp.MustCompile(`(?i)import`), intent.CodeGeneration, 0.6},
	{regexp.MustCompile(`(?i)function|class`), intent.CodeGeneration, 0.7},
}

// CategoryStats is the waste count of one category.
type CategoryStats struct {
	Units  int `json:"units"`
	Tokens int `json:"tokens"`
}

// WasteAnalysis summarizes how many tokens go to low-relevance content.
type WasteAnalysis struct {
	Enabled        bool                     `json:"enabled"`
	Reason         string                   `json:"reason,omitempty"`
	TotalTokens    int                      `json:"total_tokens"`
	WastedTokens   int                      `json:"wasted_tokens"`
	WastePct       float64                  `json:"waste_percentage"`
	ByCategory     map[string]CategoryStats `json:"by_category"`
	Recommendation string                   `json:"recommendation,omitempty"`
}

// DisabledWaste returns a WasteAnalysis that records why it did not run.
func DisabledWaste(reason string) WasteAnalysis {
	return WasteAnalysis{Reason: reason}
}

// Categorize returns the relevance category of u for intent in. A caller
// score decides when present; otherwise content signals do.
func Categorize(u unit.ContextUnit, in intent.Intent) (string, float64) {
	if u.Relevance != nil {
		s := *u.Relevance
		switch {
		case s >= HighThreshold:
			return CategoryHigh, s
		case s >= MediumThreshold:
			return CategoryMedium, s
		case s > 0:
			return CategoryLow, s
		default:
			return CategoryZero, s
		}
	}
	if u.Content == "" {
		return CategoryZero, 0
	}
	content := u.Content
	if len(content) > MaxWasteScanChars {
		content = content[:MaxWasteScanChars]
	}
	for _, sig := range contentSignals {
		if !sig.re.MatchString(content) {
			continue
		}
		if sig.intent == in {
			return CategoryHigh, sig.score
		}
		return CategoryMedium, sig.score
	}
	return CategoryLow, noSignalScore
}

// AnalyzeWaste counts the tokens of low and zero relevance units. Run it
// before Apply so only caller scores count.
func AnalyzeWaste(units []unit.ContextUnit, in intent.Intent) WasteAnalysis {
	w := WasteAnalysis{
		Enabled: true,
		ByCategory: map[string]CategoryStats{
			CategoryHigh: {}, CategoryMedium: {}, CategoryLow: {}, CategoryZero: {},
		},
	}
	for _, u := range units {
		cat, _ := Categorize(u, in)
		st := w.ByCategory[cat]
		st.Units++
		st.Tokens += u.RawTokens
		w.ByCategory[cat] = st
		w.TotalTokens += u.RawTokens
		if cat == CategoryLow || cat == CategoryZero {
			w.WastedTokens += u.RawTokens
		}
	}
	if w.TotalTokens > 0 {
		w.WastePct = math.Round(float64(w.WastedTokens)/float64(w.TotalTokens)*1000) / 10
	}
	w.Recommendation = wasteRecommendation(w.WastePct)
	return w
}

func wasteRecommendation(pct float64) string {
	switch {
	case pct < 10:
		return "context is well optimized"
	case pct < 25:
		return "minor optimization possible; consider filtering low-relevance units"
	case pct < 40:
		return "significant waste; filter out low and zero relevance units"
	default:
		return "high waste; review context selection and drop irrelevant units"
	}
}
