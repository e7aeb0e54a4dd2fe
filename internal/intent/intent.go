// Package intent infers the task intent that drives strategy selection.
package intent

import (
	"math"
	"regexp"
	"strings"
	"unicode/utf8"

	gerrors "github.com/hpungsan/governor/internal/errors"
)

// Intent is a task category.
type Intent string

const (
	CodeGeneration Intent = "code_generation"
	Debugging      Intent = "debugging"
	Explanation    Intent = "explanation"
	Search         Intent = "search"
	Planning       Intent = "planning"
	Review         Intent = "review"
	Generic        Intent = "generic"
)

// All lists the taxonomy in tie-break order, generic last.
var All = []Intent{CodeGeneration, Debugging, Explanation, Search, Planning, Review, Generic}

// MaxScanChars bounds how much content the classifier reads.
const MaxScanChars = 5000

// Parse validates an explicit intent name.
func Parse(name string) (Intent, error) {
	n := Intent(strings.ToLower(strings.TrimSpace(name)))
	for _, in := range All {
		if in == n {
			return n, nil
		}
	}
	return "", gerrors.NewInvalidConfig("intent", "unknown intent "+name)
}

type rule struct {
	keywords []string
	patterns []*regexp.Regexp
}

var rules = map[Intent]rule{
	CodeGeneration: {
		keywords: []string{"implement", "create", "build", "write", "generate", "add", "new"},
		patterns: compile(`implement\s+\w+`, `create\s+a\s+\w+`, `write\s+code`),
	},
	Debugging: {
		keywords: []string{"error", "bug", "fix", "issue", "broken", "crash", "fail", "debug"},
		patterns: compile(`error\s*:`, `traceback`, `exception`, `why\s+.*\s+not\s+working`),
	},
	Explanation: {
		keywords: []string{"explain", "what", "how", "why", "understand", "describe", "tell"},
		patterns: compile(`what\s+is\s+\w+`, `how\s+does\s+\w+`, `explain\s+\w+`),
	},
	Search: {
		keywords: []string{"find", "search", "locate", "where", "grep", "look"},
		patterns: compile(`find\s+\w+`, `where\s+is\s+\w+`, `search\s+for`),
	},
	Planning: {
		keywords: []string{"plan", "design", "architect", "structure", "organize", "approach"},
		patterns: compile(`how\s+should\s+i`, `best\s+approach`, `plan\s+to`),
	},
	Review: {
		keywords: []string{"review", "check", "audit", "analyze", "improve", "refactor"},
		patterns: compile(`review\s+\w+`, `check\s+\w+`, `improve\s+\w+`),
	},
}

func compile(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(exprs))
	for i, e := range exprs {
		out[i] = regexp.MustCompile(e)
	}
	return out
}

// Signals are structural hints derived from the normalized units.
type Signals struct {
	ErrorUnits int
	DiffUnits  int
}

// Signal weights added on top of text matches.
const (
	errorSignalWeight = 2.0
	diffSignalWeight  = 2.0
)

// Classification is the classifier output.
type Classification struct {
	Intent     Intent             `json:"intent"`
	Confidence float64            `json:"confidence"`
	Scores     map[Intent]float64 `json:"scores"`
	// Ambiguous is true when two or more intents tied for the best score.
	Ambiguous bool `json:"ambiguous,omitempty"`
}

// Classifier scores text against the fixed taxonomy.
type Classifier struct {
	// Threshold is the confidence below which callers should fall back to
	// the generic strategy. Unmatched and ambiguous input is reported below it.
	Threshold float64
}

// Classify infers the intent of a task description plus unit content.
func (c Classifier) Classify(task, content string, sig Signals) Classification {
	text := strings.ToLower(truncate(task) + " " + truncate(content))
	words := wordSet(text)

	scores := make(map[Intent]float64, len(rules))
	for _, in := range All {
		r, ok := rules[in]
		if !ok {
			continue
		}
		score := 0.0
		for _, kw := range r.keywords {
			if words.hasPrefix(kw) {
				score++
			}
		}
		for _, re := range r.patterns {
			if re.MatchString(text) {
				score += 2
			}
		}
		scores[in] = score
	}
	if sig.ErrorUnits > 0 {
		scores[Debugging] += errorSignalWeight
	}
	if sig.DiffUnits > 0 {
		scores[Review] += diffSignalWeight
	}

	best, bestScore, total, ties := Generic, 0.0, 0.0, 0
	for _, in := range All {
		s := scores[in]
		total += s
		switch {
		case s > bestScore:
			best, bestScore, ties = in, s, 1
		case s == bestScore && s > 0:
			ties++
		}
	}

	low := round2(c.Threshold / 2)
	if bestScore == 0 {
		return Classification{Intent: Generic, Confidence: low, Scores: scores}
	}
	if ties > 1 {
		return Classification{Intent: Generic, Confidence: low, Scores: scores, Ambiguous: true}
	}
	conf := math.Min(0.95, bestScore/math.Max(5, total)+0.3)
	return Classification{Intent: best, Confidence: round2(conf), Scores: scores}
}

// truncate bounds scanned input to MaxScanChars bytes on a rune boundary.
func truncate(s string) string {
	if len(s) <= MaxScanChars {
		return s
	}
	s = s[:MaxScanChars]
	for i := len(s); i > 0 && i > len(s)-utf8.UTFMax; i-- {
		if utf8.RuneStart(s[i-1]) {
			if !utf8.FullRuneInString(s[i-1:]) {
				s = s[:i-1]
			}
			break
		}
	}
	return s
}

type words []string

func wordSet(text string) words {
	return strings.FieldsFunc(text, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '_')
	})
}

func (w words) hasPrefix(kw string) bool {
	for _, word := range w {
		if strings.HasPrefix(word, kw) {
			return true
		}
	}
	return false
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
