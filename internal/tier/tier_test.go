package tier

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hpungsan/governor/internal/unit"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name    string
		source  string
		content string
		want    Tier
	}{
		{"readme by name", "docs/README.md", "", Critical},
		{"api doc by name", "API.md", "overview purpose quick start", Contextual},
		{"changelog by name", "CHANGELOG.md", "critical rules", Reference},
		{"troubleshooting dir", "docs/troubleshooting/db.md", "", Reference},
		{"critical content", "notes.txt", "Critical rules: never do this. Quick start below.", Critical},
		{"reference content", "notes.txt", "Legacy appendix with the full changelog", Reference},
		{"contextual content", "notes.txt", "The architecture has three modules", Contextual},
		{"no signal", "notes.txt", "plain text", Contextual},
		{"tie goes contextual", "notes.txt", "overview of the architecture", Contextual},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.source, tt.content))
		})
	}
}

func TestClassify_ScansBoundedPrefix(t *testing.T) {
	content := strings.Repeat("x", MaxScanChars) + " critical rules quick start emergency"
	assert.Equal(t, Contextual, Classify("notes.txt", content))
}

func TestLoadCondition(t *testing.T) {
	assert.Equal(t, LoadAlways, Critical.LoadCondition())
	assert.Equal(t, LoadOnDemand, Contextual.LoadCondition())
	assert.Equal(t, LoadNever, Reference.LoadCondition())
}

func TestAnalyze(t *testing.T) {
	units := []unit.ContextUnit{
		{ID: "readme", Source: "README.md", RawTokens: 600},
		{ID: "quickref", Source: "QUICK_REF.md", RawTokens: 300},
		{ID: "api", Source: "API.md", RawTokens: 1200},
		{ID: "log", Source: "CHANGELOG.md", RawTokens: 900},
	}
	a := Analyze(units)

	assert.True(t, a.Enabled)
	assert.Equal(t, 900, a.CriticalTokens)
	assert.Equal(t, 1200, a.ContextualTok)
	assert.Equal(t, 900, a.ReferenceTokens)
	assert.True(t, a.CriticalOver)
	assert.Equal(t, 3000, a.CurrentTokens)
	assert.Equal(t, 900, a.OptimizedTokens)
	assert.Equal(t, 2100, a.TokensSaved)
	assert.Equal(t, 70.0, a.ReductionPct)

	require.Len(t, a.Units, 4)
	assert.Equal(t, Assignment{ID: "api", Tier: Contextual, LoadCondition: LoadOnDemand, Tokens: 1200}, a.Units[2])

	require.Len(t, a.Recommendations, 2)
	assert.Contains(t, a.Recommendations[0], "100 tokens over budget")
	assert.Contains(t, a.Recommendations[1], "api has 1200 tokens")
}

func TestAnalyze_SuggestsQuickRef(t *testing.T) {
	a := Analyze([]unit.ContextUnit{{ID: "main.go", Source: "main.go", Content: "package main", RawTokens: 50}})
	assert.False(t, a.CriticalOver)
	require.Len(t, a.Recommendations, 1)
	assert.Contains(t, a.Recommendations[0], "QUICK_REF.md")
}

func TestAnalyze_Empty(t *testing.T) {
	a := Analyze(nil)
	assert.True(t, a.Enabled)
	assert.Zero(t, a.ReductionPct)
	assert.Empty(t, a.Recommendations)
}
