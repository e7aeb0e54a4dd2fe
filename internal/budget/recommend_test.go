package budget

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hpungsan/governor/internal/intent"
)

func TestRecommendModel(t *testing.T) {
	tests := []struct {
		name         string
		model        string
		intent       intent.Intent
		tokens       int
		preferCost   bool
		want         string
		alternatives []string
	}{
		{"cheaper model for search", "claude-sonnet-4", intent.Search, 10000, true, "claude-3-haiku", []string{"claude-sonnet-4"}},
		{"cost savings disabled", "claude-sonnet-4", intent.Search, 10000, false, "claude-sonnet-4", []string{}},
		{"no cheaper model for debugging", "claude-sonnet-4-20250514", intent.Debugging, 10000, true, "claude-sonnet-4-20250514", []string{}},
		{"economy model upgraded for debugging", "claude-3-haiku", intent.Debugging, 10000, true, "claude-sonnet-4", []string{"claude-3-haiku"}},
		{"economy model kept for search", "claude-3-haiku", intent.Search, 10000, true, "claude-3-haiku", []string{}},
		{"larger window", "claude-sonnet-4", intent.Debugging, 190000, true, "gpt-4.1", []string{}},
		{"priced model without capabilities", "gpt-4o", intent.Search, 1000, true, "gpt-4o", []string{}},
		{"unknown model", "llama-3", intent.Generic, 1000, true, "llama-3", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := RecommendModel(tt.model, tt.intent, tt.tokens, tt.preferCost)
			assert.Equal(t, tt.want, rec.Recommended)
			assert.Equal(t, tt.model, rec.Original)
			assert.Equal(t, tt.alternatives, rec.Alternatives)
			assert.NotEmpty(t, rec.Reason)
		})
	}
}

func TestRecommendModel_CostSavings(t *testing.T) {
	rec := RecommendModel("claude-sonnet-4", intent.Search, 10000, true)
	require.NotNil(t, rec.CostSavingsPct)
	assert.Equal(t, 91.7, *rec.CostSavingsPct)

	rec = RecommendModel("claude-3-haiku", intent.Debugging, 10000, true)
	assert.Nil(t, rec.CostSavingsPct)
}

func TestLargerContextModels(t *testing.T) {
	assert.Equal(t, []string{"gpt-4.1"}, LargerContextModels(300000))
	assert.Empty(t, LargerContextModels(1000000))

	small := LargerContextModels(1000)
	require.NotEmpty(t, small)
	assert.Equal(t, "claude-3-haiku", small[0], "cheapest first")
}

func TestPricingFor(t *testing.T) {
	p, ok := PricingFor("claude-sonnet-4-20250514")
	assert.True(t, ok)
	assert.Equal(t, Pricing{InputPer1K: 0.003, OutputPer1K: 0.015}, p)

	p, ok = PricingFor("claude-future-9")
	assert.False(t, ok, "the catch-all claude prefix has no pricing")
	assert.Equal(t, DefaultInputPer1K, p.InputPer1K)
}
