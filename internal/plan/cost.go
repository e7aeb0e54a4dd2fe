package plan

import (
	"math"

	"github.com/hpungsan/governor/internal/budget"
)

// CostEstimate prices the plan's input tokens for the target model.
type CostEstimate struct {
	InputPer1K       float64 `json:"input_price_per_1k"`
	PricingKnown     bool    `json:"pricing_known"`
	EstimatedCostUSD float64 `json:"estimated_cost_usd"`
	BaselineCostUSD  float64 `json:"baseline_cost_usd"`
	SavingsUSD       float64 `json:"savings_vs_baseline_usd"`
}

// Metrics holds derived plan figures.
type Metrics struct {
	Cost CostEstimate `json:"cost"`
}

// estimateCost prices output and baseline tokens at the model's input rate.
// Unpriced models use budget.DefaultInputPer1K.
func estimateCost(model string, baseline, output int) CostEstimate {
	p, known := budget.PricingFor(model)
	c := CostEstimate{
		InputPer1K:       p.InputPer1K,
		PricingKnown:     known,
		EstimatedCostUSD: round6(float64(output) / 1000 * p.InputPer1K),
		BaselineCostUSD:  round6(float64(baseline) / 1000 * p.InputPer1K),
	}
	c.SavingsUSD = round6(c.BaselineCostUSD - c.EstimatedCostUSD)
	return c
}

func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
