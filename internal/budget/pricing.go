package budget

import (
	"strings"

	"github.com/hpungsan/governor/internal/intent"
)

// DefaultInputPer1K is the input price assumed for models without pricing.
const DefaultInputPer1K = 0.003

// Pricing is the USD price per 1K tokens.
type Pricing struct {
	InputPer1K  float64 `json:"input_per_1k"`
	OutputPer1K float64 `json:"output_per_1k"`
}

// Model tiers.
const (
	TierEconomy  = "economy"
	TierStandard = "standard"
	TierPremium  = "premium"
)

type modelProfile struct {
	Pricing
	tier string
	// capabilities rate the model per intent; nil means the model is priced
	// but never recommended on capability.
	capabilities map[intent.Intent]float64
}

func caps(codeGen, debugging, explanation, search, planning, review, generic float64) map[intent.Intent]float64 {
	return map[intent.Intent]float64{
		intent.CodeGeneration: codeGen,
		intent.Debugging:      debugging,
		intent.Explanation:    explanation,
		intent.Search:         search,
		intent.Planning:       planning,
		intent.Review:         review,
		intent.Generic:        generic,
	}
}

// profiles is keyed by catalog id.
var profiles = map[string]modelProfile{
	"claude-sonnet-4":   {Pricing{0.003, 0.015}, TierStandard, caps(0.95, 0.95, 0.95, 0.80, 0.95, 0.95, 0.90)},
	"claude-opus-4":     {Pricing{0.015, 0.075}, TierPremium, caps(1.0, 1.0, 1.0, 0.85, 1.0, 1.0, 0.95)},
	"claude-3-5-sonnet": {Pricing{0.003, 0.015}, TierStandard, caps(0.95, 0.95, 0.90, 0.75, 0.90, 0.90, 0.85)},
	"claude-3-sonnet":   {Pricing{0.003, 0.015}, TierStandard, caps(0.85, 0.85, 0.85, 0.70, 0.80, 0.80, 0.80)},
	"claude-3-haiku":    {Pricing{0.00025, 0.00125}, TierEconomy, caps(0.70, 0.65, 0.75, 0.80, 0.60, 0.65, 0.70)},
	"claude-3-opus":     {Pricing{0.015, 0.075}, TierPremium, caps(0.95, 0.95, 0.95, 0.80, 0.95, 0.95, 0.90)},
	"claude-3-7-sonnet": {Pricing: Pricing{0.003, 0.015}, tier: TierStandard},
	"claude-3-5-haiku":  {Pricing: Pricing{0.0008, 0.004}, tier: TierEconomy},
	"gpt-4.1":           {Pricing: Pricing{0.002, 0.008}, tier: TierStandard},
	"gpt-4-turbo":       {Pricing: Pricing{0.01, 0.03}, tier: TierStandard},
	"gpt-4o":            {Pricing: Pricing{0.005, 0.015}, tier: TierStandard},
	"gpt-3.5-turbo":     {Pricing: Pricing{0.0005, 0.0015}, tier: TierEconomy},
}

// PricingFor returns the price of a model id. ok is false when the model has
// no known pricing; the returned Pricing then uses DefaultInputPer1K.
func PricingFor(id string) (Pricing, bool) {
	if p, ok := profileFor(id); ok {
		return p.Pricing, true
	}
	return Pricing{InputPer1K: DefaultInputPer1K}, false
}

func profileFor(id string) (modelProfile, bool) {
	i := match(strings.ToLower(strings.TrimSpace(id)))
	if i < 0 {
		return modelProfile{}, false
	}
	p, ok := profiles[catalog[i].ID]
	return p, ok
}
