package budget

import (
	"cmp"
	"fmt"
	"math"
	"slices"

	"github.com/hpungsan/governor/internal/intent"
)

// Thresholds of the model recommendation.
const (
	// effectiveWindowPct is the share of a context window usable before a
	// larger model is recommended.
	effectiveWindowPct = 0.80
	// largerWindowMargin is the headroom a larger model must offer.
	largerWindowMargin = 1.2
	// cheaperWindowMargin is the headroom a cheaper model must offer.
	cheaperWindowMargin = 1.1
	// cheaperCapabilityPct is the share of the requested model's capability
	// a cheaper model must reach.
	cheaperCapabilityPct = 0.9
	// upgradeCapabilityGain is the capability gain worth an upgrade.
	upgradeCapabilityGain = 0.15
	maxAlternatives       = 2
)

// highComplexity intents may need a stronger model than an economy tier.
var highComplexity = map[intent.Intent]bool{
	intent.CodeGeneration: true,
	intent.Debugging:      true,
	intent.Planning:       true,
}

// ModelRecommendation is advice on the target model. The plan is always
// computed for the requested model.
type ModelRecommendation struct {
	Recommended    string   `json:"recommended"`
	Original       string   `json:"original"`
	Reason         string   `json:"reason"`
	CostSavingsPct *float64 `json:"cost_savings_pct,omitempty"`
	Alternatives   []string `json:"alternatives"`
}

// RecommendModel suggests a model for contextTokens of intent in. Checks run
// in order: a larger context window when the requested model's effective
// window is exceeded, a cheaper model of comparable capability when
// preferCost is set, and an upgrade for complex intents on an economy model.
func RecommendModel(requested string, in intent.Intent, contextTokens int, preferCost bool) ModelRecommendation {
	keep := func(reason string) ModelRecommendation {
		return ModelRecommendation{Recommended: requested, Original: requested, Reason: reason, Alternatives: []string{}}
	}

	m, known := LookupModel(requested)
	if known && float64(contextTokens) > float64(m.ContextWindow)*effectiveWindowPct {
		if larger := LargerContextModels(contextTokens); len(larger) > 0 {
			return ModelRecommendation{
				Recommended:  larger[0],
				Original:     requested,
				Reason:       fmt.Sprintf("context size (%d) exceeds the effective limit of %s", contextTokens, requested),
				Alternatives: larger[1:min(len(larger), 1+maxAlternatives)],
			}
		}
	}

	cur, ok := profileFor(requested)
	if !ok || cur.capabilities == nil {
		return keep("no capability data for the requested model")
	}
	curID := catalog[match(m.ID)].ID

	if preferCost {
		if cheaper, ok := cheaperModel(curID, cur, in, contextTokens); ok {
			rec := profiles[cheaper]
			pct := math.Round((cur.InputPer1K-rec.InputPer1K)/cur.InputPer1K*1000) / 10
			return ModelRecommendation{
				Recommended:    cheaper,
				Original:       requested,
				Reason:         fmt.Sprintf("cost optimization: %s is sufficient for %s", cheaper, in),
				CostSavingsPct: &pct,
				Alternatives:   []string{requested},
			}
		}
	}

	if highComplexity[in] && cur.tier == TierEconomy {
		if upgraded, ok := upgradedModel(curID, cur, in); ok {
			return ModelRecommendation{
				Recommended:  upgraded,
				Original:     requested,
				Reason:       fmt.Sprintf("task complexity (%s) may benefit from %s", in, upgraded),
				Alternatives: []string{requested},
			}
		}
	}
	return keep(fmt.Sprintf("requested model suitable for %s", in))
}

// LargerContextModels lists priced models whose window holds tokens with
// headroom, cheapest input price first.
func LargerContextModels(tokens int) []string {
	type candidate struct {
		id   string
		cost float64
	}
	var cs []candidate
	for _, c := range catalog {
		p, ok := profiles[c.ID]
		if !ok || float64(c.ContextWindow) < float64(tokens)*largerWindowMargin {
			continue
		}
		cs = append(cs, candidate{c.ID, p.InputPer1K})
	}
	slices.SortStableFunc(cs, func(a, b candidate) int { return cmp.Compare(a.cost, b.cost) })
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.id
	}
	return out
}

// cheaperModel picks the most capable model that is cheaper than cur, fits
// tokens and keeps most of cur's capability. Ties go to the lower price.
func cheaperModel(curID string, cur modelProfile, in intent.Intent, tokens int) (string, bool) {
	minCapability := cur.capabilities[in] * cheaperCapabilityPct
	best, bestCap, bestCost := "", 0.0, 0.0
	for _, c := range catalog {
		p, ok := profiles[c.ID]
		if !ok || c.ID == curID || p.capabilities == nil {
			continue
		}
		capability := p.capabilities[in]
		if capability < minCapability ||
			float64(c.ContextWindow) < float64(tokens)*cheaperWindowMargin ||
			p.InputPer1K >= cur.InputPer1K {
			continue
		}
		if best == "" || capability > bestCap || (capability == bestCap && p.InputPer1K < bestCost) {
			best, bestCap, bestCost = c.ID, capability, p.InputPer1K
		}
	}
	return best, best != ""
}

// upgradedModel returns the cheapest model clearly more capable than cur.
// Ties keep catalog order.
func upgradedModel(curID string, cur modelProfile, in intent.Intent) (string, bool) {
	best, bestCost := "", 0.0
	for _, c := range catalog {
		p, ok := profiles[c.ID]
		if !ok || c.ID == curID || p.capabilities == nil {
			continue
		}
		if p.capabilities[in] <= cur.capabilities[in]+upgradeCapabilityGain {
			continue
		}
		if best == "" || p.InputPer1K < bestCost {
			best, bestCost = c.ID, p.InputPer1K
		}
	}
	return best, best != ""
}
