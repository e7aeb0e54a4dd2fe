package plan

import (
	"fmt"

	"github.com/hpungsan/governor/internal/prune"
	"github.com/hpungsan/governor/internal/unit"
)

// Quality impact levels.
const (
	ImpactNone        = "none"
	ImpactMinimal     = "minimal"
	ImpactLow         = "low"
	ImpactModerate    = "moderate"
	ImpactSignificant = "significant"
)

// lowPriorityPrune is the normalized priority under which a prune is
// considered harmless.
const lowPriorityPrune = 0.30

// QualityAssurance summarizes the expected quality cost of the plan.
type QualityAssurance struct {
	QualityImpact      string  `json:"quality_impact"`
	QualityPreserved   bool    `json:"quality_preserved"`
	ActualReductionPct float64 `json:"actual_reduction_pct"`
	ProtectedUnitsKept bool    `json:"protected_units_kept"`
	Recommendation     string  `json:"recommendation"`
}

// assessQuality grades the in-engine reduction of post-filter tokens.
func assessQuality(res prune.Result, priorities map[string]float64, ceiling float64) (QualityAssurance, []string) {
	ratio := 0.0
	if res.InputTokens > 0 {
		ratio = float64(res.InputTokens-res.UsedTokens) / float64(res.InputTokens)
	}
	ratio = max(ratio, 0)

	pruned, lowOnly := 0, true
	protectedKept := true
	for _, d := range res.Decisions {
		if d.Action == unit.ActionPrune {
			pruned++
			if priorities[d.ID] >= lowPriorityPrune {
				lowOnly = false
			}
			if d.Protected {
				protectedKept = false
			}
		}
	}

	var warnings []string
	impact := ImpactNone
	switch {
	case ratio == 0:
	case pruned <= 2 && lowOnly:
		impact = ImpactMinimal
	case ratio < 0.25:
		impact = ImpactLow
	case ratio <= ceiling:
		impact = ImpactModerate
		warnings = append(warnings, "moderate reduction applied; review output for completeness")
	default:
		impact = ImpactSignificant
		warnings = append(warnings, "significant context removed; consider increasing the budget")
	}

	pct := round1(ratio * 100)
	return QualityAssurance{
		QualityImpact:      impact,
		QualityPreserved:   ratio <= ceiling,
		ActualReductionPct: pct,
		ProtectedUnitsKept: protectedKept,
		Recommendation:     recommendation(impact, pct),
	}, warnings
}

func recommendation(impact string, pct float64) string {
	switch impact {
	case ImpactNone:
		return "Full context preserved; optimal output quality expected"
	case ImpactMinimal:
		return "Minimal pruning applied; output quality should be unaffected"
	case ImpactLow:
		return "Light pruning applied; output quality preserved"
	case ImpactModerate:
		return fmt.Sprintf("Moderate reduction (%.0f%%); review output for completeness", pct)
	default:
		return fmt.Sprintf("Significant reduction (%.0f%%); consider increasing the budget for better output quality", pct)
	}
}

// reductionStrategy labels how much must be cut to fit the usable budget.
func reductionStrategy(inputTokens, usable int) string {
	if inputTokens <= 0 || inputTokens <= usable {
		return "none"
	}
	r := float64(inputTokens-usable) / float64(inputTokens)
	switch {
	case r < 0.15:
		return "minimal"
	case r < 0.30:
		return "light"
	case r < 0.40:
		return "moderate"
	default:
		return "conservative_aggressive"
	}
}
