package experiment

import (
	"fmt"
	"strings"
	"time"
)

// Markdown renders the report for humans. The web dashboard converts it to
// HTML with goldmark.
func Markdown(r *Report) string {
	var b strings.Builder
	w := func(format string, args ...any) { fmt.Fprintf(&b, format+"\n", args...) }
	yesNo := func(ok bool) string {
		if ok {
			return "YES"
		}
		return "NO"
	}
	passFail := func(ok bool) string {
		if ok {
			return "PASS"
		}
		return "FAIL"
	}

	w("# Live Telemetry A/B Report")
	w("")
	w("- Generated: %s", r.GeneratedAt.Format(time.RFC3339))
	w("- Experiment: `%s`", orNone(r.ExperimentID))
	w("- Ready to claim measured savings publicly: **%s**", yesNo(r.Summary.ClaimReady))
	w("")
	w("## Sample Size")
	w("")
	w("- Optimized sessions: **%d**", r.Optimized.Sessions)
	w("- Control sessions: **%d**", r.Control.Sessions)
	if r.WindowDays > 0 {
		w("- Window: **%d days**", r.WindowDays)
	}
	w("")
	w("## Intent Balance")
	w("")
	w("- Required intents: `%s`", orNone(strings.Join(r.RequiredIntents, ", ")))
	w("- Min samples per intent per variant: **%d**", r.MinSamplesPerIntent)
	w("")
	w("| Intent | Optimized N | Control N | Coverage |")
	w("|---|---:|---:|---|")
	for _, row := range r.IntentBalance {
		w("| %s | %d | %d | %s |", row.Intent, row.Optimized, row.Control, passFail(row.Met))
	}
	w("")
	w("## Section Savings (Measured)")
	w("")
	w("| Variant | Filter Mean %% | Prune Mean %% | Overall Mean %% | Overall Median %% | Quality Preserved %% | Within Budget %% |")
	w("|---|---:|---:|---:|---:|---:|---:|")
	for _, v := range []struct {
		name string
		s    VariantSummary
	}{{"optimized", r.Optimized}, {"control", r.Control}} {
		w("| %s | %.2f | %.2f | %.2f | %.2f | %.2f | %.2f |", v.name,
			v.s.FilterSavingsPct.Mean, v.s.PruningSavingsPct.Mean,
			v.s.OverallSavingsPct.Mean, v.s.OverallSavingsPct.Median,
			v.s.QualityPreservedRate, v.s.WithinBudgetRate)
	}
	if len(r.PerIntent) > 0 {
		w("")
		w("## Per-Intent Savings")
		w("")
		w("| Intent | Optimized N | Control N | Optimized Mean %% | Control Mean %% | Lift (pp) |")
		w("|---|---:|---:|---:|---:|---:|")
		for _, row := range r.PerIntent {
			w("| %s | %d | %d | %.2f | %.2f | %.2f |", row.Intent, row.OptimizedSessions, row.ControlSessions,
				row.OptimizedSavingPct, row.ControlSavingPct, row.LiftPctPoints)
		}
	}
	w("")
	w("## Effect Estimate")
	w("")
	w("- Overall savings lift vs control: **%.3f percentage points**", r.Comparison.LiftPctPoints)
	if r.Comparison.Skipped {
		w("- Confidence interval and p-value: **skipped** (sample-count gate failed)")
	} else {
		w("- CI (overall lift): **[%.3f, %.3f]**", r.Comparison.CILow, r.Comparison.CIHigh)
		w("- p-value (overall lift): **%.6f**", r.Comparison.PValue)
		if r.Comparison.EarlyStopped {
			w("- Permutation test stopped early after %d iterations (decision settled)", r.Comparison.PermutationIterations)
		}
	}
	w("- Output token reduction vs control (mean): **%.2f tokens (%.2f%%)**",
		r.Comparison.OutputReductionTokens, r.Comparison.OutputReductionPct)
	w("")
	w("## Claim Gates")
	w("")
	for _, g := range r.Gates {
		w("- %s `%s`", passFail(g.Passed), g.Name)
	}
	if len(r.Summary.UnderSampledIntents) > 0 {
		w("")
		w("Under-sampled intents: `%s`", strings.Join(r.Summary.UnderSampledIntents, ", "))
	}
	w("")
	w("## Notes")
	w("")
	w("- Savings percentages are measured from recorded sessions, not synthetic benchmarks.")
	w("- Run this report after collecting enough sessions in both variants.")
	return b.String()
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}
