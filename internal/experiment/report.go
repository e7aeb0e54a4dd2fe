package experiment

import (
	"context"
	"maps"
	"math"
	"slices"
	"strings"
	"time"

	gerrors "github.com/hpungsan/governor/internal/errors"
)

// Claim gate names, in evaluation order.
const (
	GateMinSamples       = "min_samples_each_variant"
	GateIntentCoverage   = "intent_balanced_coverage"
	GateOptimizedBeats   = "optimized_beats_control_on_overall_savings"
	GateCIExcludesZero   = "overall_ci_excludes_zero"
	GateSignificant      = "overall_p_value_significant"
	GateQualityPreserved = "optimized_quality_preserved_at_least_95pct"
)

// GateNames lists every gate in report order.
var GateNames = []string{
	GateMinSamples, GateIntentCoverage, GateOptimizedBeats,
	GateCIExcludesZero, GateSignificant, GateQualityPreserved,
}

// Sample is one recorded session outcome.
type Sample struct {
	SessionID         string    `json:"session_id"`
	ExperimentID      string    `json:"experiment_id"`
	Variant           Variant   `json:"variant"`
	AssignmentKey     string    `json:"assignment_key,omitempty"`
	Intent            string    `json:"intent"`
	Budget            int       `json:"budget,omitempty"`
	BaselineTokens    int       `json:"baseline_tokens"`
	PostFilterTokens  int       `json:"post_filter_tokens"`
	OutputTokens      int       `json:"output_tokens"`
	FilterSavingsPct  float64   `json:"filter_savings_pct"`
	PruningSavingsPct float64   `json:"pruning_savings_pct"`
	OverallSavingsPct float64   `json:"overall_savings_pct"`
	WithinBudget      bool      `json:"within_budget"`
	QualityPreserved  bool      `json:"quality_preserved"`
	QualityScore      *float64  `json:"quality_score,omitempty"`
	ContextMissCount  int       `json:"context_miss_count"`
	CreatedAt         time.Time `json:"created_at"`
}

// Normalize fills derived fields: a missing intent becomes generic and
// savings percentages are derived from token counts when absent.
func (s *Sample) Normalize() {
	if strings.TrimSpace(s.Intent) == "" {
		s.Intent = "generic"
	}
	if s.PostFilterTokens == 0 {
		s.PostFilterTokens = s.BaselineTokens
	}
	if s.OutputTokens == 0 && s.OverallSavingsPct == 0 {
		s.OutputTokens = s.PostFilterTokens
	}
	if s.BaselineTokens > 0 {
		if s.FilterSavingsPct == 0 {
			s.FilterSavingsPct = pct(s.BaselineTokens-s.PostFilterTokens, s.BaselineTokens)
		}
		if s.PruningSavingsPct == 0 {
			s.PruningSavingsPct = pct(s.PostFilterTokens-s.OutputTokens, s.BaselineTokens)
		}
		if s.OverallSavingsPct == 0 {
			s.OverallSavingsPct = pct(s.BaselineTokens-s.OutputTokens, s.BaselineTokens)
		}
	}
}

// Options are the report parameters.
type Options struct {
	ExperimentID           string
	MinSamples             int
	MinSamplesPerIntent    int
	RequiredIntents        []string
	Alpha                  float64
	BootstrapIterations    int
	PermutationIterations  int
	MinQualityPreservedPct float64
	WindowDays             int
	// FailFast skips the resampling statistics when a sample-count gate has
	// already failed.
	FailFast bool
	// Strict turns a not-ready claim into a CLAIM_NOT_READY error.
	Strict bool
}

// MeanMedian is a pair of summary statistics.
type MeanMedian struct {
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
}

// VariantSummary aggregates one variant's sessions.
type VariantSummary struct {
	Sessions             int        `json:"sessions"`
	Intents              []string   `json:"intents"`
	BaselineTokens       MeanMedian `json:"baseline_tokens"`
	OutputTokens         MeanMedian `json:"output_tokens"`
	FilterSavingsPct     MeanMedian `json:"filter_savings_pct"`
	PruningSavingsPct    MeanMedian `json:"pruning_savings_pct"`
	OverallSavingsPct    MeanMedian `json:"overall_savings_pct"`
	QualityPreservedRate float64    `json:"quality_preserved_rate_pct"`
	WithinBudgetRate     float64    `json:"within_budget_rate_pct"`
	AvgContextMisses     float64    `json:"avg_context_miss_count"`
	AvgQualityScore      *float64   `json:"avg_quality_score,omitempty"`
}

// IntentBalance is the per-intent coverage row.
type IntentBalance struct {
	Intent    string `json:"intent"`
	Optimized int    `json:"optimized"`
	Control   int    `json:"control"`
	Met       bool   `json:"met"`
}

// IntentSavings compares variants within one intent.
type IntentSavings struct {
	Intent             string  `json:"intent"`
	OptimizedSessions  int     `json:"optimized_sessions"`
	ControlSessions    int     `json:"control_sessions"`
	OptimizedSavingPct float64 `json:"optimized_overall_savings_pct"`
	ControlSavingPct   float64 `json:"control_overall_savings_pct"`
	LiftPctPoints      float64 `json:"lift_pct_points"`
}

// Comparison is the optimized-vs-control effect estimate on overall savings.
type Comparison struct {
	PrimaryMetric         string  `json:"primary_metric"`
	LiftPctPoints         float64 `json:"overall_savings_lift_pct_points"`
	CILow                 float64 `json:"ci_low"`
	CIHigh                float64 `json:"ci_high"`
	PValue                float64 `json:"p_value"`
	Significant           bool    `json:"significant"`
	OutputReductionTokens float64 `json:"output_token_reduction_mean"`
	OutputReductionPct    float64 `json:"output_token_reduction_pct"`
	PermutationIterations int     `json:"permutation_iterations_run"`
	EarlyStopped          bool    `json:"early_stopped,omitempty"`
	Skipped               bool    `json:"skipped,omitempty"`
}

// Gate is one claim condition.
type Gate struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
}

// Summary is the headline of a report.
type Summary struct {
	ClaimReady          bool     `json:"claim_ready"`
	FailingGates        []string `json:"failing_gates"`
	UnderSampledIntents []string `json:"under_sampled_intents"`
	TotalSessions       int      `json:"total_sessions"`
}

// Report is a TelemetryReport.
type Report struct {
	ExperimentID        string          `json:"experiment_id"`
	GeneratedAt         time.Time       `json:"generated_at"`
	WindowDays          int             `json:"window_days"`
	RequiredIntents     []string        `json:"required_intents"`
	MinSamplesPerIntent int             `json:"min_samples_per_intent_per_variant"`
	Summary             Summary         `json:"summary"`
	Optimized           VariantSummary  `json:"optimized"`
	Control             VariantSummary  `json:"control"`
	IntentBalance       []IntentBalance `json:"intent_balance"`
	PerIntent           []IntentSavings `json:"per_intent"`
	Comparison          Comparison      `json:"comparison"`
	Gates               []Gate          `json:"gates"`
}

// Builder accumulates samples and produces a Report. Samples are added one
// at a time so a store can stream rows without materializing its log.
type Builder struct {
	opts    Options
	groups  map[Variant]*group
	ignored int
}

type group struct {
	baseline, output, filter, pruning, overall []float64
	intents                                    map[string][]float64
	preserved, withinBudget, misses            int
	qualitySum                                 float64
	qualityN                                   int
}

// NewBuilder creates a Builder.
func NewBuilder(opts Options) *Builder {
	return &Builder{
		opts: opts,
		groups: map[Variant]*group{
			Control:   {intents: map[string][]float64{}},
			Optimized: {intents: map[string][]float64{}},
		},
	}
}

// Add records one sample. Samples of other experiments or unknown variants
// are ignored.
func (b *Builder) Add(s Sample) {
	if b.opts.ExperimentID != "" && s.ExperimentID != b.opts.ExperimentID {
		b.ignored++
		return
	}
	g, ok := b.groups[s.Variant]
	if !ok {
		b.ignored++
		return
	}
	s.Normalize()
	g.baseline = append(g.baseline, float64(s.BaselineTokens))
	g.output = append(g.output, float64(s.OutputTokens))
	g.filter = append(g.filter, s.FilterSavingsPct)
	g.pruning = append(g.pruning, s.PruningSavingsPct)
	g.overall = append(g.overall, s.OverallSavingsPct)
	g.intents[s.Intent] = append(g.intents[s.Intent], s.OverallSavingsPct)
	if s.QualityPreserved {
		g.preserved++
	}
	if s.WithinBudget {
		g.withinBudget++
	}
	g.misses += s.ContextMissCount
	if s.QualityScore != nil {
		g.qualitySum += *s.QualityScore
		g.qualityN++
	}
}

// Ignored returns the number of samples Add skipped.
func (b *Builder) Ignored() int { return b.ignored }

// Build computes the report. In strict mode a report that is not claim
// ready is returned together with a CLAIM_NOT_READY error.
func (b *Builder) Build(ctx context.Context, now time.Time) (*Report, error) {
	opt, ctl := b.groups[Optimized], b.groups[Control]
	r := &Report{
		ExperimentID:        b.opts.ExperimentID,
		GeneratedAt:         now.UTC(),
		WindowDays:          b.opts.WindowDays,
		RequiredIntents:     slices.Clone(b.opts.RequiredIntents),
		MinSamplesPerIntent: b.opts.MinSamplesPerIntent,
		Optimized:           opt.summarize(),
		Control:             ctl.summarize(),
	}
	if r.RequiredIntents == nil {
		r.RequiredIntents = []string{}
	}
	r.Summary.TotalSessions = r.Optimized.Sessions + r.Control.Sessions

	coverage := true
	r.Summary.UnderSampledIntents = []string{}
	for _, in := range r.RequiredIntents {
		row := IntentBalance{Intent: in, Optimized: len(opt.intents[in]), Control: len(ctl.intents[in])}
		row.Met = row.Optimized >= b.opts.MinSamplesPerIntent && row.Control >= b.opts.MinSamplesPerIntent
		if !row.Met {
			coverage = false
			r.Summary.UnderSampledIntents = append(r.Summary.UnderSampledIntents, in)
		}
		r.IntentBalance = append(r.IntentBalance, row)
	}
	r.PerIntent = perIntent(opt, ctl)

	minSamples := r.Optimized.Sessions >= b.opts.MinSamples && r.Control.Sessions >= b.opts.MinSamples

	r.Comparison = Comparison{
		PrimaryMetric: "overall_savings_pct_mean_difference",
		LiftPctPoints: round(mean(opt.overall)-mean(ctl.overall), 3),
		PValue:        1,
	}
	if ctlOut := mean(ctl.output); ctlOut > 0 {
		delta := ctlOut - mean(opt.output)
		r.Comparison.OutputReductionTokens = round(delta, 2)
		r.Comparison.OutputReductionPct = round(delta/ctlOut*100, 2)
	}

	if b.opts.FailFast && (!minSamples || !coverage) {
		r.Comparison.Skipped = true
	} else {
		low, high, err := bootstrapDiffCI(ctx, opt.overall, ctl.overall, b.opts.BootstrapIterations, b.opts.Alpha)
		if err != nil {
			return nil, err
		}
		perm, err := permutationTest(ctx, opt.overall, ctl.overall, b.opts.PermutationIterations, b.opts.Alpha)
		if err != nil {
			return nil, err
		}
		r.Comparison.CILow, r.Comparison.CIHigh = round(low, 3), round(high, 3)
		r.Comparison.PValue = round(perm.PValue, 6)
		r.Comparison.Significant = perm.Significant
		r.Comparison.PermutationIterations = perm.Iterations
		r.Comparison.EarlyStopped = perm.EarlyStop
	}

	passed := map[string]bool{
		GateMinSamples:       minSamples,
		GateIntentCoverage:   coverage,
		GateOptimizedBeats:   r.Comparison.LiftPctPoints > 0,
		GateCIExcludesZero:   !r.Comparison.Skipped && r.Comparison.CILow > 0,
		GateSignificant:      !r.Comparison.Skipped && r.Comparison.Significant,
		GateQualityPreserved: r.Optimized.Sessions > 0 && r.Optimized.QualityPreservedRate >= b.opts.MinQualityPreservedPct,
	}
	r.Summary.FailingGates = []string{}
	for _, name := range GateNames {
		r.Gates = append(r.Gates, Gate{Name: name, Passed: passed[name]})
		if !passed[name] {
			r.Summary.FailingGates = append(r.Summary.FailingGates, name)
		}
	}
	r.Summary.ClaimReady = len(r.Summary.FailingGates) == 0

	if b.opts.Strict && !r.Summary.ClaimReady {
		return r, gerrors.NewClaimNotReady(r.Summary.FailingGates, r.Summary.UnderSampledIntents)
	}
	return r, nil
}

// BuildReport is a convenience over Builder for in-memory samples.
func BuildReport(ctx context.Context, samples []Sample, opts Options, now time.Time) (*Report, error) {
	b := NewBuilder(opts)
	for _, s := range samples {
		b.Add(s)
	}
	return b.Build(ctx, now)
}

func (g *group) summarize() VariantSummary {
	n := len(g.overall)
	s := VariantSummary{
		Sessions:          n,
		Intents:           slices.Sorted(maps.Keys(g.intents)),
		BaselineTokens:    meanMedian(g.baseline),
		OutputTokens:      meanMedian(g.output),
		FilterSavingsPct:  meanMedian(g.filter),
		PruningSavingsPct: meanMedian(g.pruning),
		OverallSavingsPct: meanMedian(g.overall),
	}
	if n > 0 {
		s.QualityPreservedRate = round(float64(g.preserved)/float64(n)*100, 2)
		s.WithinBudgetRate = round(float64(g.withinBudget)/float64(n)*100, 2)
		s.AvgContextMisses = round(float64(g.misses)/float64(n), 3)
	}
	if g.qualityN > 0 {
		avg := round(g.qualitySum/float64(g.qualityN), 3)
		s.AvgQualityScore = &avg
	}
	return s
}

func perIntent(opt, ctl *group) []IntentSavings {
	names := make(map[string]struct{})
	for in := range opt.intents {
		names[in] = struct{}{}
	}
	for in := range ctl.intents {
		names[in] = struct{}{}
	}
	out := make([]IntentSavings, 0, len(names))
	for _, in := range slices.Sorted(maps.Keys(names)) {
		o, c := opt.intents[in], ctl.intents[in]
		row := IntentSavings{
			Intent:             in,
			OptimizedSessions:  len(o),
			ControlSessions:    len(c),
			OptimizedSavingPct: round(mean(o), 2),
			ControlSavingPct:   round(mean(c), 2),
		}
		if len(o) > 0 && len(c) > 0 {
			row.LiftPctPoints = round(mean(o)-mean(c), 2)
		}
		out = append(out, row)
	}
	return out
}

func meanMedian(v []float64) MeanMedian {
	return MeanMedian{Mean: round(mean(v), 2), Median: round(median(v), 2)}
}

func pct(part, whole int) float64 {
	if whole <= 0 {
		return 0
	}
	return round(float64(part)/float64(whole)*100, 2)
}

func round(v float64, places int) float64 {
	p := math.Pow10(places)
	return math.Round(v*p) / p
}
