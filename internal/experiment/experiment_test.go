package experiment

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gerrors "github.com/hpungsan/governor/internal/errors"
)

func TestAssign_Idempotent(t *testing.T) {
	first := Assign("exp-1", "TICKET-123")
	for i := 0; i < 1000; i++ {
		require.Equal(t, first, Assign("exp-1", "TICKET-123"))
	}
}

func TestAssign_ExperimentChangesAreDeterministic(t *testing.T) {
	other := Assign("exp-2", "TICKET-123")
	for i := 0; i < 100; i++ {
		require.Equal(t, other, Assign("exp-2", "TICKET-123"))
	}
}

func TestAssign_FairSplit(t *testing.T) {
	const n = 10000
	control := 0
	for i := 0; i < n; i++ {
		if Assign("exp-fair", fmt.Sprintf("session-%d", i)) == Control {
			control++
		}
	}
	share := float64(control) / n
	assert.InDelta(t, 0.5, share, 0.03, "control share %.3f", share)
}

func TestAssign_GoldenValues(t *testing.T) {
	// Parity of the first 8 hex digits of sha256("experiment:key").
	tests := []struct {
		exp, key string
		want     Variant
	}{
		{"exp-1", "TICKET-123", Control}, // ed8eef7e
		{"exp-2", "TICKET-123", Control}, // 0820932e
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Assign(tt.exp, tt.key), "%s/%s", tt.exp, tt.key)
	}
}

func TestResolveVariant(t *testing.T) {
	tests := []struct {
		name      string
		exp       string
		requested string
		key       string
		want      Variant
		wantErr   bool
	}{
		{"no experiment", "", "control", "", Optimized, false},
		{"explicit control", "exp-1", "control", "", Control, false},
		{"explicit optimized", "exp-1", "Optimized", "", Optimized, false},
		{"auto", "exp-1", "auto", "TICKET-123", Assign("exp-1", "TICKET-123"), false},
		{"empty means auto", "exp-1", "", "TICKET-123", Assign("exp-1", "TICKET-123"), false},
		{"auto without key", "exp-1", "auto", "", "", true},
		{"unknown variant", "exp-1", "treatment", "k", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveVariant(tt.exp, tt.requested, tt.key)
			if tt.wantErr {
				require.True(t, gerrors.Is(err, gerrors.ErrInvalidConfig), "error = %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func makeSamples(variant Variant, intent string, n int, basePct float64, preserved bool) []Sample {
	out := make([]Sample, n)
	for i := range out {
		overall := basePct + float64(i%5)
		out[i] = Sample{
			SessionID:         fmt.Sprintf("%s-%s-%d", variant, intent, i),
			ExperimentID:      "exp-1",
			Variant:           variant,
			Intent:            intent,
			BaselineTokens:    10000,
			PostFilterTokens:  10000,
			OutputTokens:      int(10000 * (1 - overall/100)),
			OverallSavingsPct: overall,
			WithinBudget:      true,
			QualityPreserved:  preserved,
		}
	}
	return out
}

func testOptions(required ...string) Options {
	return Options{
		ExperimentID:           "exp-1",
		MinSamples:             20,
		MinSamplesPerIntent:    5,
		RequiredIntents:        required,
		Alpha:                  0.05,
		BootstrapIterations:    500,
		PermutationIterations:  500,
		MinQualityPreservedPct: 95,
		WindowDays:             14,
	}
}

func balancedSamples(planningN int) []Sample {
	var all []Sample
	for _, v := range []struct {
		variant Variant
		base    float64
	}{{Control, 5}, {Optimized, 40}} {
		all = append(all, makeSamples(v.variant, "code_generation", 10, v.base, true)...)
		all = append(all, makeSamples(v.variant, "debugging", 10, v.base, true)...)
		all = append(all, makeSamples(v.variant, "planning", planningN, v.base, true)...)
	}
	return all
}

func TestBuildReport_ClaimReady(t *testing.T) {
	r, err := BuildReport(context.Background(), balancedSamples(5), testOptions("code_generation", "debugging", "planning"), time.Now())
	require.NoError(t, err)
	assert.True(t, r.Summary.ClaimReady, "failing: %v", r.Summary.FailingGates)
	assert.Empty(t, r.Summary.FailingGates)
	assert.Equal(t, 25, r.Optimized.Sessions)
	assert.Equal(t, 25, r.Control.Sessions)
	assert.Greater(t, r.Comparison.CILow, 0.0)
	assert.Greater(t, r.Comparison.LiftPctPoints, 30.0)
	assert.True(t, r.Comparison.Significant)
	assert.Len(t, r.Gates, len(GateNames))
}

func TestBuildReport_OnlyCoverageFails(t *testing.T) {
	r, err := BuildReport(context.Background(), balancedSamples(2), testOptions("code_generation", "debugging", "planning"), time.Now())
	require.NoError(t, err)

	assert.False(t, r.Summary.ClaimReady)
	assert.Equal(t, []string{GateIntentCoverage}, r.Summary.FailingGates)
	assert.Equal(t, []string{"planning"}, r.Summary.UnderSampledIntents)
}

func TestBuildReport_StrictMode(t *testing.T) {
	opts := testOptions("code_generation", "debugging", "planning")
	opts.Strict = true

	r, err := BuildReport(context.Background(), balancedSamples(2), opts, time.Now())
	require.Error(t, err)
	require.NotNil(t, r, "strict mode still returns the report")

	gates, intents, ok := gerrors.ClaimFailure(err)
	require.True(t, ok, "error = %v", err)
	assert.Equal(t, []string{GateIntentCoverage}, gates)
	assert.Equal(t, []string{"planning"}, intents)
}

func TestBuildReport_FailFastSkipsStatistics(t *testing.T) {
	opts := testOptions()
	opts.FailFast = true
	samples := append(makeSamples(Control, "debugging", 3, 5, true), makeSamples(Optimized, "debugging", 3, 40, true)...)

	r, err := BuildReport(context.Background(), samples, opts, time.Now())
	require.NoError(t, err)
	assert.True(t, r.Comparison.Skipped)
	assert.Contains(t, r.Summary.FailingGates, GateMinSamples)
	assert.Contains(t, r.Summary.FailingGates, GateCIExcludesZero)
	assert.Contains(t, r.Summary.FailingGates, GateSignificant)
	assert.NotContains(t, r.Summary.FailingGates, GateOptimizedBeats)
}

func TestBuildReport_QualityGate(t *testing.T) {
	var samples []Sample
	samples = append(samples, makeSamples(Control, "debugging", 20, 5, true)...)
	samples = append(samples, makeSamples(Optimized, "debugging", 18, 40, true)...)
	samples = append(samples, makeSamples(Optimized, "debugging", 2, 40, false)...)

	r, err := BuildReport(context.Background(), samples, testOptions(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, 90.0, r.Optimized.QualityPreservedRate)
	assert.Equal(t, []string{GateQualityPreserved}, r.Summary.FailingGates)
}

func TestBuildReport_NoDifferenceNotSignificant(t *testing.T) {
	samples := append(makeSamples(Control, "debugging", 25, 20, true), makeSamples(Optimized, "debugging", 25, 20, true)...)

	r, err := BuildReport(context.Background(), samples, testOptions(), time.Now())
	require.NoError(t, err)
	assert.False(t, r.Comparison.Significant)
	assert.True(t, r.Comparison.EarlyStopped)
	assert.GreaterOrEqual(t, r.Comparison.PValue, 0.05)
	assert.Contains(t, r.Summary.FailingGates, GateSignificant)
	assert.Contains(t, r.Summary.FailingGates, GateOptimizedBeats)
}

func TestBuildReport_IgnoresOtherExperiments(t *testing.T) {
	samples := makeSamples(Control, "debugging", 3, 5, true)
	samples[0].ExperimentID = "exp-other"
	samples[1].Variant = "treatment"

	b := NewBuilder(testOptions())
	for _, s := range samples {
		b.Add(s)
	}
	r, err := b.Build(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, r.Control.Sessions)
	assert.Equal(t, 2, b.Ignored())
}

func TestBuildReport_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := BuildReport(ctx, balancedSamples(5), testOptions(), time.Now())
	assert.True(t, gerrors.Is(err, gerrors.ErrCancelled), "error = %v", err)
}

func TestSampleNormalize(t *testing.T) {
	s := Sample{BaselineTokens: 1000, PostFilterTokens: 800, OutputTokens: 600}
	s.Normalize()
	assert.Equal(t, "generic", s.Intent)
	assert.Equal(t, 20.0, s.FilterSavingsPct)
	assert.Equal(t, 20.0, s.PruningSavingsPct)
	assert.Equal(t, 40.0, s.OverallSavingsPct)
}

func TestPercentile(t *testing.T) {
	v := []float64{1, 2, 3, 4}
	assert.Equal(t, 1.0, percentile(v, 0))
	assert.Equal(t, 4.0, percentile(v, 100))
	assert.Equal(t, 2.5, percentile(v, 50))
	assert.Equal(t, 0.0, percentile(nil, 50))
}

func TestMarkdown(t *testing.T) {
	r, err := BuildReport(context.Background(), balancedSamples(2), testOptions("code_generation", "debugging", "planning"), time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	require.NoError(t, err)

	md := Markdown(r)
	assert.True(t, strings.HasPrefix(md, "# Live Telemetry A/B Report"))
	assert.Contains(t, md, "**NO**")
	assert.Contains(t, md, "| planning | 2 | 2 | FAIL |")
	assert.Contains(t, md, "- FAIL `intent_balanced_coverage`")
	assert.Contains(t, md, "- PASS `min_samples_each_variant`")
	assert.Contains(t, md, "2026-01-02T03:04:05Z")
}
