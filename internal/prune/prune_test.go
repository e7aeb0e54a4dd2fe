package prune

import (
	"fmt"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hpungsan/governor/internal/strategy"
	"github.com/hpungsan/governor/internal/unit"
)

func profile(t *testing.T, name string) *strategy.Profile {
	t.Helper()
	p, err := strategy.DefaultTable().Get(name)
	require.NoError(t, err)
	return p
}

func byID(res Result) map[string]Decision {
	m := make(map[string]Decision, len(res.Decisions))
	for _, d := range res.Decisions {
		m[d.ID] = d
	}
	return m
}

func TestSelect_DebuggingScenario(t *testing.T) {
	units := []unit.ContextUnit{
		{ID: "err1", Type: unit.TypeToolResult, RawTokens: 50, Priority: 0.5, IsError: true, Protected: true, ProtectReason: unit.ProtectError},
		{ID: "err2", Type: unit.TypeToolResult, RawTokens: 50, Priority: 0.5, IsError: true, Protected: true, ProtectReason: unit.ProtectError},
		{ID: "err3", Type: unit.TypeToolResult, RawTokens: 50, Priority: 0.5, IsError: true, Protected: true, ProtectReason: unit.ProtectError},
		{ID: "d1", Type: unit.TypeDocumentation, RawTokens: 100, Priority: 0.1, Recency: 0.1},
		{ID: "d2", Type: unit.TypeDocumentation, RawTokens: 80, Priority: 0.1, Recency: 0.2},
		{ID: "d3", Type: unit.TypeDocumentation, RawTokens: 120, Priority: 0.1, Recency: 0.3},
		{ID: "d4", Type: unit.TypeDocumentation, RawTokens: 60, Priority: 0.1, Recency: 0.4},
		{ID: "d5", Type: unit.TypeDocumentation, RawTokens: 90, Priority: 0.1, Recency: 0.5},
		{ID: "d6", Type: unit.TypeDocumentation, RawTokens: 70, Priority: 0.1, Recency: 0.6},
		{ID: "d7", Type: unit.TypeDocumentation, RawTokens: 40, Priority: 0.1, Recency: 0.7},
	}
	for i := range units {
		units[i].Position = i
	}

	res := Select(units, profile(t, "debugging"), 500, DefaultOptions())
	got := byID(res)

	for _, id := range []string{"err1", "err2", "err3"} {
		assert.Equal(t, unit.ActionKeep, got[id].Action, id)
	}
	// 350 tokens remain after errors; greedy by score (recency) admits
	// d7, d6, d5, d4, skips d3, admits d2, skips d1.
	for _, id := range []string{"d7", "d6", "d5", "d4", "d2"} {
		assert.Equal(t, unit.ActionKeep, got[id].Action, id)
	}
	for _, id := range []string{"d3", "d1"} {
		assert.Equal(t, unit.ActionPrune, got[id].Action, id)
	}
	assert.Equal(t, 490, res.UsedTokens)
	assert.Equal(t, 220, res.PrunedTokens)
	assert.True(t, res.WithinBudget)
	assert.Equal(t, 150, res.ProtectedTokens)

	// Output preserves caller order.
	for i, d := range res.Decisions {
		assert.Equal(t, units[i].ID, d.ID)
	}
}

func TestSelect_ShrinksHighScoringOverflow(t *testing.T) {
	units := []unit.ContextUnit{
		{ID: "a", Type: unit.TypeFile, RawTokens: 100, Priority: 0.8, Recency: 1},
	}
	opts := DefaultOptions()

	res := Select(units, profile(t, "generic"), 60, opts)
	require.Equal(t, unit.ActionSummarize, res.Decisions[0].Action)
	assert.Equal(t, 40, res.Decisions[0].Tokens)

	opts.Summarizer = false
	res = Select(units, profile(t, "generic"), 60, opts)
	require.Equal(t, unit.ActionTruncate, res.Decisions[0].Action)
	assert.Equal(t, 50, res.Decisions[0].Tokens)
}

func TestSelect_AggressivenessChangesAction(t *testing.T) {
	units := []unit.ContextUnit{
		{ID: "core", Type: unit.TypeFile, RawTokens: 200, Priority: 1},
		{ID: "extra", Type: unit.TypeFile, RawTokens: 100, Priority: 0.45, Position: 1},
	}
	gentle := &strategy.Profile{Name: "gentle", Weights: strategy.Weights{Priority: 1}, Aggressiveness: 0.2}
	aggressive := &strategy.Profile{Name: "aggressive", Weights: strategy.Weights{Priority: 1}, Aggressiveness: 0.9}

	res := Select(clone(units), gentle, 260, DefaultOptions())
	assert.InDelta(t, 0.28, res.KeepThreshold, 1e-9)
	assert.Equal(t, unit.ActionSummarize, byID(res)["extra"].Action)

	res = Select(clone(units), aggressive, 260, DefaultOptions())
	assert.InDelta(t, 0.56, res.KeepThreshold, 1e-9)
	assert.Equal(t, unit.ActionPrune, byID(res)["extra"].Action)
	assert.True(t, res.WithinBudget)
}

func TestSelect_ScoreMustExceedKeepThreshold(t *testing.T) {
	units := []unit.ContextUnit{
		{ID: "core", Type: unit.TypeFile, RawTokens: 200, Priority: 1},
		{ID: "edge", Type: unit.TypeFile, RawTokens: 100, Priority: 0.4, Position: 1},
	}
	p := &strategy.Profile{Name: "flat", Weights: strategy.Weights{Priority: 1}, Aggressiveness: 0.5}

	res := Select(units, p, 260, DefaultOptions())
	require.Equal(t, 0.40, res.KeepThreshold)
	assert.Equal(t, unit.ActionPrune, byID(res)["edge"].Action)
}

func TestKeepThreshold(t *testing.T) {
	tests := []struct {
		base, aggressiveness, want float64
	}{
		{0.40, 0.5, 0.40},
		{0.40, 0.4, 0.36},
		{0.40, 0.6, 0.44},
		{0.80, 1.0, 1.00},
		{0.40, 0.0, 0.20},
	}
	for _, tt := range tests {
		got := KeepThreshold(tt.base, &strategy.Profile{Aggressiveness: tt.aggressiveness})
		assert.InDelta(t, tt.want, got, 1e-9, "base=%v aggressiveness=%v", tt.base, tt.aggressiveness)
	}
}

func TestSelect_SummaryCapped(t *testing.T) {
	units := []unit.ContextUnit{
		{ID: "big", Type: unit.TypeFile, RawTokens: 5000, Priority: 0.8, Recency: 1},
	}
	res := Select(units, profile(t, "generic"), 1000, DefaultOptions())
	require.Equal(t, unit.ActionSummarize, res.Decisions[0].Action)
	assert.Equal(t, 600, res.Decisions[0].Tokens)
}

func TestSelect_CeilingDegradesToOverBudget(t *testing.T) {
	var units []unit.ContextUnit
	for i := 0; i < 5; i++ {
		units = append(units, unit.ContextUnit{
			ID: fmt.Sprintf("u%d", i), Type: unit.TypeOther, RawTokens: 100, Position: i,
		})
	}

	res := Select(units, profile(t, "generic"), 100, DefaultOptions())

	assert.Equal(t, 200, res.CeilingTokens)
	assert.Equal(t, 200, res.PrunedTokens)
	assert.True(t, res.CeilingReached)
	assert.Equal(t, 2, res.Counts[unit.ActionPrune])
	assert.Equal(t, 3, res.Counts[unit.ActionSummarize])
	assert.Equal(t, 0, res.Counts[unit.ActionKeep])
	assert.Equal(t, 120, res.UsedTokens)
	assert.False(t, res.WithinBudget)
	assert.NotEmpty(t, res.Warnings)
}

func TestSelect_NeverPruneTypeProtected(t *testing.T) {
	units := []unit.ContextUnit{
		{ID: "diff", Type: unit.TypeDiff, RawTokens: 300},
		{ID: "msg", Type: unit.TypeMessage, RawTokens: 300, Position: 1},
	}
	res := Select(units, profile(t, "review"), 100, DefaultOptions())
	got := byID(res)
	assert.Equal(t, unit.ActionKeep, got["diff"].Action)
	assert.True(t, got["diff"].Protected)
	assert.False(t, res.WithinBudget)
}

func TestSelect_ProtectedOverflowWarns(t *testing.T) {
	units := []unit.ContextUnit{
		{ID: "sys", Type: unit.TypeOther, RawTokens: 900, Protected: true, ProtectReason: unit.ProtectSystem},
	}
	res := Select(units, profile(t, "generic"), 500, DefaultOptions())
	assert.Equal(t, unit.ActionKeep, res.Decisions[0].Action)
	assert.False(t, res.WithinBudget)
	assert.Len(t, res.Warnings, 2)
}

func TestSelect_Deterministic(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	units := randomUnits(rng, 30)
	a := Select(clone(units), profile(t, "search"), 800, DefaultOptions())
	b := Select(clone(units), profile(t, "search"), 800, DefaultOptions())
	assert.Equal(t, a, b)
}

func TestKeepAll(t *testing.T) {
	units := []unit.ContextUnit{
		{ID: "a", RawTokens: 300},
		{ID: "b", RawTokens: 300, Position: 1},
	}
	res := KeepAll(units, 500)
	assert.Equal(t, 2, res.Counts[unit.ActionKeep])
	assert.Equal(t, 600, res.UsedTokens)
	assert.False(t, res.WithinBudget)
	assert.Equal(t, ReasonControl, res.Decisions[0].Reason)
}

func randomUnits(rng *rand.Rand, n int) []unit.ContextUnit {
	units := make([]unit.ContextUnit, n)
	for i := range units {
		u := unit.ContextUnit{
			ID:        fmt.Sprintf("u%03d", i),
			Type:      unit.Types[rng.IntN(len(unit.Types))],
			RawTokens: rng.IntN(600),
			Priority:  rng.Float64(),
			Recency:   rng.Float64(),
			Position:  i,
		}
		if rng.IntN(3) == 0 {
			r := rng.Float64()
			u.Relevance = &r
		}
		if rng.IntN(5) == 0 {
			u.Protect(unit.ProtectCaller)
		}
		units[i] = u
	}
	return units
}

func clone(units []unit.ContextUnit) []unit.ContextUnit {
	out := make([]unit.ContextUnit, len(units))
	copy(out, units)
	return out
}

func checkInvariants(t *testing.T, units []unit.ContextUnit, res Result, ceiling float64) {
	t.Helper()
	require.Len(t, res.Decisions, len(units))

	total, pruned, used := 0, 0, 0
	for i, d := range res.Decisions {
		require.Equal(t, units[i].ID, d.ID)
		require.Contains(t, unit.Actions, d.Action)
		total += d.RawTokens
		if d.Protected {
			require.NotEqual(t, unit.ActionPrune, d.Action, "protected unit %s pruned", d.ID)
		}
		if d.Action == unit.ActionPrune {
			pruned += d.RawTokens
		} else {
			used += d.Tokens
		}
	}
	if total > 0 {
		require.LessOrEqual(t, float64(pruned)/float64(total), ceiling+1e-12)
	} else {
		require.Zero(t, pruned)
	}
	require.Equal(t, used, res.UsedTokens)
	if res.WithinBudget {
		require.LessOrEqual(t, used, res.Usable)
	}
}

func TestSelect_Properties(t *testing.T) {
	rng := rand.New(rand.NewPCG(42, 1024))
	names := strategy.DefaultTable().Names()

	for iter := 0; iter < 500; iter++ {
		units := randomUnits(rng, 1+rng.IntN(40))
		p := profile(t, names[rng.IntN(len(names))])
		usable := rng.IntN(4000) - 200
		opts := DefaultOptions()
		opts.Summarizer = rng.IntN(2) == 0

		res := Select(units, p, usable, opts)
		checkInvariants(t, units, res, opts.PruneCeiling)
	}
}

func TestSelect_ZeroPriorityAdversarial(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 5))
	for iter := 0; iter < 100; iter++ {
		n := 1 + rng.IntN(50)
		units := make([]unit.ContextUnit, n)
		for i := range units {
			units[i] = unit.ContextUnit{
				ID:        fmt.Sprintf("z%02d", i),
				Type:      unit.TypeOther,
				RawTokens: 1 + rng.IntN(1000),
				Position:  i,
			}
		}
		usable := rng.IntN(50)

		res := Select(units, profile(t, "generic"), usable, DefaultOptions())
		checkInvariants(t, units, res, 0.40)
		assert.LessOrEqual(t, res.PrunedTokens, int(math.Floor(0.40*float64(res.InputTokens))))
	}
}
