// Package prune assigns keep/summarize/truncate/prune actions to scored
// units under a token budget.
//
// Guarantees:
//   - protected units are never pruned
//   - pruned tokens never exceed PruneCeiling of the post-filter total;
//     the engine exceeds the budget before it exceeds the ceiling
package prune

import (
	"fmt"
	"math"
	"slices"

	"github.com/hpungsan/governor/internal/strategy"
	"github.com/hpungsan/governor/internal/unit"
)

// Options are the engine thresholds.
type Options struct {
	KeepThreshold    float64
	PruneCeiling     float64
	SummarizeRatio   float64
	SummaryMaxTokens int
	TruncateRatio    float64
	// Summarizer selects summarize over truncate when shrinking.
	Summarizer bool
}

// DefaultOptions mirrors the configuration defaults.
func DefaultOptions() Options {
	return Options{
		KeepThreshold:    0.40,
		PruneCeiling:     0.40,
		SummarizeRatio:   0.40,
		SummaryMaxTokens: 600,
		TruncateRatio:    0.50,
		Summarizer:       true,
	}
}

// Decision is the action assigned to one unit.
type Decision struct {
	ID        string      `json:"id"`
	Type      unit.Type   `json:"type"`
	Action    unit.Action `json:"action"`
	RawTokens int         `json:"raw_tokens"`
	// Tokens is the estimated size after the action; 0 for prune.
	Tokens    int     `json:"tokens"`
	Score     float64 `json:"score"`
	Protected bool    `json:"protected"`
	Reason    string  `json:"reason"`

	position int
}

// Result is the outcome of Select.
type Result struct {
	// Decisions are in caller order.
	Decisions       []Decision          `json:"decisions"`
	InputTokens     int                 `json:"input_tokens"`
	UsedTokens      int                 `json:"used_tokens"`
	PrunedTokens    int                 `json:"pruned_tokens"`
	ShrunkTokens    int                 `json:"shrunk_tokens"`
	ProtectedTokens int                 `json:"protected_tokens"`
	CeilingTokens   int                 `json:"ceiling_tokens"`
	KeepThreshold   float64             `json:"keep_threshold"`
	Usable          int                 `json:"usable"`
	WithinBudget    bool                `json:"within_budget"`
	CeilingReached  bool                `json:"ceiling_reached"`
	Counts          map[unit.Action]int `json:"counts"`
	Warnings        []string            `json:"warnings,omitempty"`
}

// Reasons recorded on decisions.
const (
	ReasonProtected    = "protected"
	ReasonFits         = "fits budget"
	ReasonShrunk       = "over budget; score above keep threshold"
	ReasonPruned       = "over budget; low score"
	ReasonCeiling      = "prune ceiling reached; shrunk instead of pruned"
	ReasonReconsidered = "shrunk to recover budget after prune ceiling"
	ReasonControl      = "control variant; optimization bypassed"
)

// Select assigns an action to every unit. Units of a NeverPrune type for the
// profile are protected before selection. units is modified in place only
// through that protection.
func Select(units []unit.ContextUnit, p *strategy.Profile, usable int, opts Options) Result {
	res := Result{Usable: usable, Counts: zeroCounts()}

	for i := range units {
		if p.IsNeverPrune(units[i].Type) {
			units[i].Protect(unit.ProtectType)
		}
		res.InputTokens += units[i].RawTokens
	}
	res.CeilingTokens = int(math.Floor(opts.PruneCeiling * float64(res.InputTokens)))

	res.KeepThreshold = KeepThreshold(opts.KeepThreshold, p)

	shrinkAction := unit.ActionTruncate
	if opts.Summarizer {
		shrinkAction = unit.ActionSummarize
	}

	ranked := strategy.Rank(units, p)
	decisions := make([]Decision, len(ranked))
	remaining := usable

	// Protected units first, regardless of rank.
	for i, s := range ranked {
		decisions[i] = Decision{
			ID:        s.Unit.ID,
			Type:      s.Unit.Type,
			RawTokens: s.Unit.RawTokens,
			Score:     round4(s.Score),
			Protected: s.Unit.Protected,
			position:  s.Unit.Position,
		}
		if s.Unit.Protected {
			decisions[i].Action = unit.ActionKeep
			decisions[i].Tokens = s.Unit.RawTokens
			decisions[i].Reason = ReasonProtected + ": " + s.Unit.ProtectReason
			res.ProtectedTokens += s.Unit.RawTokens
			remaining -= s.Unit.RawTokens
		}
	}
	if res.ProtectedTokens > usable {
		res.Warnings = append(res.Warnings, fmt.Sprintf(
			"protected content (%d tokens) exceeds usable context budget (%d tokens); protected units are never dropped",
			res.ProtectedTokens, usable))
	}

	// Greedy admission in rank order.
	var tentative []int
	for i, s := range ranked {
		if s.Unit.Protected {
			continue
		}
		d := &decisions[i]
		tokens := s.Unit.RawTokens
		if tokens <= remaining {
			d.Action, d.Tokens, d.Reason = unit.ActionKeep, tokens, ReasonFits
			remaining -= tokens
			continue
		}
		if s.Score > res.KeepThreshold {
			if shrunk := opts.shrink(tokens, shrinkAction); shrunk <= remaining {
				d.Action, d.Tokens, d.Reason = shrinkAction, shrunk, ReasonShrunk
				remaining -= shrunk
				continue
			}
		}
		tentative = append(tentative, i)
	}

	// Prune lowest scores first, bounded by the ceiling.
	for j := len(tentative) - 1; j >= 0; j-- {
		d := &decisions[tentative[j]]
		if res.PrunedTokens+d.RawTokens <= res.CeilingTokens {
			d.Action, d.Tokens, d.Reason = unit.ActionPrune, 0, ReasonPruned
			res.PrunedTokens += d.RawTokens
			continue
		}
		res.CeilingReached = true
		shrunk := opts.shrink(d.RawTokens, shrinkAction)
		d.Action, d.Tokens, d.Reason = shrinkAction, shrunk, ReasonCeiling
		remaining -= shrunk
	}

	// Recover budget by shrinking the lowest-scoring kept candidates.
	if remaining < 0 && res.CeilingReached {
		reconsidered := 0
		for i := len(ranked) - 1; i >= 0 && remaining < 0; i-- {
			d := &decisions[i]
			if d.Protected || d.Action != unit.ActionKeep {
				continue
			}
			shrunk := opts.shrink(d.RawTokens, shrinkAction)
			if shrunk >= d.Tokens {
				continue
			}
			remaining += d.Tokens - shrunk
			d.Action, d.Tokens, d.Reason = shrinkAction, shrunk, ReasonReconsidered
			reconsidered++
		}
		res.Warnings = append(res.Warnings, fmt.Sprintf(
			"prune ceiling reached (%.0f%% of %d post-filter tokens); %d additional unit(s) shrunk instead of pruned",
			opts.PruneCeiling*100, res.InputTokens, reconsidered))
	}

	for i := range decisions {
		d := decisions[i]
		res.Counts[d.Action]++
		if d.Action != unit.ActionPrune {
			res.UsedTokens += d.Tokens
		}
		if d.Action == unit.ActionSummarize || d.Action == unit.ActionTruncate {
			res.ShrunkTokens += d.RawTokens - d.Tokens
		}
	}
	res.WithinBudget = res.UsedTokens <= usable
	if !res.WithinBudget {
		res.Warnings = append(res.Warnings, fmt.Sprintf(
			"plan exceeds usable context budget by %d tokens; caller must decide how to proceed",
			res.UsedTokens-usable))
	}

	slices.SortStableFunc(decisions, func(a, b Decision) int { return a.position - b.position })
	res.Decisions = decisions
	return res
}

// KeepThreshold scales base by the profile's prune aggressiveness. An
// aggressiveness of 0.5 leaves base unchanged; 0 halves it and 1 raises it by
// half, so aggressive profiles prune more overflowing units instead of
// shrinking them. The result is clamped to [0,1].
func KeepThreshold(base float64, p *strategy.Profile) float64 {
	return round4(min(max(base*(0.5+p.Aggressiveness), 0), 1))
}

// KeepAll assigns keep to every unit. Used for the control variant.
func KeepAll(units []unit.ContextUnit, usable int) Result {
	res := Result{Usable: usable, Counts: zeroCounts()}
	res.Decisions = make([]Decision, len(units))
	for i := range units {
		u := &units[i]
		res.Decisions[i] = Decision{
			ID:        u.ID,
			Type:      u.Type,
			Action:    unit.ActionKeep,
			RawTokens: u.RawTokens,
			Tokens:    u.RawTokens,
			Protected: u.Protected,
			Reason:    ReasonControl,
			position:  u.Position,
		}
		res.InputTokens += u.RawTokens
		if u.Protected {
			res.ProtectedTokens += u.RawTokens
		}
	}
	res.UsedTokens = res.InputTokens
	res.Counts[unit.ActionKeep] = len(units)
	res.WithinBudget = res.UsedTokens <= usable
	if !res.WithinBudget {
		res.Warnings = append(res.Warnings, fmt.Sprintf(
			"control context exceeds usable context budget by %d tokens", res.UsedTokens-usable))
	}
	return res
}

// shrink estimates the size of a unit after summarize or truncate.
func (o Options) shrink(tokens int, action unit.Action) int {
	if tokens <= 0 {
		return 0
	}
	var n int
	if action == unit.ActionSummarize {
		n = int(math.Ceil(float64(tokens) * o.SummarizeRatio))
		if o.SummaryMaxTokens > 0 && n > o.SummaryMaxTokens {
			n = o.SummaryMaxTokens
		}
	} else {
		n = int(math.Ceil(float64(tokens) * o.TruncateRatio))
	}
	return min(n, tokens)
}

func zeroCounts() map[unit.Action]int {
	m := make(map[unit.Action]int, len(unit.Actions))
	for _, a := range unit.Actions {
		m[a] = 0
	}
	return m
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
