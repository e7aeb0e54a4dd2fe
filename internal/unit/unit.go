// Package unit normalizes caller-supplied context items into ContextUnits.
package unit

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/hpungsan/governor/internal/tokens"
)

// Type is the category of a context unit.
type Type string

const (
	TypeFile          Type = "file"
	TypeMessage       Type = "message"
	TypeToolResult    Type = "tool_result"
	TypeDiff          Type = "diff"
	TypeDocumentation Type = "documentation"
	TypeOther         Type = "other"
)

// Types lists every canonical type.
var Types = []Type{TypeFile, TypeMessage, TypeToolResult, TypeDiff, TypeDocumentation, TypeOther}

// Action is the decision assigned to a unit by the pruning engine.
type Action string

const (
	ActionKeep      Action = "keep"
	ActionSummarize Action = "summarize"
	ActionTruncate  Action = "truncate"
	ActionPrune     Action = "prune"
)

// Actions lists every action in report order.
var Actions = []Action{ActionKeep, ActionSummarize, ActionTruncate, ActionPrune}

// CriticalPriority is the normalized priority at and above which a unit is protected.
const CriticalPriority = 0.90

// Reasons a unit is protected.
const (
	ProtectSystem   = "system_instruction"
	ProtectError    = "error_content"
	ProtectRecent   = "recent_turn"
	ProtectCritical = "critical_priority"
	ProtectCaller   = "caller_protected"
	ProtectType     = "never_prune_type"
)

// Input is one caller-supplied context item.
type Input struct {
	ID        string   `json:"id,omitempty" yaml:"id,omitempty"`
	Type      string   `json:"type" yaml:"type"`
	Content   string   `json:"content,omitempty" yaml:"content,omitempty"`
	Source    string   `json:"source,omitempty" yaml:"source,omitempty"`
	Tokens    *int     `json:"tokens,omitempty" yaml:"tokens,omitempty"`
	Priority  *float64 `json:"priority,omitempty" yaml:"priority,omitempty"`
	Recency   *float64 `json:"recency,omitempty" yaml:"recency,omitempty"`
	Relevance *float64 `json:"relevance_score,omitempty" yaml:"relevance_score,omitempty"`
	IsError   bool     `json:"is_error,omitempty" yaml:"is_error,omitempty"`
	Protected bool     `json:"protected,omitempty" yaml:"protected,omitempty"`
}

// ContextUnit is one normalized candidate item. RawTokens is fixed once computed.
type ContextUnit struct {
	ID            string   `json:"id"`
	Type          Type     `json:"type"`
	Source        string   `json:"source,omitempty"`
	RawTokens     int      `json:"raw_tokens"`
	Priority      float64  `json:"priority"`
	Recency       float64  `json:"recency"`
	Relevance     *float64 `json:"relevance_score,omitempty"`
	Protected     bool     `json:"protected"`
	ProtectReason string   `json:"protect_reason,omitempty"`
	IsError       bool     `json:"is_error,omitempty"`
	Approximate   bool     `json:"approximate,omitempty"`

	// Position is the index in caller order.
	Position int `json:"-"`
	// Content is kept for relevance and intent signals only.
	Content string `json:"-"`
}

// Protect marks the unit protected, keeping the first reason.
func (u *ContextUnit) Protect(reason string) {
	if !u.Protected {
		u.Protected = true
		u.ProtectReason = reason
	}
}

// Options configures Normalize.
type Options struct {
	Family               tokens.Family
	ProtectedRecentTurns int
}

// Result is the output of Normalize.
type Result struct {
	Units    []ContextUnit
	Warnings []string
	// Approximate is true when any unit count came from the approximation.
	Approximate bool
	// Estimated is the number of units counted by the estimator rather
	// than supplied by the caller.
	Estimated int
}

// Normalize converts inputs into ContextUnits in caller order. Data-shape
// problems become warnings; Normalize never fails.
func Normalize(ctx context.Context, inputs []Input, est *tokens.Estimator, opts Options) Result {
	res := Result{Units: make([]ContextUnit, 0, len(inputs))}
	warn := func(format string, args ...any) {
		res.Warnings = append(res.Warnings, fmt.Sprintf(format, args...))
	}

	n := len(inputs)
	seen := make(map[string]int, n)
	for i, in := range inputs {
		u := ContextUnit{
			Position: i,
			Source:   in.Source,
			Content:  in.Content,
			IsError:  in.IsError,
		}

		u.ID = strings.TrimSpace(in.ID)
		if u.ID == "" {
			u.ID = fmt.Sprintf("unit-%d", i+1)
		}
		if c := seen[u.ID]; c > 0 {
			newID := fmt.Sprintf("%s#%d", u.ID, c+1)
			for seen[newID] > 0 {
				c++
				newID = fmt.Sprintf("%s#%d", u.ID, c+1)
			}
			warn("duplicate unit id %q renamed to %q", u.ID, newID)
			seen[u.ID] = c + 1
			u.ID = newID
		}
		// seen holds every emitted id, not only the caller-supplied ones.
		if seen[u.ID] == 0 {
			seen[u.ID] = 1
		}

		t, kind, known := resolveType(in.Type)
		if !known {
			warn("unit %s: unknown type %q treated as other", u.ID, in.Type)
		}
		u.Type = t
		switch kind {
		case aliasSystem:
			u.Protect(ProtectSystem)
		case aliasError:
			u.IsError = true
		}

		switch {
		case in.Tokens != nil && *in.Tokens >= 0:
			u.RawTokens = *in.Tokens
		case in.Tokens != nil:
			warn("unit %s: negative token count %d clamped to 0", u.ID, *in.Tokens)
		default:
			r := est.Estimate(ctx, in.Content, opts.Family)
			res.Estimated++
			u.RawTokens = r.Tokens
			u.Approximate = r.Approximate()
			if r.Warning != "" {
				warn("unit %s: %s", u.ID, r.Warning)
			}
		}
		if u.Approximate {
			res.Approximate = true
		}

		u.Priority = normalizePriority(in.Priority, u.ID, warn)
		u.Recency = normalizeRecency(in.Recency, i, n, u.ID, warn)
		if in.Relevance != nil {
			r := clamp01(*in.Relevance)
			if r != *in.Relevance {
				warn("unit %s: relevance_score %.3f clamped to [0,1]", u.ID, *in.Relevance)
			}
			u.Relevance = &r
		}

		if in.Protected {
			u.Protect(ProtectCaller)
		}
		if u.Priority >= CriticalPriority {
			u.Protect(ProtectCritical)
		}
		if !u.IsError && (u.Type == TypeToolResult || u.Type == TypeMessage) && LooksLikeError(u.Content) {
			u.IsError = true
		}
		if u.IsError {
			u.Protect(ProtectError)
		}

		res.Units = append(res.Units, u)
	}

	protectRecentMessages(res.Units, opts.ProtectedRecentTurns)
	return res
}

// protectRecentMessages protects the last n message units.
func protectRecentMessages(units []ContextUnit, n int) {
	for i := len(units) - 1; i >= 0 && n > 0; i-- {
		if units[i].Type == TypeMessage {
			units[i].Protect(ProtectRecent)
			n--
		}
	}
}

// normalizePriority maps priorities on a 0-100 scale to 0-1.
func normalizePriority(p *float64, id string, warn func(string, ...any)) float64 {
	if p == nil {
		return 0.5
	}
	v := *p
	if v > 1 {
		v /= 100
	}
	if c := clamp01(v); c != v {
		warn("unit %s: priority %.3f clamped to [0,1]", id, *p)
		v = c
	}
	return v
}

// normalizeRecency derives recency from position when absent.
func normalizeRecency(r *float64, i, n int, id string, warn func(string, ...any)) float64 {
	if r == nil {
		return float64(i+1) / float64(n)
	}
	v := clamp01(*r)
	if v != *r {
		warn("unit %s: recency %.3f clamped to [0,1]", id, *r)
	}
	return v
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
