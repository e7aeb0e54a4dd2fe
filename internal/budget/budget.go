// Package budget splits a total token budget into system-prompt, context,
// and response sub-budgets and validates plans against them.
package budget

import (
	"fmt"
	"math"

	gerrors "github.com/hpungsan/governor/internal/errors"
)

// Budget is an allocated token budget. All fields are non-negative and
// SystemPromptReserve + ResponseReserve <= Total.
type Budget struct {
	Total               int `json:"total"`
	SystemPromptReserve int `json:"system_prompt_reserve"`
	ResponseReserve     int `json:"response_reserve"`
	Usable              int `json:"usable_context_budget"`
	ModelContextWindow  int `json:"model_context_window,omitempty"`
}

// Allocator holds the fixed reserves.
type Allocator struct {
	SystemPromptReserve int
	ResponseReservePct  float64
}

// Allocate splits total. A budget that leaves no usable context is a
// configuration error. modelWindow of 0 skips the window check.
func (a Allocator) Allocate(total, modelWindow int) (Budget, []string, error) {
	if total <= 0 {
		return Budget{}, nil, gerrors.NewInvalidConfig("budget", fmt.Sprintf("total must be positive, got %d", total))
	}
	if a.SystemPromptReserve < 0 || a.ResponseReservePct < 0 || a.ResponseReservePct >= 1 {
		return Budget{}, nil, gerrors.NewInvalidConfig("budget", "reserves must be non-negative and the response reserve below 100%")
	}
	b := Budget{
		Total:               total,
		SystemPromptReserve: a.SystemPromptReserve,
		ResponseReserve:     int(math.Round(float64(total) * a.ResponseReservePct)),
		ModelContextWindow:  modelWindow,
	}
	b.Usable = total - b.SystemPromptReserve - b.ResponseReserve
	if b.Usable <= 0 {
		return Budget{}, nil, gerrors.NewInvalidConfig("budget", fmt.Sprintf(
			"total %d leaves no usable context after system reserve %d and response reserve %d",
			total, b.SystemPromptReserve, b.ResponseReserve))
	}

	var warnings []string
	if modelWindow > 0 && total > modelWindow {
		msg := fmt.Sprintf("budget total %d exceeds the model context window %d; reduce the budget or use a larger model",
			total, modelWindow)
		if larger := LargerContextModels(total); len(larger) > 0 {
			msg += " such as " + larger[0]
		}
		warnings = append(warnings, msg)
	}
	return b, warnings, nil
}

// Validation is the final budget check of a plan.
type Validation struct {
	WithinBudget    bool `json:"within_budget"`
	BudgetRemaining int  `json:"budget_remaining"`
	FinalTokens     int  `json:"final_tokens"`
}

// Validate checks that finalTokens of context plus the system reserve fit
// under the total minus the response reserve.
func (b Budget) Validate(finalTokens int) Validation {
	return Validation{
		WithinBudget:    finalTokens+b.SystemPromptReserve <= b.Total-b.ResponseReserve,
		BudgetRemaining: b.Usable - finalTokens,
		FinalTokens:     finalTokens,
	}
}

// Utilization returns tokens as a percentage of the usable budget.
func (b Budget) Utilization(tokens int) float64 {
	if b.Usable <= 0 {
		return 0
	}
	return math.Round(float64(tokens)/float64(b.Usable)*1000) / 10
}
