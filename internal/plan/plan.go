// Package plan composes the budgeting pipeline into immutable execution plans.
package plan

import (
	"time"

	"github.com/hpungsan/governor/internal/budget"
	"github.com/hpungsan/governor/internal/experiment"
	"github.com/hpungsan/governor/internal/intent"
	"github.com/hpungsan/governor/internal/prune"
	"github.com/hpungsan/governor/internal/relevance"
	"github.com/hpungsan/governor/internal/tier"
	"github.com/hpungsan/governor/internal/unit"
)

// Version is the plan document schema version.
const Version = "1.0"

// ExecutionPlan is the output of one plan run. Plans are never mutated after
// assembly.
type ExecutionPlan struct {
	PlanID           string           `json:"plan_id"`
	Version          string           `json:"version"`
	CreatedAt        time.Time        `json:"created_at"`
	Constraints      Constraints      `json:"constraints"`
	OptimizedContext []prune.Decision `json:"optimized_context"`
	Statistics       Statistics       `json:"statistics"`
	SavingsBreakdown SavingsBreakdown `json:"savings_breakdown"`
	SessionHygiene   Hygiene          `json:"session_hygiene"`
	QualityAssurance QualityAssurance `json:"quality_assurance"`
	Explainability   Explainability   `json:"explainability"`
	Recommendations  Recommendations  `json:"recommendations"`
	// TieredArchitecture and RelevanceAnalysis are disabled for control.
	TieredArchitecture tier.Analysis           `json:"tiered_architecture"`
	RelevanceAnalysis  relevance.WasteAnalysis `json:"relevance_analysis"`
	Metrics            Metrics                 `json:"metrics"`
	Warnings           []string                `json:"warnings"`
	Validation         budget.Validation       `json:"validation"`
}

// Recommendations are advisory; the plan is computed for the requested model.
type Recommendations struct {
	Model budget.ModelRecommendation `json:"model"`
}

// Constraints echo the resolved run parameters.
type Constraints struct {
	Budget        budget.Budget      `json:"budget"`
	Model         string             `json:"target_model"`
	Intent        intent.Intent      `json:"intent"`
	Strategy      string             `json:"strategy"`
	Variant       experiment.Variant `json:"variant"`
	ExperimentID  string             `json:"experiment_id,omitempty"`
	AssignmentKey string             `json:"assignment_key,omitempty"`
}

// Statistics summarize the selection.
type Statistics struct {
	InputTokens  int                 `json:"input_tokens"`
	OutputTokens int                 `json:"output_tokens"`
	TokensSaved  int                 `json:"tokens_saved"`
	ReductionPct float64             `json:"reduction_pct"`
	Counts       map[unit.Action]int `json:"counts"`
	Units        int                 `json:"units"`
	Protected    int                 `json:"protected_units"`
}

// Layer is one savings delta.
type Layer struct {
	TokensSaved         int     `json:"tokens_saved"`
	PercentOfBaseline   float64 `json:"percentage_of_baseline"`
	PercentOfPostFilter float64 `json:"percentage_of_post_filter,omitempty"`
}

// SavingsBreakdown layers baseline -> after filter -> after pruning -> final.
type SavingsBreakdown struct {
	BaselineTokens     int   `json:"baseline_tokens"`
	AfterFilterTokens  int   `json:"after_filter_tokens"`
	AfterPruningTokens int   `json:"after_pruning_tokens"`
	FinalTokens        int   `json:"final_tokens"`
	PackageFiltering   Layer `json:"package_filtering"`
	Pruning            Layer `json:"pruning"`
	Summarization      Layer `json:"summarization"`
	// PruningAndSummarization combines the two in-engine layers.
	PruningAndSummarization Layer `json:"pruning_and_summarization"`
	Overall                 Layer `json:"overall"`
}

// Explainability records why the plan looks the way it does.
type Explainability struct {
	IntentConfidence  float64                   `json:"intent_confidence"`
	IntentScores      map[intent.Intent]float64 `json:"intent_scores,omitempty"`
	IntentSource      string                    `json:"intent_source"`
	StrategyUsed      string                    `json:"strategy_used"`
	ReductionStrategy string                    `json:"reduction_strategy"`
	KeepThreshold     float64                   `json:"keep_threshold"`
	PruneCeiling      float64                   `json:"prune_ceiling"`
	EstimationMethod  string                    `json:"estimation_method"`
	RelevanceAssist   bool                      `json:"relevance_assist"`
}

// WithinBudget reports validation.within_budget. Callers must check it
// before using the plan.
func (p *ExecutionPlan) WithinBudget() bool {
	return p.Validation.WithinBudget
}
