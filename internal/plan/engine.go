package plan

import (
	"context"
	"crypto/rand"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/hpungsan/governor/internal/budget"
	"github.com/hpungsan/governor/internal/config"
	gerrors "github.com/hpungsan/governor/internal/errors"
	"github.com/hpungsan/governor/internal/experiment"
	"github.com/hpungsan/governor/internal/intent"
	"github.com/hpungsan/governor/internal/metrics"
	"github.com/hpungsan/governor/internal/prune"
	"github.com/hpungsan/governor/internal/relevance"
	"github.com/hpungsan/governor/internal/strategy"
	"github.com/hpungsan/governor/internal/tier"
	"github.com/hpungsan/governor/internal/tokens"
	"github.com/hpungsan/governor/internal/unit"
)

const controlBypass = "control variant"

// Engine runs the plan pipeline. Safe for concurrent use; the only shared
// mutable state is the estimator cache.
type Engine struct {
	cfg    *config.Config
	est    *tokens.Estimator
	table  *strategy.Table
	logger *zap.Logger

	// Now and NewID are replaceable in tests.
	Now   func() time.Time
	NewID func() string
}

// NewEngine creates an Engine with the built-in strategy table.
func NewEngine(cfg *config.Config, est *tokens.Estimator, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		cfg:    cfg,
		est:    est,
		table:  strategy.DefaultTable(),
		logger: logger,
		Now:    time.Now,
		NewID:  newPlanID,
	}
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// newPlanID returns a ULID. The monotonic reader is not concurrency safe.
func newPlanID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// Strategies exposes the strategy table.
func (e *Engine) Strategies() *strategy.Table { return e.table }

// Generate runs normalize, classify, select strategy, score, prune, allocate
// and assemble. Only configuration misuse returns an error; data-shape
// problems become plan warnings.
func (e *Engine) Generate(ctx context.Context, req *Request) (*ExecutionPlan, error) {
	start := time.Now()
	if req == nil {
		return nil, gerrors.NewInvalidRequest("request is required")
	}
	var warnings []string

	modelID := strings.TrimSpace(req.Model)
	if modelID == "" {
		modelID = e.cfg.DefaultModel
	}
	model, known := budget.LookupModel(modelID)
	if !known {
		warnings = append(warnings, fmt.Sprintf("unknown model %q; context window check skipped and token counts approximated", modelID))
	}

	variant, err := experiment.ResolveVariant(req.ExperimentID, req.Variant, req.AssignmentKey)
	if err != nil {
		return nil, err
	}

	var explicitIntent intent.Intent
	if req.Intent != "" {
		if explicitIntent, err = intent.Parse(req.Intent); err != nil {
			return nil, err
		}
	}
	var explicitProfile *strategy.Profile
	if req.Strategy != "" {
		if explicitProfile, err = e.table.Get(req.Strategy); err != nil {
			return nil, err
		}
	}

	alloc := budget.Allocator{
		SystemPromptReserve: e.cfg.SystemPromptReserve,
		ResponseReservePct:  e.cfg.ResponseReservePct,
	}
	b, budgetWarnings, err := alloc.Allocate(req.Budget, model.ContextWindow)
	if err != nil {
		return nil, err
	}
	warnings = append(warnings, budgetWarnings...)

	norm := unit.Normalize(ctx, req.Units, e.est, unit.Options{
		Family:               model.Family,
		ProtectedRecentTurns: e.cfg.ProtectedRecentTurns,
	})
	units := norm.Units
	warnings = append(warnings, norm.Warnings...)
	method := tokens.MethodApproximate
	switch {
	case norm.Estimated == 0 && len(units) > 0:
		method = "caller_supplied"
	case !norm.Approximate && len(units) > 0:
		method = exactMethod(model.Family)
	}
	if norm.Approximate {
		warnings = append(warnings, "token counts are approximate (len/4); apply a safety margin to budget checks")
	}

	// Intent and strategy.
	cls := e.classify(req, units, explicitIntent)
	profileName := string(cls.Intent)
	if explicitIntent == "" && cls.Confidence < e.cfg.IntentConfidenceThreshold {
		warnings = append(warnings, fmt.Sprintf(
			"explainability.intent_confidence: %.2f below threshold %.2f; using the generic strategy",
			cls.Confidence, e.cfg.IntentConfidenceThreshold))
		profileName = string(intent.Generic)
	}
	profile := explicitProfile
	if profile == nil {
		if profile, err = e.table.Get(profileName); err != nil {
			return nil, err
		}
	}

	// Selection.
	assisted := false
	var res prune.Result
	var tiers tier.Analysis
	var waste relevance.WasteAnalysis
	if variant == experiment.Control {
		res = prune.KeepAll(units, b.Usable)
		tiers = tier.Disabled(controlBypass)
		waste = relevance.DisabledWaste(controlBypass)
		warnings = append(warnings, "control variant: filtering, relevance assist and pruning bypassed")
	} else {
		tiers = tier.Analyze(units)
		// Before Apply, so only caller scores count as relevance.
		waste = relevance.AnalyzeWaste(units, cls.Intent)
		assisted = relevance.Apply(units, req.Query) > 0
		res = prune.Select(units, profile, b.Usable, prune.Options{
			KeepThreshold:    e.cfg.KeepThreshold,
			PruneCeiling:     e.cfg.PruneCeiling,
			SummarizeRatio:   e.cfg.SummarizeRatio,
			SummaryMaxTokens: e.cfg.SummaryMaxTokens,
			TruncateRatio:    e.cfg.TruncateRatio,
			Summarizer:       e.cfg.HasSummarizer(),
		})
	}
	warnings = append(warnings, res.Warnings...)

	// Savings.
	postFilter := res.InputTokens
	baseline := req.BaselineTokens
	if variant == experiment.Control {
		// The control arm sees unfiltered context.
		baseline = postFilter
	}
	switch {
	case baseline == 0:
		baseline = postFilter
	case baseline < postFilter:
		warnings = append(warnings, fmt.Sprintf(
			"baseline_tokens %d is below the post-filter total %d; using the post-filter total", baseline, postFilter))
		baseline = postFilter
	}
	savings := breakdown(baseline, postFilter, postFilter-res.PrunedTokens, res.UsedTokens)

	priorities := make(map[string]float64, len(units))
	protected := 0
	messages := 0
	for _, u := range units {
		priorities[u.ID] = u.Priority
		if u.Protected {
			protected++
		}
		if u.Type == unit.TypeMessage {
			messages++
		}
	}
	if req.MessageCount > 0 {
		messages = req.MessageCount
	}

	quality, qualityWarnings := assessQuality(res, priorities, e.cfg.PruneCeiling)
	warnings = append(warnings, qualityWarnings...)

	p := &ExecutionPlan{
		PlanID:    e.NewID(),
		Version:   Version,
		CreatedAt: e.Now().UTC(),
		Constraints: Constraints{
			Budget:        b,
			Model:         model.ID,
			Intent:        cls.Intent,
			Strategy:      profile.Name,
			Variant:       variant,
			ExperimentID:  req.ExperimentID,
			AssignmentKey: req.AssignmentKey,
		},
		OptimizedContext: res.Decisions,
		Statistics: Statistics{
			InputTokens:  postFilter,
			OutputTokens: res.UsedTokens,
			TokensSaved:  baseline - res.UsedTokens,
			ReductionPct: savings.Overall.PercentOfBaseline,
			Counts:       res.Counts,
			Units:        len(units),
			Protected:    protected,
		},
		SavingsBreakdown: savings,
		SessionHygiene: Recommend(e.cfg.Hygiene,
			b.Utilization(postFilter), b.Utilization(res.UsedTokens), messages),
		QualityAssurance: quality,
		Explainability: Explainability{
			IntentConfidence:  cls.Confidence,
			IntentScores:      cls.Scores,
			IntentSource:      intentSource(explicitIntent, cls),
			StrategyUsed:      profile.Name,
			ReductionStrategy: reductionStrategy(postFilter, b.Usable),
			KeepThreshold:     prune.KeepThreshold(e.cfg.KeepThreshold, profile),
			PruneCeiling:      e.cfg.PruneCeiling,
			EstimationMethod:  method,
			RelevanceAssist:   assisted,
		},
		Recommendations: Recommendations{
			Model: budget.RecommendModel(model.ID, cls.Intent, postFilter, e.cfg.PrefersCostSavings()),
		},
		TieredArchitecture: tiers,
		RelevanceAnalysis:  waste,
		Metrics:            Metrics{Cost: estimateCost(model.ID, baseline, res.UsedTokens)},
		Warnings:           warnings,
		Validation:         b.Validate(res.UsedTokens),
	}
	if p.Warnings == nil {
		p.Warnings = []string{}
	}

	e.observe(p, time.Since(start))
	return p, nil
}

func (e *Engine) classify(req *Request, units []unit.ContextUnit, explicit intent.Intent) intent.Classification {
	if explicit != "" {
		return intent.Classification{Intent: explicit, Confidence: 1}
	}
	var sig intent.Signals
	var content strings.Builder
	for _, u := range units {
		if u.IsError {
			sig.ErrorUnits++
		}
		if u.Type == unit.TypeDiff {
			sig.DiffUnits++
		}
		if content.Len() < intent.MaxScanChars {
			content.WriteString(u.Content)
			content.WriteByte('\n')
		}
	}
	task := strings.TrimSpace(req.Task + " " + req.Query)
	c := intent.Classifier{Threshold: e.cfg.IntentConfidenceThreshold}
	return c.Classify(task, content.String(), sig)
}

func (e *Engine) observe(p *ExecutionPlan, elapsed time.Duration) {
	metrics.PlansTotal.WithLabelValues(string(p.Constraints.Variant), string(p.Constraints.Intent)).Inc()
	metrics.PlanDuration.Observe(elapsed.Seconds())
	for action, n := range p.Statistics.Counts {
		metrics.UnitActions.WithLabelValues(string(action)).Add(float64(n))
	}
	if p.Statistics.TokensSaved > 0 {
		metrics.TokensSaved.Add(float64(p.Statistics.TokensSaved))
	}
	if saved := p.Metrics.Cost.SavingsUSD; saved > 0 {
		metrics.CostSavedUSD.Add(saved)
	}
	if !p.Validation.WithinBudget {
		metrics.PlansOverBudget.Inc()
		e.logger.Warn("plan exceeds usable budget",
			zap.String("plan_id", p.PlanID),
			zap.Int("final_tokens", p.Validation.FinalTokens),
			zap.Int("usable", p.Constraints.Budget.Usable))
	}
	e.logger.Debug("plan generated",
		zap.String("plan_id", p.PlanID),
		zap.String("variant", string(p.Constraints.Variant)),
		zap.String("intent", string(p.Constraints.Intent)),
		zap.String("strategy", p.Constraints.Strategy),
		zap.Int("input_tokens", p.Statistics.InputTokens),
		zap.Int("output_tokens", p.Statistics.OutputTokens),
		zap.Int("keep", p.Statistics.Counts[unit.ActionKeep]),
		zap.Int("summarize", p.Statistics.Counts[unit.ActionSummarize]),
		zap.Int("truncate", p.Statistics.Counts[unit.ActionTruncate]),
		zap.Int("prune", p.Statistics.Counts[unit.ActionPrune]),
		zap.Duration("elapsed", elapsed))
}

func breakdown(baseline, afterFilter, afterPruning, final int) SavingsBreakdown {
	layer := func(saved int) Layer {
		return Layer{
			TokensSaved:         saved,
			PercentOfBaseline:   percent(saved, baseline),
			PercentOfPostFilter: percent(saved, afterFilter),
		}
	}
	s := SavingsBreakdown{
		BaselineTokens:          baseline,
		AfterFilterTokens:       afterFilter,
		AfterPruningTokens:      afterPruning,
		FinalTokens:             final,
		PackageFiltering:        Layer{TokensSaved: baseline - afterFilter, PercentOfBaseline: percent(baseline-afterFilter, baseline)},
		Pruning:                 layer(afterFilter - afterPruning),
		Summarization:           layer(afterPruning - final),
		PruningAndSummarization: layer(afterFilter - final),
		Overall:                 Layer{TokensSaved: baseline - final, PercentOfBaseline: percent(baseline-final, baseline)},
	}
	return s
}

func intentSource(explicit intent.Intent, cls intent.Classification) string {
	switch {
	case explicit != "":
		return "explicit"
	case cls.Ambiguous:
		return "ambiguous"
	}
	return "classified"
}

func exactMethod(f tokens.Family) string {
	if f == tokens.FamilyClaude {
		return tokens.MethodAnthropicAPI
	}
	return tokens.MethodTiktoken
}

func percent(part, whole int) float64 {
	if whole <= 0 {
		return 0
	}
	return round1(float64(part) / float64(whole) * 100)
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
