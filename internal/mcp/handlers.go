package mcp

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/hpungsan/governor/internal/config"
	"github.com/hpungsan/governor/internal/errors"
	"github.com/hpungsan/governor/internal/experiment"
	"github.com/hpungsan/governor/internal/ops"
	"github.com/hpungsan/governor/internal/plan"
	"github.com/hpungsan/governor/internal/tokens"
)

// Handlers holds dependencies for MCP tool handlers.
type Handlers struct {
	db     *sql.DB
	cfg    *config.Config
	engine *plan.Engine
	est    *tokens.Estimator
	logger *zap.Logger
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(db *sql.DB, cfg *config.Config, engine *plan.Engine, est *tokens.Estimator, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{db: db, cfg: cfg, engine: engine, est: est, logger: logger}
}

// Request types for each tool

// PlanGenerateRequest represents the arguments for plan_generate.
type PlanGenerateRequest struct {
	plan.Request
	Persist *bool `json:"persist,omitempty"`
	Record  bool  `json:"record,omitempty"`
}

// PlanFetchRequest represents the arguments for plan_fetch.
type PlanFetchRequest struct {
	PlanID string `json:"plan_id"`
}

// PlanListRequest represents the arguments for plan_list.
type PlanListRequest struct {
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}

// TokensEstimateRequest represents the arguments for tokens_estimate.
type TokensEstimateRequest struct {
	Content string `json:"content"`
	Model   string `json:"model,omitempty"`
}

// IntentClassifyRequest represents the arguments for intent_classify.
type IntentClassifyRequest struct {
	Task       string `json:"task"`
	Content    string `json:"content,omitempty"`
	ErrorUnits int    `json:"error_units,omitempty"`
	DiffUnits  int    `json:"diff_units,omitempty"`
}

// ExperimentAssignRequest represents the arguments for experiment_assign.
type ExperimentAssignRequest struct {
	ExperimentID  string `json:"experiment_id"`
	AssignmentKey string `json:"assignment_key,omitempty"`
	Variant       string `json:"variant,omitempty"`
}

// ExperimentRecordRequest represents the arguments for experiment_record.
// Absent booleans default to true: a session reported without them is
// assumed to have fit the budget and kept its quality.
type ExperimentRecordRequest struct {
	ExperimentID     string   `json:"experiment_id"`
	Variant          string   `json:"variant"`
	SessionID        string   `json:"session_id,omitempty"`
	AssignmentKey    string   `json:"assignment_key,omitempty"`
	Intent           string   `json:"intent,omitempty"`
	Budget           int      `json:"budget,omitempty"`
	BaselineTokens   int      `json:"baseline_tokens"`
	PostFilterTokens *int     `json:"post_filter_tokens,omitempty"`
	OutputTokens     int      `json:"output_tokens,omitempty"`
	WithinBudget     *bool    `json:"within_budget,omitempty"`
	QualityPreserved *bool    `json:"quality_preserved,omitempty"`
	QualityScore     *float64 `json:"quality_score,omitempty"`
	ContextMissCount int      `json:"context_miss_count,omitempty"`
}

// ExperimentReportRequest represents the arguments for experiment_report.
type ExperimentReportRequest struct {
	ExperimentID        string   `json:"experiment_id"`
	WindowDays          *int     `json:"window_days,omitempty"`
	MinSamples          *int     `json:"min_samples,omitempty"`
	MinSamplesPerIntent *int     `json:"min_samples_per_intent,omitempty"`
	RequiredIntents     []string `json:"required_intents,omitempty"`
	Strict              bool     `json:"strict,omitempty"`
	FailFast            bool     `json:"fail_fast,omitempty"`
	Format              string   `json:"format,omitempty"`
}

// ExperimentExportRequest represents the arguments for experiment_export.
type ExperimentExportRequest struct {
	Path         string `json:"path,omitempty"`
	ExperimentID string `json:"experiment_id,omitempty"`
}

// ExperimentImportRequest represents the arguments for experiment_import.
type ExperimentImportRequest struct {
	Path string `json:"path"`
	Mode string `json:"mode,omitempty"`
}

// ExperimentPurgeRequest represents the arguments for experiment_purge.
type ExperimentPurgeRequest struct {
	OlderThanDays *int   `json:"older_than_days"`
	ExperimentID  string `json:"experiment_id,omitempty"`
}

// Handler implementations

// HandlePlanGenerate handles the plan_generate tool.
func (h *Handlers) HandlePlanGenerate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	r, err := decode[PlanGenerateRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	persist := true
	if r.Persist != nil {
		persist = *r.Persist
	}
	result, err := ops.Plan(ctx, h.db, h.engine, ops.PlanInput{
		Request: &r.Request,
		Persist: persist,
		Record:  r.Record,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandlePlanFetch handles the plan_fetch tool.
func (h *Handlers) HandlePlanFetch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	r, err := decode[PlanFetchRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.Fetch(h.db, ops.FetchInput{PlanID: r.PlanID})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandlePlanList handles the plan_list tool.
func (h *Handlers) HandlePlanList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	r, err := decode[PlanListRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.List(h.db, ops.ListInput{Limit: r.Limit, Offset: r.Offset})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleTokensEstimate handles the tokens_estimate tool.
func (h *Handlers) HandleTokensEstimate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	r, err := decode[TokensEstimateRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	return successResult(ops.Estimate(ctx, h.est, h.cfg, ops.EstimateInput{Content: r.Content, Model: r.Model}))
}

// HandleIntentClassify handles the intent_classify tool.
func (h *Handlers) HandleIntentClassify(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	r, err := decode[IntentClassifyRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	if r.Task == "" && r.Content == "" {
		return errorResult(errors.NewInvalidRequest("task is required")), nil
	}

	return successResult(ops.Classify(h.cfg, ops.ClassifyInput{
		Task:       r.Task,
		Content:    r.Content,
		ErrorUnits: r.ErrorUnits,
		DiffUnits:  r.DiffUnits,
	}))
}

// HandleExperimentAssign handles the experiment_assign tool.
func (h *Handlers) HandleExperimentAssign(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	r, err := decode[ExperimentAssignRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.Assign(ops.AssignInput{
		ExperimentID:  r.ExperimentID,
		AssignmentKey: r.AssignmentKey,
		Variant:       r.Variant,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleExperimentRecord handles the experiment_record tool.
func (h *Handlers) HandleExperimentRecord(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	r, err := decode[ExperimentRecordRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.Record(h.db, ops.RecordInput{Sample: r.sample()})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

func (r ExperimentRecordRequest) sample() experiment.Sample {
	s := experiment.Sample{
		SessionID:        r.SessionID,
		ExperimentID:     r.ExperimentID,
		Variant:          experiment.Variant(r.Variant),
		AssignmentKey:    r.AssignmentKey,
		Intent:           r.Intent,
		Budget:           r.Budget,
		BaselineTokens:   r.BaselineTokens,
		PostFilterTokens: r.BaselineTokens,
		OutputTokens:     r.OutputTokens,
		WithinBudget:     true,
		QualityPreserved: true,
		QualityScore:     r.QualityScore,
		ContextMissCount: r.ContextMissCount,
	}
	if r.PostFilterTokens != nil {
		s.PostFilterTokens = *r.PostFilterTokens
	}
	if r.WithinBudget != nil {
		s.WithinBudget = *r.WithinBudget
	}
	if r.QualityPreserved != nil {
		s.QualityPreserved = *r.QualityPreserved
	}
	return s
}

// HandleExperimentReport handles the experiment_report tool.
func (h *Handlers) HandleExperimentReport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	r, err := decode[ExperimentReportRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	if r.Format != "" && r.Format != "json" && r.Format != "markdown" {
		return errorResult(errors.NewInvalidRequest("format must be json or markdown")), nil
	}

	result, err := ops.Report(ctx, h.db, h.cfg, h.logger, ops.ReportInput{
		ExperimentID:        r.ExperimentID,
		WindowDays:          r.WindowDays,
		MinSamples:          r.MinSamples,
		MinSamplesPerIntent: r.MinSamplesPerIntent,
		RequiredIntents:     r.RequiredIntents,
		Strict:              r.Strict,
		FailFast:            r.FailFast,
	})
	if err != nil {
		return errorResult(err), nil
	}
	if r.Format == "markdown" {
		return mcp.NewToolResultText(result.Markdown), nil
	}
	return successResult(result)
}

// HandleExperimentExport handles the experiment_export tool.
func (h *Handlers) HandleExperimentExport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	r, err := decode[ExperimentExportRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.Export(ctx, h.db, h.cfg, ops.ExportInput{Path: r.Path, ExperimentID: r.ExperimentID})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleExperimentImport handles the experiment_import tool.
func (h *Handlers) HandleExperimentImport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	r, err := decode[ExperimentImportRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.Import(h.db, h.cfg, ops.ImportInput{Path: r.Path, Mode: ops.ImportMode(r.Mode)})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleExperimentPurge handles the experiment_purge tool.
func (h *Handlers) HandleExperimentPurge(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	r, err := decode[ExperimentPurgeRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	if r.OlderThanDays == nil {
		return errorResult(errors.NewInvalidRequest("older_than_days is required")), nil
	}

	result, err := ops.Purge(h.db, ops.PurgeInput{
		OlderThanDays: *r.OlderThanDays,
		ExperimentID:  r.ExperimentID,
		Now:           time.Now,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// Result helpers

// errorResult creates an MCP error result from any error.
// Details of INTERNAL errors are never exposed; they may carry file paths
// or SQL text.
func errorResult(err error) *mcp.CallToolResult {
	var payload map[string]any

	var gErr *errors.GovernorError
	if stderrors.As(err, &gErr) {
		// Keep wrapper context such as "line 3: " in front of the message.
		message := gErr.Message
		if full := err.Error(); full != gErr.Error() {
			message = strings.TrimSuffix(full, gErr.Error()) + gErr.Message
		}
		errorObj := map[string]any{
			"code":    gErr.Code,
			"message": message,
			"status":  gErr.Status,
		}
		if gErr.Code != errors.ErrInternal && gErr.Details != nil {
			errorObj["details"] = gErr.Details
		}
		payload = map[string]any{"error": errorObj}
	} else {
		payload = map[string]any{
			"error": map[string]any{
				"code":    errors.ErrInternal,
				"message": "an internal error occurred",
				"status":  500,
			},
		}
	}

	content, _ := json.Marshal(payload)
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

// successResult creates an MCP success result from any data.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}
