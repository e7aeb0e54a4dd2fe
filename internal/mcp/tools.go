package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

var unitSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"id":              map[string]any{"type": "string"},
		"type":            map[string]any{"type": "string", "description": "file, message, tool_result, diff, documentation, other (aliases accepted)"},
		"content":         map[string]any{"type": "string"},
		"source":          map[string]any{"type": "string"},
		"tokens":          map[string]any{"type": "integer", "minimum": 0},
		"priority":        map[string]any{"type": "number", "description": "0-1, or 0-100"},
		"recency":         map[string]any{"type": "number"},
		"relevance_score": map[string]any{"type": "number"},
		"is_error":        map[string]any{"type": "boolean"},
		"protected":       map[string]any{"type": "boolean"},
	},
	"required": []string{"type"},
}

var planGenerateToolDef = mcp.NewTool("plan_generate",
	mcp.WithDescription("Generate a context execution plan: classify the task intent, score every context unit, "+
		"and assign keep/summarize/truncate/prune actions that fit the token budget. The plan is advisory; "+
		"apply it to your context yourself."),
	mcp.WithNumber("budget", mcp.Required(), mcp.Description("Total token budget (system and response reserves are carved out of it)")),
	mcp.WithArray("units", mcp.Required(), mcp.Description("Candidate context units"), mcp.Items(unitSchema)),
	mcp.WithString("task", mcp.Description("Task description used for intent classification")),
	mcp.WithString("query", mcp.Description("Search query for relevance assist when units lack relevance_score")),
	mcp.WithString("model", mcp.Description("Target model id (default from config)")),
	mcp.WithString("intent", mcp.Description("Explicit intent; skips classification")),
	mcp.WithString("strategy", mcp.Description("Explicit strategy profile")),
	mcp.WithNumber("baseline_tokens", mcp.Description("Context size before upstream filtering")),
	mcp.WithNumber("message_count", mcp.Description("Conversation length for session hygiene")),
	mcp.WithString("experiment_id", mcp.Description("A/B experiment id")),
	mcp.WithString("variant", mcp.Description("control, optimized or auto"), mcp.Enum("control", "optimized", "auto")),
	mcp.WithString("assignment_key", mcp.Description("Stable key for automatic variant assignment")),
	mcp.WithBoolean("persist", mcp.Description("Store the plan for plan_fetch (default true)")),
	mcp.WithBoolean("record", mcp.Description("Record the session outcome for the experiment report")),
)

var planFetchToolDef = mcp.NewTool("plan_fetch",
	mcp.WithDescription("Fetch a stored execution plan by id."),
	mcp.WithString("plan_id", mcp.Required(), mcp.Description("Plan ULID")),
	mcp.WithReadOnlyHintAnnotation(true),
)

var planListToolDef = mcp.NewTool("plan_list",
	mcp.WithDescription("List stored plans, newest first."),
	mcp.WithNumber("limit", mcp.Description("Max items (default 20, max 100)")),
	mcp.WithNumber("offset", mcp.Description("Pagination offset")),
	mcp.WithReadOnlyHintAnnotation(true),
)

var tokensEstimateToolDef = mcp.NewTool("tokens_estimate",
	mcp.WithDescription("Count the tokens of a piece of content for a target model. Reports whether the count is exact or approximate."),
	mcp.WithString("content", mcp.Required(), mcp.Description("Content to count")),
	mcp.WithString("model", mcp.Description("Target model id (default from config)")),
	mcp.WithReadOnlyHintAnnotation(true),
)

var intentClassifyToolDef = mcp.NewTool("intent_classify",
	mcp.WithDescription("Classify a task into code_generation, debugging, explanation, search, planning, review or generic."),
	mcp.WithString("task", mcp.Required(), mcp.Description("Task description")),
	mcp.WithString("content", mcp.Description("Additional context content")),
	mcp.WithNumber("error_units", mcp.Description("Number of units carrying error output")),
	mcp.WithNumber("diff_units", mcp.Description("Number of diff units")),
	mcp.WithReadOnlyHintAnnotation(true),
)

var experimentAssignToolDef = mcp.NewTool("experiment_assign",
	mcp.WithDescription("Resolve the A/B variant for an assignment key. Assignment is deterministic per (experiment_id, assignment_key)."),
	mcp.WithString("experiment_id", mcp.Required()),
	mcp.WithString("assignment_key", mcp.Description("Stable key such as a ticket id")),
	mcp.WithString("variant", mcp.Description("Explicit override"), mcp.Enum("control", "optimized", "auto")),
	mcp.WithReadOnlyHintAnnotation(true),
)

var experimentRecordToolDef = mcp.NewTool("experiment_record",
	mcp.WithDescription("Record a session outcome (token counts, quality, context misses) for an experiment."),
	mcp.WithString("experiment_id", mcp.Required()),
	mcp.WithString("variant", mcp.Required(), mcp.Enum("control", "optimized")),
	mcp.WithString("session_id", mcp.Description("Defaults to a new UUID")),
	mcp.WithString("assignment_key"),
	mcp.WithString("intent", mcp.Description("Defaults to generic")),
	mcp.WithNumber("budget"),
	mcp.WithNumber("baseline_tokens", mcp.Required()),
	mcp.WithNumber("post_filter_tokens"),
	mcp.WithNumber("output_tokens"),
	mcp.WithBoolean("within_budget"),
	mcp.WithBoolean("quality_preserved"),
	mcp.WithNumber("quality_score"),
	mcp.WithNumber("context_miss_count"),
)

var experimentReportToolDef = mcp.NewTool("experiment_report",
	mcp.WithDescription("Build the claim-gated A/B report for an experiment from recorded sessions. "+
		"In strict mode a report that is not claim ready returns CLAIM_NOT_READY."),
	mcp.WithString("experiment_id", mcp.Required()),
	mcp.WithNumber("window_days", mcp.Description("Only sessions from the last N days (0 = all)")),
	mcp.WithNumber("min_samples"),
	mcp.WithNumber("min_samples_per_intent"),
	mcp.WithArray("required_intents", mcp.Items(map[string]any{"type": "string"})),
	mcp.WithBoolean("strict"),
	mcp.WithBoolean("fail_fast"),
	mcp.WithString("format", mcp.Enum("json", "markdown"), mcp.Description("Default json")),
	mcp.WithReadOnlyHintAnnotation(true),
)

var experimentExportToolDef = mcp.NewTool("experiment_export",
	mcp.WithDescription("Export recorded sessions to a JSONL file."),
	mcp.WithString("path", mcp.Description("Default ~/.governor/exports/<experiment>-<timestamp>.jsonl")),
	mcp.WithString("experiment_id"),
)

var experimentImportToolDef = mcp.NewTool("experiment_import",
	mcp.WithDescription("Import sessions from a JSONL export file."),
	mcp.WithString("path", mcp.Required()),
	mcp.WithString("mode", mcp.Enum("error", "skip", "rename"), mcp.Description("Collision handling (default error)")),
)

var experimentPurgeToolDef = mcp.NewTool("experiment_purge",
	mcp.WithDescription("Permanently delete sessions and plans older than N days."),
	mcp.WithNumber("older_than_days", mcp.Required()),
	mcp.WithString("experiment_id"),
	mcp.WithDestructiveHintAnnotation(true),
)
