package mcp

import (
	"database/sql"
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/hpungsan/governor/internal/config"
	"github.com/hpungsan/governor/internal/plan"
	"github.com/hpungsan/governor/internal/tokens"
)

// KnownTypes lists the tool type prefixes accepted by disabled_types.
var KnownTypes = []string{"plan", "tokens", "intent", "experiment"}

// toolEntry pairs a tool definition with a handler factory.
type toolEntry struct {
	def     mcp.Tool
	handler func(*Handlers) server.ToolHandlerFunc
}

// toolRegistry maps tool names to their definitions and handler factories.
// Names follow "type_action"; the type prefix is what disabled_types matches.
var toolRegistry = map[string]toolEntry{
	"plan_generate": {
		def:     planGenerateToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandlePlanGenerate },
	},
	"plan_fetch": {
		def:     planFetchToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandlePlanFetch },
	},
	"plan_list": {
		def:     planListToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandlePlanList },
	},
	"tokens_estimate": {
		def:     tokensEstimateToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleTokensEstimate },
	},
	"intent_classify": {
		def:     intentClassifyToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleIntentClassify },
	},
	"experiment_assign": {
		def:     experimentAssignToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleExperimentAssign },
	},
	"experiment_record": {
		def:     experimentRecordToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleExperimentRecord },
	},
	"experiment_report": {
		def:     experimentReportToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleExperimentReport },
	},
	"experiment_export": {
		def:     experimentExportToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleExperimentExport },
	},
	"experiment_import": {
		def:     experimentImportToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleExperimentImport },
	},
	"experiment_purge": {
		def:     experimentPurgeToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleExperimentPurge },
	},
}

// AllToolNames returns every tool name, sorted.
func AllToolNames() []string {
	names := make([]string, 0, len(toolRegistry))
	for name := range toolRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidateDisabledTools returns the names that are not registered tools.
func ValidateDisabledTools(names []string) []string {
	unknown := make([]string, 0)
	for _, name := range names {
		if _, ok := toolRegistry[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	return unknown
}

// ValidateDisabledTypes returns the names that are not known tool types.
func ValidateDisabledTypes(names []string) []string {
	known := make(map[string]bool, len(KnownTypes))
	for _, t := range KnownTypes {
		known[t] = true
	}
	unknown := make([]string, 0)
	for _, name := range names {
		if !known[name] {
			unknown = append(unknown, name)
		}
	}
	return unknown
}

// GetTypeForTool returns the type prefix of a tool name ("plan_fetch" → "plan").
func GetTypeForTool(toolName string) string {
	if idx := strings.Index(toolName, "_"); idx > 0 {
		return toolName[:idx]
	}
	return ""
}

// ExpandTypesToTools returns all tool names belonging to the given types.
func ExpandTypesToTools(types []string) []string {
	if len(types) == 0 {
		return nil
	}
	typeSet := make(map[string]bool, len(types))
	for _, t := range types {
		typeSet[t] = true
	}

	tools := make([]string, 0)
	for name := range toolRegistry {
		if typeSet[GetTypeForTool(name)] {
			tools = append(tools, name)
		}
	}
	return tools
}

// NewServer creates an MCP server with the governor tools registered, minus
// cfg.DisabledTools and every tool of cfg.DisabledTypes.
func NewServer(h *Handlers, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"governor",
		version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)

	disabled := make(map[string]bool)
	for _, tool := range ExpandTypesToTools(h.cfg.DisabledTypes) {
		disabled[tool] = true
	}
	for _, name := range h.cfg.DisabledTools {
		disabled[name] = true
	}

	for name, entry := range toolRegistry {
		if disabled[name] {
			continue
		}
		s.AddTool(entry.def, entry.handler(h))
	}
	return s
}

// Run serves the MCP tools over stdio.
func Run(db *sql.DB, cfg *config.Config, engine *plan.Engine, est *tokens.Estimator, logger *zap.Logger, version string) error {
	h := NewHandlers(db, cfg, engine, est, logger)
	logger.Info("starting MCP server", zap.String("version", version), zap.Int("tools", len(toolRegistry)))
	return server.ServeStdio(NewServer(h, version))
}
