package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	gerrors "github.com/hpungsan/governor/internal/errors"
)

// HygieneThresholds drive sessionHygiene.recommendedAction. Percentages are
// estimated context utilization of the usable budget.
type HygieneThresholds struct {
	PreparePct        float64 `json:"prepare_pct,omitempty"`
	CompactPct        float64 `json:"compact_pct,omitempty"`
	ImmediatePct      float64 `json:"immediate_pct,omitempty"`
	PrepareMessages   int     `json:"prepare_messages,omitempty"`
	CompactMessages   int     `json:"compact_messages,omitempty"`
	ImmediateMessages int     `json:"immediate_messages,omitempty"`
}

// ExperimentConfig holds the default claim-gate parameters for reports.
type ExperimentConfig struct {
	MinSamples             int      `json:"min_samples,omitempty"`
	MinSamplesPerIntent    int      `json:"min_samples_per_intent,omitempty"`
	RequiredIntents        []string `json:"required_intents,omitempty"`
	Alpha                  float64  `json:"alpha,omitempty"`
	BootstrapIterations    int      `json:"bootstrap_iterations,omitempty"`
	PermutationIterations  int      `json:"permutation_iterations,omitempty"`
	MinQualityPreservedPct float64  `json:"min_quality_preserved_pct,omitempty"`
	WindowDays             int      `json:"window_days,omitempty"`
}

// TokenizerConfig controls the Token Estimator.
type TokenizerConfig struct {
	// CacheMaxEntries bounds the process-wide estimate cache.
	CacheMaxEntries int `json:"cache_max_entries,omitempty"`

	// AnthropicCounting enables exact Claude counts through the token counting
	// API. Requires ANTHROPIC_API_KEY. Off by default: the pipeline should not
	// depend on the network.
	AnthropicCounting bool `json:"anthropic_counting,omitempty"`

	// AnthropicTimeoutSeconds bounds a single counting request.
	AnthropicTimeoutSeconds int `json:"anthropic_timeout_seconds,omitempty"`

	// AnthropicModel is the API model id sent with counting requests.
	AnthropicModel string `json:"anthropic_model,omitempty"`
}

// Config holds application configuration.
type Config struct {
	// SystemPromptReserve is the fixed token reserve for the system prompt.
	SystemPromptReserve int `json:"system_prompt_reserve,omitempty"`

	// ResponseReservePct is the fraction of the total budget reserved for the response.
	ResponseReservePct float64 `json:"response_reserve_pct,omitempty"`

	// PruneCeiling is the hard upper bound on the fraction of post-filter
	// tokens that may be assigned prune.
	PruneCeiling float64 `json:"prune_ceiling,omitempty"`

	// KeepThreshold is the minimum score for an overflowing unit to be
	// summarized or truncated instead of pruned.
	KeepThreshold float64 `json:"keep_threshold,omitempty"`

	// SummarizeRatio and SummaryMaxTokens estimate summarized size.
	SummarizeRatio   float64 `json:"summarize_ratio,omitempty"`
	SummaryMaxTokens int     `json:"summary_max_tokens,omitempty"`

	// TruncateRatio estimates truncated size when no summarizer is available.
	TruncateRatio float64 `json:"truncate_ratio,omitempty"`

	// SummarizerAvailable selects summarize over truncate for shrinking.
	// Pointer so a repo config can turn it off over a global default.
	SummarizerAvailable *bool `json:"summarizer_available,omitempty"`

	// PreferCostSavings lets the model recommendation suggest cheaper models.
	PreferCostSavings *bool `json:"prefer_cost_savings,omitempty"`

	// ProtectedRecentTurns is the number of most recent messages that are protected.
	ProtectedRecentTurns int `json:"protected_recent_turns,omitempty"`

	// IntentConfidenceThreshold is the confidence below which the generic
	// strategy is used and a warning is emitted.
	IntentConfidenceThreshold float64 `json:"intent_confidence_threshold,omitempty"`

	// DefaultModel is the target model when none is given.
	DefaultModel string `json:"default_model,omitempty"`

	Hygiene    HygieneThresholds `json:"hygiene"`
	Experiment ExperimentConfig  `json:"experiment"`
	Tokenizer  TokenizerConfig   `json:"tokenizer"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `json:"log_level,omitempty"`

	// LogFormat is json or console.
	LogFormat string `json:"log_format,omitempty"`

	// AllowedPaths is an allowlist of directories for import/export operations.
	// Paths outside ~/.governor/exports require either being in this list or AllowUnsafePaths=true.
	AllowedPaths []string `json:"allowed_paths,omitempty"`

	// AllowUnsafePaths disables directory restrictions for import/export.
	AllowUnsafePaths bool `json:"allow_unsafe_paths,omitempty"`

	// DBMaxOpenConns limits the maximum number of open database connections.
	DBMaxOpenConns int `json:"db_max_open_conns,omitempty"`

	// DBMaxIdleConns limits the maximum number of idle database connections.
	DBMaxIdleConns int `json:"db_max_idle_conns,omitempty"`

	// DisabledTools is a list of MCP tool names to exclude from registration.
	DisabledTools []string `json:"disabled_tools,omitempty"`

	// DisabledTypes is a list of tool type names to disable entirely.
	// Known types: "plan", "tokens", "intent", "experiment".
	DisabledTypes []string `json:"disabled_types,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	summarizer, preferCost := true, true
	return &Config{
		SystemPromptReserve:       500,
		ResponseReservePct:        0.20,
		PruneCeiling:              0.40,
		KeepThreshold:             0.40,
		SummarizeRatio:            0.40,
		SummaryMaxTokens:          600,
		TruncateRatio:             0.50,
		SummarizerAvailable:       &summarizer,
		PreferCostSavings:         &preferCost,
		ProtectedRecentTurns:      3,
		IntentConfidenceThreshold: 0.5,
		DefaultModel:              "claude-sonnet-4",
		Hygiene: HygieneThresholds{
			PreparePct:        35,
			CompactPct:        50,
			ImmediatePct:      80,
			PrepareMessages:   25,
			CompactMessages:   35,
			ImmediateMessages: 55,
		},
		Experiment: ExperimentConfig{
			MinSamples:             20,
			MinSamplesPerIntent:    5,
			RequiredIntents:        []string{"code_generation", "debugging", "planning", "review"},
			Alpha:                  0.05,
			BootstrapIterations:    3000,
			PermutationIterations:  3000,
			MinQualityPreservedPct: 95,
			WindowDays:             14,
		},
		Tokenizer: TokenizerConfig{
			CacheMaxEntries:         10000,
			AnthropicTimeoutSeconds: 10,
			AnthropicModel:          "claude-sonnet-4-0",
		},
		LogLevel:  "info",
		LogFormat: "json",
	}
}

// HasSummarizer reports whether shrinking should be planned as summarize.
func (c *Config) HasSummarizer() bool {
	return c.SummarizerAvailable == nil || *c.SummarizerAvailable
}

// PrefersCostSavings reports whether cheaper models may be recommended.
func (c *Config) PrefersCostSavings() bool {
	return c.PreferCostSavings == nil || *c.PreferCostSavings
}

// Hard quality guarantees. Configuration may tighten them but not relax them.
const (
	// MaxPruneCeiling bounds the pruned fraction of post-filter tokens.
	MaxPruneCeiling = 0.40
	// MinQualityPreservedFloor is the lowest quality-preserved rate the
	// claim gate may require of the optimized arm.
	MinQualityPreservedFloor = 95.0
)

// Validate rejects configurations the engine cannot honor.
func (c *Config) Validate() error {
	if c.SystemPromptReserve < 0 {
		return gerrors.NewInvalidConfig("system_prompt_reserve", "must be non-negative")
	}
	if c.ResponseReservePct < 0 || c.ResponseReservePct >= 1 {
		return gerrors.NewInvalidConfig("response_reserve_pct", "must be in [0, 1)")
	}
	if c.PruneCeiling <= 0 || c.PruneCeiling > MaxPruneCeiling {
		return gerrors.NewInvalidConfig("prune_ceiling", "must be in (0, 0.40]; the ceiling may be lowered, never raised")
	}
	if c.KeepThreshold < 0 {
		return gerrors.NewInvalidConfig("keep_threshold", "must be non-negative")
	}
	if c.SummarizeRatio <= 0 || c.SummarizeRatio >= 1 {
		return gerrors.NewInvalidConfig("summarize_ratio", "must be in (0, 1)")
	}
	if c.TruncateRatio <= 0 || c.TruncateRatio >= 1 {
		return gerrors.NewInvalidConfig("truncate_ratio", "must be in (0, 1)")
	}
	if c.SummaryMaxTokens < 0 {
		return gerrors.NewInvalidConfig("summary_max_tokens", "must be non-negative")
	}
	if c.ProtectedRecentTurns < 0 {
		return gerrors.NewInvalidConfig("protected_recent_turns", "must be non-negative")
	}
	if c.IntentConfidenceThreshold < 0 || c.IntentConfidenceThreshold > 1 {
		return gerrors.NewInvalidConfig("intent_confidence_threshold", "must be in [0, 1]")
	}
	h := c.Hygiene
	if !(h.PreparePct < h.CompactPct && h.CompactPct < h.ImmediatePct) {
		return gerrors.NewInvalidConfig("hygiene", "percent thresholds must be strictly ascending")
	}
	if !(h.PrepareMessages < h.CompactMessages && h.CompactMessages < h.ImmediateMessages) {
		return gerrors.NewInvalidConfig("hygiene", "message thresholds must be strictly ascending")
	}
	e := c.Experiment
	if e.Alpha <= 0 || e.Alpha >= 1 {
		return gerrors.NewInvalidConfig("experiment.alpha", "must be in (0, 1)")
	}
	if e.MinSamples < 0 || e.MinSamplesPerIntent < 0 {
		return gerrors.NewInvalidConfig("experiment", "sample minimums must be non-negative")
	}
	if e.MinQualityPreservedPct < MinQualityPreservedFloor || e.MinQualityPreservedPct > 100 {
		return gerrors.NewInvalidConfig("experiment.min_quality_preserved_pct", "must be in [95, 100]")
	}
	if e.BootstrapIterations <= 0 || e.PermutationIterations <= 0 {
		return gerrors.NewInvalidConfig("experiment", "iterations must be positive")
	}
	return nil
}

// Load loads configuration from baseDir/config.json.
// Returns default config if the file doesn't exist.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.governor.
func Load(baseDir string) (*Config, error) {
	return loadFile(filepath.Join(baseDir, "config.json"))
}

// LoadWithRepo loads configuration from both global (~/.governor) and repo (.governor) directories.
// Repo config is found by walking upward from startDir to find the nearest .governor/config.json.
// Repo config takes precedence for scalar values; arrays are merged (deduplicated).
func LoadWithRepo(globalDir, startDir string) (*Config, error) {
	global, err := loadFileRaw(filepath.Join(globalDir, "config.json"))
	if err != nil {
		return nil, err
	}

	repo, err := loadFileRaw(FindRepoConfig(startDir))
	if err != nil {
		return nil, err
	}

	cfg := Merge(Merge(DefaultConfig(), global), repo)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FindRepoConfig walks upward from startDir to find the nearest .governor/config.json.
// Returns the path if found, or empty string if not found.
func FindRepoConfig(startDir string) string {
	if startDir == "" {
		return ""
	}
	dir := startDir
	for {
		configPath := filepath.Join(dir, ".governor", "config.json")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// loadFileRaw loads configuration from a specific file path.
// Returns zero-valued config if the file doesn't exist (not defaults).
func loadFileRaw(configPath string) (*Config, error) {
	if configPath == "" {
		return &Config{}, nil
	}
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, err
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", configPath, err)
	}

	return cfg, nil
}

// loadFile loads configuration from a specific file path.
// Returns default config if the file doesn't exist.
func loadFile(configPath string) (*Config, error) {
	cfg, err := loadFileRaw(configPath)
	if err != nil {
		return nil, err
	}
	merged := Merge(DefaultConfig(), cfg)
	if err := merged.Validate(); err != nil {
		return nil, err
	}
	return merged, nil
}

// Merge combines base and overlay configs.
// Overlay values take precedence for scalars; arrays are merged and deduplicated.
// RequiredIntents is replaced rather than merged: a repo narrowing the
// required set must be able to drop intents.
func Merge(base, overlay *Config) *Config {
	result := &Config{}

	result.SystemPromptReserve = pickInt(overlay.SystemPromptReserve, base.SystemPromptReserve)
	result.ResponseReservePct = pickFloat(overlay.ResponseReservePct, base.ResponseReservePct)
	result.PruneCeiling = pickFloat(overlay.PruneCeiling, base.PruneCeiling)
	result.KeepThreshold = pickFloat(overlay.KeepThreshold, base.KeepThreshold)
	result.SummarizeRatio = pickFloat(overlay.SummarizeRatio, base.SummarizeRatio)
	result.SummaryMaxTokens = pickInt(overlay.SummaryMaxTokens, base.SummaryMaxTokens)
	result.TruncateRatio = pickFloat(overlay.TruncateRatio, base.TruncateRatio)
	result.ProtectedRecentTurns = pickInt(overlay.ProtectedRecentTurns, base.ProtectedRecentTurns)
	result.IntentConfidenceThreshold = pickFloat(overlay.IntentConfidenceThreshold, base.IntentConfidenceThreshold)
	result.DefaultModel = pickString(overlay.DefaultModel, base.DefaultModel)
	result.LogLevel = pickString(overlay.LogLevel, base.LogLevel)
	result.LogFormat = pickString(overlay.LogFormat, base.LogFormat)
	result.DBMaxOpenConns = pickInt(overlay.DBMaxOpenConns, base.DBMaxOpenConns)
	result.DBMaxIdleConns = pickInt(overlay.DBMaxIdleConns, base.DBMaxIdleConns)

	result.SummarizerAvailable = base.SummarizerAvailable
	if overlay.SummarizerAvailable != nil {
		result.SummarizerAvailable = overlay.SummarizerAvailable
	}
	result.PreferCostSavings = base.PreferCostSavings
	if overlay.PreferCostSavings != nil {
		result.PreferCostSavings = overlay.PreferCostSavings
	}

	result.Hygiene = HygieneThresholds{
		PreparePct:        pickFloat(overlay.Hygiene.PreparePct, base.Hygiene.PreparePct),
		CompactPct:        pickFloat(overlay.Hygiene.CompactPct, base.Hygiene.CompactPct),
		ImmediatePct:      pickFloat(overlay.Hygiene.ImmediatePct, base.Hygiene.ImmediatePct),
		PrepareMessages:   pickInt(overlay.Hygiene.PrepareMessages, base.Hygiene.PrepareMessages),
		CompactMessages:   pickInt(overlay.Hygiene.CompactMessages, base.Hygiene.CompactMessages),
		ImmediateMessages: pickInt(overlay.Hygiene.ImmediateMessages, base.Hygiene.ImmediateMessages),
	}

	result.Experiment = ExperimentConfig{
		MinSamples:             pickInt(overlay.Experiment.MinSamples, base.Experiment.MinSamples),
		MinSamplesPerIntent:    pickInt(overlay.Experiment.MinSamplesPerIntent, base.Experiment.MinSamplesPerIntent),
		Alpha:                  pickFloat(overlay.Experiment.Alpha, base.Experiment.Alpha),
		BootstrapIterations:    pickInt(overlay.Experiment.BootstrapIterations, base.Experiment.BootstrapIterations),
		PermutationIterations:  pickInt(overlay.Experiment.PermutationIterations, base.Experiment.PermutationIterations),
		MinQualityPreservedPct: pickFloat(overlay.Experiment.MinQualityPreservedPct, base.Experiment.MinQualityPreservedPct),
		WindowDays:             pickInt(overlay.Experiment.WindowDays, base.Experiment.WindowDays),
	}
	result.Experiment.RequiredIntents = base.Experiment.RequiredIntents
	if len(overlay.Experiment.RequiredIntents) > 0 {
		result.Experiment.RequiredIntents = mergeStringSlice(nil, overlay.Experiment.RequiredIntents)
	}

	result.Tokenizer = TokenizerConfig{
		CacheMaxEntries:         pickInt(overlay.Tokenizer.CacheMaxEntries, base.Tokenizer.CacheMaxEntries),
		AnthropicCounting:       base.Tokenizer.AnthropicCounting || overlay.Tokenizer.AnthropicCounting,
		AnthropicTimeoutSeconds: pickInt(overlay.Tokenizer.AnthropicTimeoutSeconds, base.Tokenizer.AnthropicTimeoutSeconds),
		AnthropicModel:          pickString(overlay.Tokenizer.AnthropicModel, base.Tokenizer.AnthropicModel),
	}

	// Booleans: overlay wins if true, else base
	result.AllowUnsafePaths = base.AllowUnsafePaths || overlay.AllowUnsafePaths

	// Arrays: merge and deduplicate
	result.AllowedPaths = mergeStringSlice(base.AllowedPaths, overlay.AllowedPaths)
	result.DisabledTools = mergeStringSlice(base.DisabledTools, overlay.DisabledTools)
	result.DisabledTypes = mergeStringSlice(base.DisabledTypes, overlay.DisabledTypes)

	return result
}

func pickInt(overlay, base int) int {
	if overlay != 0 {
		return overlay
	}
	return base
}

func pickFloat(overlay, base float64) float64 {
	if overlay != 0 {
		return overlay
	}
	return base
}

func pickString(overlay, base string) string {
	if strings.TrimSpace(overlay) != "" {
		return overlay
	}
	return base
}

// mergeStringSlice combines two slices, trims whitespace, and removes duplicates.
func mergeStringSlice(a, b []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(a)+len(b))

	for _, s := range a {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}
	for _, s := range b {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}

	if len(result) == 0 {
		return nil
	}
	return result
}
