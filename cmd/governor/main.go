package main

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/hpungsan/governor/internal/config"
	"github.com/hpungsan/governor/internal/db"
	"github.com/hpungsan/governor/internal/logging"
	"github.com/hpungsan/governor/internal/mcp"
	"github.com/hpungsan/governor/internal/plan"
	"github.com/hpungsan/governor/internal/tokens"
)

// Version is set via -ldflags at build time.
var Version = "dev"

// cliCommands contains known CLI subcommands.
var cliCommands = map[string]bool{
	"plan": true, "show": true, "plans": true,
	"estimate": true, "classify": true,
	"assign": true, "record": true, "report": true,
	"export": true, "import": true, "purge": true,
	"serve": true, "help": true,
}

// isCLIMode determines if we should run CLI vs MCP server.
func isCLIMode() bool {
	if len(os.Args) < 2 {
		return false // No args → MCP server
	}
	arg := os.Args[1]
	if cliCommands[arg] {
		return true
	}
	return arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v"
}

// isHelpOrVersion returns true if the user is requesting help or version info.
func isHelpOrVersion() bool {
	if len(os.Args) < 2 {
		return false
	}
	arg := os.Args[1]
	return arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v" || arg == "help"
}

// isTerminal returns true if stdin is a terminal (not piped).
func isTerminal() bool {
	stat, _ := os.Stdin.Stat()
	return (stat.Mode() & os.ModeCharDevice) != 0
}

// printBanner displays a friendly banner when run interactively without args.
func printBanner() {
	fmt.Println(`
    ___  _____   _____ ___ _  _  ___  ___
   / __|/ _ \ \ / / __| _ \ \| |/ _ \| _ \
  | (_ | (_) \ V /| _||   / .' | (_) |   /
   \___|\___/ \_/ |___|_|_\_|\_|\___/|_|_\

  Context budgeting for coding-agent sessions

  Usage: governor <command> [options]
         governor --help

  MCP server mode requires piped input.`)
}

// app bundles the process dependencies shared by CLI and MCP modes.
type app struct {
	db     *sql.DB
	cfg    *config.Config
	logger *zap.Logger
	est    *tokens.Estimator
	engine *plan.Engine
}

// newEstimator wires the Claude counting API when enabled and a key is set.
func newEstimator(cfg *config.Config, logger *zap.Logger) *tokens.Estimator {
	opts := tokens.Options{CacheMaxEntries: cfg.Tokenizer.CacheMaxEntries}
	if cfg.Tokenizer.AnthropicCounting {
		if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
			timeout := time.Duration(cfg.Tokenizer.AnthropicTimeoutSeconds) * time.Second
			opts.Claude = tokens.NewAnthropicCounter(key, cfg.Tokenizer.AnthropicModel, timeout)
		} else {
			logger.Warn("anthropic_counting enabled but ANTHROPIC_API_KEY is not set; Claude counts are approximate")
		}
	}
	return tokens.New(opts, logger)
}

func newApp(database *sql.DB, cfg *config.Config, logger *zap.Logger) *app {
	est := newEstimator(cfg, logger)
	return &app{
		db:     database,
		cfg:    cfg,
		logger: logger,
		est:    est,
		engine: plan.NewEngine(cfg, est, logger),
	}
}

func main() {
	os.Exit(run())
}

func run() int {
	// No args + interactive terminal → show banner and exit
	if len(os.Args) < 2 && isTerminal() {
		printBanner()
		return 0
	}

	// Handle --help/--version before DB init (no DB needed)
	if isHelpOrVersion() {
		return runCLI(newCLIApp(nil))
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: could not determine home directory: %v\n", err)
		return 1
	}
	baseDir := filepath.Join(homeDir, ".governor")

	cwd, _ := os.Getwd()
	cfg, err := config.LoadWithRepo(baseDir, cwd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to load config: %v\n", err)
		return 1
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	defer logger.Sync() //nolint:errcheck

	if unknown := mcp.ValidateDisabledTools(cfg.DisabledTools); len(unknown) > 0 {
		logger.Warn("unknown tools in disabled_tools", zap.Strings("tools", unknown))
	}
	if unknown := mcp.ValidateDisabledTypes(cfg.DisabledTypes); len(unknown) > 0 {
		logger.Warn("unknown types in disabled_types", zap.Strings("types", unknown), zap.Strings("known", mcp.KnownTypes))
	}

	database, err := db.Init(baseDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to initialize database: %v\n", err)
		return 1
	}
	defer database.Close()
	db.ConfigurePool(database, cfg)

	a := newApp(database, cfg, logger)

	// CLI mode: known subcommand
	if isCLIMode() {
		return runCLI(newCLIApp(a))
	}

	// Unknown argument + terminal → show error (don't start MCP server)
	if len(os.Args) >= 2 && isTerminal() {
		fmt.Fprintf(os.Stderr, "error: unknown command %q\n", os.Args[1])
		fmt.Fprintf(os.Stderr, "Run 'governor --help' for usage.\n")
		return 1
	}

	// MCP server mode (default)
	if err := mcp.Run(a.db, a.cfg, a.engine, a.est, a.logger, Version); err != nil {
		logger.Error("mcp server stopped", zap.Error(err))
		return 1
	}
	return 0
}
