package main

import (
	"bytes"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/hpungsan/governor/internal/errors"
	"github.com/hpungsan/governor/internal/experiment"
	"github.com/hpungsan/governor/internal/ops"
	"github.com/hpungsan/governor/internal/plan"
	"github.com/hpungsan/governor/internal/web"
)

// maxInputBytes bounds manifests and content read from files or stdin.
const maxInputBytes = 16 << 20

// exitClaimNotReady is the exit status of report --strict when the claim
// gates fail, so CI can tell it apart from usage errors.
const exitClaimNotReady = 2

// newCLIApp creates the CLI application with all commands. a is nil when only
// help or version output is needed.
func newCLIApp(a *app) *cli.App {
	cliApp := &cli.App{
		Name:    "governor",
		Usage:   "Context budgeting and A/B telemetry for coding-agent sessions",
		Version: Version,
		Commands: []*cli.Command{
			planCmd(a),
			showCmd(a),
			plansCmd(a),
			estimateCmd(a),
			classifyCmd(a),
			assignCmd(),
			recordCmd(a),
			reportCmd(a),
			exportCmd(a),
			importCmd(a),
			purgeCmd(a),
			serveCmd(a),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	cliApp.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return cliApp
}

// runCLI runs the app on os.Args and maps errors to an exit status.
func runCLI(cliApp *cli.App) int {
	err := cliApp.Run(os.Args)
	if err == nil {
		return 0
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	var exitErr cli.ExitCoder
	if stderrors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return 1
}

var formatFlag = &cli.StringFlag{Name: "format", Aliases: []string{"f"}, Value: "json", Usage: "Output format: json|yaml"}

// planCmd creates the plan command.
func planCmd(a *app) *cli.Command {
	return &cli.Command{
		Name:      "plan",
		Usage:     "Generate an execution plan from a JSON or YAML manifest (file or stdin)",
		ArgsUsage: "[manifest]",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "budget", Aliases: []string{"b"}, Usage: "Override the manifest budget"},
			&cli.StringFlag{Name: "model", Usage: "Override the target model"},
			&cli.StringFlag{Name: "task", Aliases: []string{"t"}, Usage: "Override the task description"},
			&cli.StringFlag{Name: "intent", Usage: "Explicit intent (skips classification)"},
			&cli.StringFlag{Name: "strategy", Usage: "Explicit strategy profile"},
			&cli.StringFlag{Name: "experiment", Aliases: []string{"e"}, Usage: "A/B experiment id"},
			&cli.StringFlag{Name: "variant", Usage: "control|optimized|auto"},
			&cli.StringFlag{Name: "key", Aliases: []string{"k"}, Usage: "Assignment key for auto variant"},
			&cli.BoolFlag{Name: "record", Usage: "Record the session outcome for the experiment report"},
			&cli.BoolFlag{Name: "no-persist", Usage: "Do not store the plan"},
			formatFlag,
		},
		Action: func(c *cli.Context) error {
			data, err := readInput(c.Args().First())
			if err != nil {
				return outputError(err)
			}
			req, err := plan.ParseRequest(data)
			if err != nil {
				return outputError(errors.NewInvalidRequest(err.Error()))
			}
			applyPlanOverrides(c, req)

			output, err := ops.Plan(c.Context, a.db, a.engine, ops.PlanInput{
				Request: req,
				Persist: !c.Bool("no-persist"),
				Record:  c.Bool("record"),
			})
			if err != nil {
				return outputError(err)
			}
			return writeOutput(c, output)
		},
	}
}

func applyPlanOverrides(c *cli.Context, req *plan.Request) {
	if c.IsSet("budget") {
		req.Budget = c.Int("budget")
	}
	overrides := map[string]*string{
		"model":      &req.Model,
		"task":       &req.Task,
		"intent":     &req.Intent,
		"strategy":   &req.Strategy,
		"experiment": &req.ExperimentID,
		"variant":    &req.Variant,
		"key":        &req.AssignmentKey,
	}
	for flag, field := range overrides {
		if c.IsSet(flag) {
			*field = c.String(flag)
		}
	}
}

// showCmd creates the show command.
func showCmd(a *app) *cli.Command {
	return &cli.Command{
		Name:      "show",
		Usage:     "Show a stored plan",
		ArgsUsage: "<plan-id>",
		Flags:     []cli.Flag{formatFlag},
		Action: func(c *cli.Context) error {
			output, err := ops.Fetch(a.db, ops.FetchInput{PlanID: c.Args().First()})
			if err != nil {
				return outputError(err)
			}
			return writeOutput(c, output)
		},
	}
}

// plansCmd creates the plans command.
func plansCmd(a *app) *cli.Command {
	return &cli.Command{
		Name:  "plans",
		Usage: "List stored plans, newest first",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Value: ops.DefaultListLimit, Usage: "Maximum items to return"},
			&cli.IntFlag{Name: "offset", Aliases: []string{"o"}, Value: 0, Usage: "Items to skip"},
			formatFlag,
		},
		Action: func(c *cli.Context) error {
			output, err := ops.List(a.db, ops.ListInput{
				Limit:  c.Int("limit"),
				Offset: c.Int("offset"),
			})
			if err != nil {
				return outputError(err)
			}
			return writeOutput(c, output)
		},
	}
}

// estimateCmd creates the estimate command.
func estimateCmd(a *app) *cli.Command {
	return &cli.Command{
		Name:      "estimate",
		Usage:     "Count the tokens of a file or stdin for a model",
		ArgsUsage: "[file]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "model", Aliases: []string{"m"}, Usage: "Target model (default from config)"},
			formatFlag,
		},
		Action: func(c *cli.Context) error {
			data, err := readInput(c.Args().First())
			if err != nil {
				return outputError(err)
			}
			output := ops.Estimate(c.Context, a.est, a.cfg, ops.EstimateInput{
				Content: string(data),
				Model:   c.String("model"),
			})
			return writeOutput(c, output)
		},
	}
}

// classifyCmd creates the classify command.
func classifyCmd(a *app) *cli.Command {
	return &cli.Command{
		Name:      "classify",
		Usage:     "Classify a task description into an intent",
		ArgsUsage: "<task...>",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "error-units", Usage: "Number of units carrying error output"},
			&cli.IntFlag{Name: "diff-units", Usage: "Number of diff units"},
			formatFlag,
		},
		Action: func(c *cli.Context) error {
			task := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
			if task == "" {
				return outputError(errors.NewInvalidRequest("task is required"))
			}
			output := ops.Classify(a.cfg, ops.ClassifyInput{
				Task:       task,
				ErrorUnits: c.Int("error-units"),
				DiffUnits:  c.Int("diff-units"),
			})
			return writeOutput(c, output)
		},
	}
}

// assignCmd creates the assign command. Assignment needs no store.
func assignCmd() *cli.Command {
	return &cli.Command{
		Name:  "assign",
		Usage: "Resolve the A/B variant for an assignment key",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "experiment", Aliases: []string{"e"}, Required: true, Usage: "Experiment id"},
			&cli.StringFlag{Name: "key", Aliases: []string{"k"}, Usage: "Assignment key, e.g. a ticket id"},
			&cli.StringFlag{Name: "variant", Usage: "Explicit override: control|optimized|auto"},
			formatFlag,
		},
		Action: func(c *cli.Context) error {
			output, err := ops.Assign(ops.AssignInput{
				ExperimentID:  c.String("experiment"),
				AssignmentKey: c.String("key"),
				Variant:       c.String("variant"),
			})
			if err != nil {
				return outputError(err)
			}
			return writeOutput(c, output)
		},
	}
}

// recordCmd creates the record command.
func recordCmd(a *app) *cli.Command {
	return &cli.Command{
		Name:  "record",
		Usage: "Record a session outcome for an experiment",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "experiment", Aliases: []string{"e"}, Required: true, Usage: "Experiment id"},
			&cli.StringFlag{Name: "variant", Required: true, Usage: "control|optimized"},
			&cli.StringFlag{Name: "session-id", Usage: "Session id (default: new UUID)"},
			&cli.StringFlag{Name: "key", Aliases: []string{"k"}, Usage: "Assignment key"},
			&cli.StringFlag{Name: "intent", Usage: "Task intent (default: generic)"},
			&cli.IntFlag{Name: "budget", Usage: "Token budget of the session"},
			&cli.IntFlag{Name: "baseline", Required: true, Usage: "Baseline tokens before any filtering"},
			&cli.IntFlag{Name: "post-filter", Usage: "Tokens after upstream filtering (default: baseline)"},
			&cli.IntFlag{Name: "output-tokens", Usage: "Final context tokens"},
			&cli.BoolFlag{Name: "within-budget", Value: true, Usage: "Session fit its budget"},
			&cli.BoolFlag{Name: "quality-preserved", Value: true, Usage: "Answer quality was preserved"},
			&cli.Float64Flag{Name: "quality-score", Usage: "Human quality rating"},
			&cli.IntFlag{Name: "context-misses", Usage: "Times the agent lacked needed context"},
			formatFlag,
		},
		Action: func(c *cli.Context) error {
			s := experiment.Sample{
				SessionID:        c.String("session-id"),
				ExperimentID:     c.String("experiment"),
				Variant:          experiment.Variant(c.String("variant")),
				AssignmentKey:    c.String("key"),
				Intent:           c.String("intent"),
				Budget:           c.Int("budget"),
				BaselineTokens:   c.Int("baseline"),
				PostFilterTokens: c.Int("baseline"),
				OutputTokens:     c.Int("output-tokens"),
				WithinBudget:     c.Bool("within-budget"),
				QualityPreserved: c.Bool("quality-preserved"),
				ContextMissCount: c.Int("context-misses"),
			}
			if c.IsSet("post-filter") {
				s.PostFilterTokens = c.Int("post-filter")
			}
			if c.IsSet("quality-score") {
				score := c.Float64("quality-score")
				s.QualityScore = &score
			}

			output, err := ops.Record(a.db, ops.RecordInput{Sample: s})
			if err != nil {
				return outputError(err)
			}
			return writeOutput(c, output)
		},
	}
}

// reportCmd creates the report command.
func reportCmd(a *app) *cli.Command {
	return &cli.Command{
		Name:  "report",
		Usage: "Build the claim-gated A/B telemetry report for an experiment",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "experiment", Aliases: []string{"e"}, Required: true, Usage: "Experiment id"},
			&cli.IntFlag{Name: "window-days", Aliases: []string{"w"}, Usage: "Only sessions from the last N days (0 = all)"},
			&cli.IntFlag{Name: "min-samples", Usage: "Minimum sessions per variant"},
			&cli.IntFlag{Name: "min-samples-per-intent", Usage: "Minimum sessions per variant per required intent"},
			&cli.StringFlag{Name: "required-intents", Usage: "Comma-separated intents that must be covered"},
			&cli.BoolFlag{Name: "strict", Usage: "Exit 2 when the report is not claim ready"},
			&cli.BoolFlag{Name: "fail-fast", Usage: "Skip statistics once a gate fails"},
			&cli.StringFlag{Name: "format", Aliases: []string{"f"}, Value: "markdown", Usage: "Output format: markdown|json|yaml"},
			&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "Also write the markdown report to this file"},
		},
		Action: func(c *cli.Context) error {
			input := ops.ReportInput{
				ExperimentID:    c.String("experiment"),
				RequiredIntents: parseList(c.String("required-intents")),
				Strict:          c.Bool("strict"),
				FailFast:        c.Bool("fail-fast"),
			}
			if c.IsSet("window-days") {
				days := c.Int("window-days")
				input.WindowDays = &days
			}
			if c.IsSet("min-samples") {
				n := c.Int("min-samples")
				input.MinSamples = &n
			}
			if c.IsSet("min-samples-per-intent") {
				n := c.Int("min-samples-per-intent")
				input.MinSamplesPerIntent = &n
			}

			output, err := ops.Report(c.Context, a.db, a.cfg, a.logger, input)
			if output == nil {
				return outputError(err)
			}
			if path := c.String("output"); path != "" {
				if werr := os.WriteFile(path, []byte(output.Markdown), 0600); werr != nil {
					return outputError(errors.NewInternal(werr))
				}
			}

			switch c.String("format") {
			case "markdown", "md":
				fmt.Fprint(c.App.Writer, output.Markdown)
			case "json":
				if perr := outputJSON(c.App.Writer, output.Report); perr != nil {
					return perr
				}
			case "yaml":
				if perr := outputYAML(c.App.Writer, output.Report); perr != nil {
					return perr
				}
			default:
				return outputError(errors.NewInvalidRequest("format must be markdown, json or yaml"))
			}

			if err != nil {
				return outputError(err)
			}
			return nil
		},
	}
}

// exportCmd creates the export command.
func exportCmd(a *app) *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "Export recorded sessions to a JSONL file",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "path", Aliases: []string{"p"}, Usage: "Export file path (default: ~/.governor/exports/<experiment>-<timestamp>.jsonl)"},
			&cli.StringFlag{Name: "experiment", Aliases: []string{"e"}, Usage: "Filter by experiment"},
		},
		Action: func(c *cli.Context) error {
			output, err := ops.Export(c.Context, a.db, a.cfg, ops.ExportInput{
				Path:         c.String("path"),
				ExperimentID: c.String("experiment"),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c.App.Writer, output)
		},
	}
}

// importCmd creates the import command.
func importCmd(a *app) *cli.Command {
	return &cli.Command{
		Name:  "import",
		Usage: "Import sessions from a JSONL export",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "path", Aliases: []string{"p"}, Required: true, Usage: "Import file path"},
			&cli.StringFlag{Name: "mode", Aliases: []string{"m"}, Value: "error", Usage: "Collision mode: error|skip|rename"},
		},
		Action: func(c *cli.Context) error {
			output, err := ops.Import(a.db, a.cfg, ops.ImportInput{
				Path: c.String("path"),
				Mode: ops.ImportMode(c.String("mode")),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c.App.Writer, output)
		},
	}
}

// purgeCmd creates the purge command.
func purgeCmd(a *app) *cli.Command {
	return &cli.Command{
		Name:  "purge",
		Usage: "Permanently delete sessions and plans older than a duration",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "older-than", Required: true, Usage: "Age threshold in days, e.g. 30d (0d purges everything)"},
			&cli.StringFlag{Name: "experiment", Aliases: []string{"e"}, Usage: "Filter by experiment"},
		},
		Action: func(c *cli.Context) error {
			days, err := parseDuration(c.String("older-than"))
			if err != nil {
				return outputError(errors.NewInvalidRequest(err.Error()))
			}
			output, err := ops.Purge(a.db, ops.PurgeInput{
				OlderThanDays: days,
				ExperimentID:  c.String("experiment"),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c.App.Writer, output)
		},
	}
}

// serveCmd creates the serve command.
func serveCmd(a *app) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the read-only dashboard and /metrics",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "bind", Value: "127.0.0.1", Usage: "Bind address"},
			&cli.IntFlag{Name: "port", Value: 7373, Usage: "Port"},
		},
		Action: func(c *cli.Context) error {
			srv, err := web.NewServer(a.db, a.cfg, a.logger, Version, c.String("bind"), c.Int("port"))
			if err != nil {
				return outputError(errors.NewInternal(err))
			}
			if err := web.Run(srv, a.logger); err != nil {
				return cli.Exit(err.Error(), 1)
			}
			return nil
		},
	}
}

// Helper functions

// output_ writes v in the format selected by --format.
func writeOutput(c *cli.Context, v any) error {
	switch c.String("format") {
	case "", "json":
		return outputJSON(c.App.Writer, v)
	case "yaml":
		return outputYAML(c.App.Writer, v)
	default:
		return outputError(errors.NewInvalidRequest("format must be json or yaml"))
	}
}

// outputJSON writes v as indented JSON.
func outputJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputYAML writes v as YAML with the same keys as its JSON form. The value
// goes through JSON first so json tags name the fields and key order is kept.
func outputYAML(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return err
	}
	blockStyle(&node)

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&node); err != nil {
		return err
	}
	return enc.Close()
}

// blockStyle clears the flow and quoting styles that JSON input leaves on
// every node. The encoder still quotes strings that would otherwise resolve
// to another type.
func blockStyle(n *yaml.Node) {
	n.Style &^= yaml.FlowStyle
	if n.Kind == yaml.ScalarNode {
		n.Style &^= yaml.DoubleQuotedStyle | yaml.SingleQuotedStyle
	}
	for _, child := range n.Content {
		blockStyle(child)
	}
}

// outputError formats error for CLI.
func outputError(err error) error {
	var gErr *errors.GovernorError
	if stderrors.As(err, &gErr) {
		code := 1
		if gErr.Code == errors.ErrClaimNotReady {
			code = exitClaimNotReady
		}
		return cli.Exit(fmt.Sprintf("[%s] %s", gErr.Code, gErr.Message), code)
	}
	return cli.Exit(err.Error(), 1)
}

// readInput reads path, or stdin when path is empty or "-".
func readInput(path string) ([]byte, error) {
	if path != "" && path != "-" {
		info, err := os.Stat(path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, errors.NewFileNotFound(path)
			}
			return nil, errors.NewInternal(err)
		}
		if info.Size() > maxInputBytes {
			return nil, errors.NewInvalidRequest(fmt.Sprintf("input exceeds %d bytes", maxInputBytes))
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.NewInternal(err)
		}
		return data, nil
	}

	if !stdinHasData() {
		return nil, errors.NewInvalidRequest("input must be a file argument or piped via stdin")
	}
	text, err := readStdin(maxInputBytes)
	if err != nil {
		return nil, errors.NewInvalidRequest(err.Error())
	}
	if text == "" {
		return nil, errors.NewInvalidRequest("stdin is empty")
	}
	return []byte(text), nil
}

// stdinHasData returns true if stdin has piped data (not a terminal).
func stdinHasData() bool {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) == 0
}

// readStdin reads all content from stdin, failing past limit bytes.
func readStdin(limit int64) (string, error) {
	data, err := io.ReadAll(io.LimitReader(os.Stdin, limit+1))
	if err != nil {
		return "", err
	}
	if int64(len(data)) > limit {
		return "", fmt.Errorf("stdin exceeds %d bytes", limit)
	}
	return string(bytes.TrimSpace(data)), nil
}

// parseList splits a comma-separated string, dropping empty items.
func parseList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	items := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			items = append(items, t)
		}
	}
	return items
}

// parseDuration parses "7d" format to days.
func parseDuration(s string) (int, error) {
	if numStr, ok := strings.CutSuffix(s, "d"); ok {
		days, err := strconv.Atoi(numStr)
		if err != nil {
			return 0, fmt.Errorf("invalid duration: %s", s)
		}
		if days < 0 {
			return 0, fmt.Errorf("duration must be non-negative")
		}
		return days, nil
	}
	return 0, fmt.Errorf("duration must end with 'd' (days), e.g., 7d")
}
