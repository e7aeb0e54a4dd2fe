package ops

import (
	"context"
	"database/sql"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hpungsan/governor/internal/config"
	"github.com/hpungsan/governor/internal/db"
	"github.com/hpungsan/governor/internal/errors"
	"github.com/hpungsan/governor/internal/experiment"
	"github.com/hpungsan/governor/internal/metrics"
)

// ReportInput contains parameters for the Report operation. Nil overrides
// fall back to the experiment section of the config.
type ReportInput struct {
	ExperimentID        string
	WindowDays          *int // 0 means all recorded sessions
	MinSamples          *int
	MinSamplesPerIntent *int
	RequiredIntents     []string
	Strict              bool
	FailFast            bool
	Now                 func() time.Time // optional, for tests
}

// ReportOutput contains the result of the Report operation.
type ReportOutput struct {
	Report   *experiment.Report `json:"report"`
	Markdown string             `json:"markdown"`
	// Ignored counts streamed rows with an unknown variant.
	Ignored int `json:"ignored"`
}

// Report aggregates recorded sessions of one experiment into a claim-gated
// A/B report. Sessions are streamed from the store. In strict mode a report
// that is not claim ready is returned together with CLAIM_NOT_READY.
func Report(ctx context.Context, database *sql.DB, cfg *config.Config, logger *zap.Logger, input ReportInput) (*ReportOutput, error) {
	expID := strings.TrimSpace(input.ExperimentID)
	if expID == "" {
		return nil, errors.NewInvalidRequest("experiment_id is required")
	}
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	now := time.Now
	if input.Now != nil {
		now = input.Now
	}

	opts := reportOptions(cfg.Experiment, expID, input)
	if opts.MinSamples < 1 || opts.MinSamplesPerIntent < 0 || opts.WindowDays < 0 {
		return nil, errors.NewInvalidRequest("min_samples must be >= 1; min_samples_per_intent and window_days must be >= 0")
	}

	filter := db.SessionFilter{ExperimentID: expID}
	if opts.WindowDays > 0 {
		filter.Since = now().AddDate(0, 0, -opts.WindowDays)
	}

	b := experiment.NewBuilder(opts)
	err := db.StreamSessions(ctx, database, filter, func(s experiment.Sample) error {
		b.Add(s)
		return nil
	})
	if err != nil {
		return nil, err
	}

	r, err := b.Build(ctx, now())
	if r == nil {
		return nil, err
	}
	metrics.ReportsTotal.WithLabelValues(strconv.FormatBool(r.Summary.ClaimReady)).Inc()
	if !r.Summary.ClaimReady {
		logger.Warn("claim gates failing",
			zap.String("experiment_id", expID),
			zap.Strings("failing_gates", r.Summary.FailingGates),
			zap.Strings("under_sampled_intents", r.Summary.UnderSampledIntents))
	}

	return &ReportOutput{Report: r, Markdown: experiment.Markdown(r), Ignored: b.Ignored()}, err
}

func reportOptions(ec config.ExperimentConfig, expID string, input ReportInput) experiment.Options {
	opts := experiment.Options{
		ExperimentID:           expID,
		MinSamples:             ec.MinSamples,
		MinSamplesPerIntent:    ec.MinSamplesPerIntent,
		RequiredIntents:        ec.RequiredIntents,
		Alpha:                  ec.Alpha,
		BootstrapIterations:    ec.BootstrapIterations,
		PermutationIterations:  ec.PermutationIterations,
		MinQualityPreservedPct: ec.MinQualityPreservedPct,
		WindowDays:             ec.WindowDays,
		FailFast:               input.FailFast || input.Strict,
		Strict:                 input.Strict,
	}
	if input.WindowDays != nil {
		opts.WindowDays = *input.WindowDays
	}
	if input.MinSamples != nil {
		opts.MinSamples = *input.MinSamples
	}
	if input.MinSamplesPerIntent != nil {
		opts.MinSamplesPerIntent = *input.MinSamplesPerIntent
	}
	if len(input.RequiredIntents) > 0 {
		opts.RequiredIntents = input.RequiredIntents
	}
	return opts
}
