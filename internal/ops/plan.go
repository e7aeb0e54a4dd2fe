package ops

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"github.com/hpungsan/governor/internal/db"
	"github.com/hpungsan/governor/internal/errors"
	"github.com/hpungsan/governor/internal/experiment"
	"github.com/hpungsan/governor/internal/metrics"
	"github.com/hpungsan/governor/internal/plan"
)

// PlanInput contains parameters for the Plan operation.
type PlanInput struct {
	Request *plan.Request
	// Persist stores the plan so it can be fetched later by id.
	Persist bool
	// Record writes a session row for the plan's experiment. Requires an
	// experiment id on the request.
	Record bool
}

// PlanOutput contains the result of the Plan operation.
type PlanOutput struct {
	Plan      *plan.ExecutionPlan `json:"plan"`
	Persisted bool                `json:"persisted"`
	SessionID string              `json:"session_id,omitempty"`
}

// Plan generates an execution plan and optionally stores it and records the
// session outcome.
func Plan(ctx context.Context, database *sql.DB, engine *plan.Engine, input PlanInput) (*PlanOutput, error) {
	if input.Request == nil {
		return nil, errors.NewInvalidRequest("request is required")
	}
	if input.Record && input.Request.ExperimentID == "" {
		return nil, errors.NewInvalidRequest("experiment_id is required to record a session")
	}
	if (input.Persist || input.Record) && database == nil {
		return nil, errors.NewInternal(errNoDatabase)
	}

	p, err := engine.Generate(ctx, input.Request)
	if err != nil {
		return nil, err
	}

	out := &PlanOutput{Plan: p}
	if input.Persist {
		if err := db.InsertPlan(database, p); err != nil {
			return nil, err
		}
		out.Persisted = true
	}
	if input.Record {
		s := SampleFromPlan(p)
		if err := db.InsertSession(database, &s, p.PlanID); err != nil {
			return nil, err
		}
		metrics.SessionsRecorded.WithLabelValues(string(s.Variant)).Inc()
		out.SessionID = s.SessionID
	}
	return out, nil
}

// SampleFromPlan derives the session outcome recorded for a plan.
func SampleFromPlan(p *plan.ExecutionPlan) experiment.Sample {
	sb := p.SavingsBreakdown
	return experiment.Sample{
		SessionID:         uuid.NewString(),
		ExperimentID:      p.Constraints.ExperimentID,
		Variant:           p.Constraints.Variant,
		AssignmentKey:     p.Constraints.AssignmentKey,
		Intent:            string(p.Constraints.Intent),
		Budget:            p.Constraints.Budget.Total,
		BaselineTokens:    sb.BaselineTokens,
		PostFilterTokens:  sb.AfterFilterTokens,
		OutputTokens:      sb.FinalTokens,
		FilterSavingsPct:  sb.PackageFiltering.PercentOfBaseline,
		PruningSavingsPct: sb.PruningAndSummarization.PercentOfBaseline,
		OverallSavingsPct: sb.Overall.PercentOfBaseline,
		WithinBudget:      p.WithinBudget(),
		QualityPreserved:  p.QualityAssurance.QualityPreserved,
		CreatedAt:         p.CreatedAt,
	}
}
