package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/hpungsan/governor/internal/errors"
	"github.com/hpungsan/governor/internal/experiment"
	"github.com/hpungsan/governor/internal/plan"
)

// PlanSummary is the listing view of a stored plan (no unit decisions).
type PlanSummary struct {
	PlanID       string             `json:"plan_id"`
	Intent       string             `json:"intent"`
	Strategy     string             `json:"strategy"`
	Variant      experiment.Variant `json:"variant"`
	ExperimentID string             `json:"experiment_id,omitempty"`
	Budget       int                `json:"budget"`
	InputTokens  int                `json:"input_tokens"`
	OutputTokens int                `json:"output_tokens"`
	WithinBudget bool               `json:"within_budget"`
	CreatedAt    int64              `json:"created_at"`
}

// SessionFilter narrows StreamSessions. Zero values match everything.
type SessionFilter struct {
	ExperimentID string
	Since        time.Time
}

// Execer is satisfied by *sql.DB and *sql.Tx.
type Execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

// InsertSession records one session outcome. PlanID may be empty for
// manually recorded samples.
func InsertSession(db Execer, s *experiment.Sample, planID string) error {
	query := `
		INSERT INTO sessions (
			session_id, experiment_id, variant, assignment_key, intent, budget,
			baseline_tokens, post_filter_tokens, output_tokens,
			filter_savings_pct, pruning_savings_pct, overall_savings_pct,
			within_budget, quality_preserved, quality_score, context_miss_count,
			plan_id, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	var score sql.NullFloat64
	if s.QualityScore != nil {
		score = sql.NullFloat64{Float64: *s.QualityScore, Valid: true}
	}

	_, err := db.Exec(query,
		s.SessionID, s.ExperimentID, string(s.Variant), toNullString(s.AssignmentKey), s.Intent, s.Budget,
		s.BaselineTokens, s.PostFilterTokens, s.OutputTokens,
		s.FilterSavingsPct, s.PruningSavingsPct, s.OverallSavingsPct,
		s.WithinBudget, s.QualityPreserved, score, s.ContextMissCount,
		toNullString(planID), s.CreatedAt.Unix(),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return errors.NewInvalidRequest("session already recorded: " + s.SessionID)
		}
		return errors.NewInternal(err)
	}
	return nil
}

// StreamSessions calls fn for every session matching the filter, oldest
// first, without materializing the result set. Iteration stops at the first
// error returned by fn or when ctx is cancelled.
func StreamSessions(ctx context.Context, db *sql.DB, filter SessionFilter, fn func(experiment.Sample) error) error {
	query := `
		SELECT session_id, experiment_id, variant, assignment_key, intent, budget,
			baseline_tokens, post_filter_tokens, output_tokens,
			filter_savings_pct, pruning_savings_pct, overall_savings_pct,
			within_budget, quality_preserved, quality_score, context_miss_count,
			created_at
		FROM sessions
		WHERE 1=1
	`
	var args []any
	if filter.ExperimentID != "" {
		query += " AND experiment_id = ?"
		args = append(args, filter.ExperimentID)
	}
	if !filter.Since.IsZero() {
		query += " AND created_at >= ?"
		args = append(args, filter.Since.Unix())
	}
	query += " ORDER BY created_at ASC, session_id ASC"

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		if ctx.Err() != nil {
			return errors.NewCancelled("stream sessions")
		}
		return errors.NewInternal(err)
	}
	defer rows.Close()

	for rows.Next() {
		if ctx.Err() != nil {
			return errors.NewCancelled("stream sessions")
		}
		s, err := scanSession(rows)
		if err != nil {
			return errors.NewInternal(err)
		}
		if err := fn(s); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		if ctx.Err() != nil {
			return errors.NewCancelled("stream sessions")
		}
		return errors.NewInternal(err)
	}
	return nil
}

// CountSessions returns the number of sessions for an experiment, or all
// sessions when experimentID is empty.
func CountSessions(db *sql.DB, experimentID string) (int, error) {
	query := "SELECT COUNT(*) FROM sessions"
	var args []any
	if experimentID != "" {
		query += " WHERE experiment_id = ?"
		args = append(args, experimentID)
	}
	var n int
	if err := db.QueryRow(query, args...).Scan(&n); err != nil {
		return 0, errors.NewInternal(err)
	}
	return n, nil
}

// InsertPlan stores an execution plan. Plans are immutable once written.
func InsertPlan(db *sql.DB, p *plan.ExecutionPlan) error {
	data, err := json.Marshal(p)
	if err != nil {
		return errors.NewInternal(err)
	}

	query := `
		INSERT INTO plans (
			plan_id, intent, strategy, variant, experiment_id, budget,
			input_tokens, output_tokens, within_budget, plan_json, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = db.Exec(query,
		p.PlanID, string(p.Constraints.Intent), p.Constraints.Strategy, string(p.Constraints.Variant),
		toNullString(p.Constraints.ExperimentID), p.Constraints.Budget.Total,
		p.Statistics.InputTokens, p.Statistics.OutputTokens, p.WithinBudget(),
		string(data), p.CreatedAt.Unix(),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return errors.NewInvalidRequest("plan already stored: " + p.PlanID)
		}
		return errors.NewInternal(err)
	}
	return nil
}

// GetPlan loads a stored plan by id.
func GetPlan(db *sql.DB, planID string) (*plan.ExecutionPlan, error) {
	var data string
	err := db.QueryRow("SELECT plan_json FROM plans WHERE plan_id = ?", planID).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound(planID)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}

	var p plan.ExecutionPlan
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return nil, errors.NewInternal(err)
	}
	return &p, nil
}

// ListPlans returns plan summaries, newest first, and the total count.
func ListPlans(db *sql.DB, limit, offset int) ([]PlanSummary, int, error) {
	var total int
	if err := db.QueryRow("SELECT COUNT(*) FROM plans").Scan(&total); err != nil {
		return nil, 0, errors.NewInternal(err)
	}

	query := `
		SELECT plan_id, intent, strategy, variant, experiment_id, budget,
			input_tokens, output_tokens, within_budget, created_at
		FROM plans
		ORDER BY created_at DESC, plan_id DESC
		LIMIT ? OFFSET ?
	`
	rows, err := db.Query(query, limit, offset)
	if err != nil {
		return nil, 0, errors.NewInternal(err)
	}
	defer rows.Close()

	var out []PlanSummary
	for rows.Next() {
		var (
			s            PlanSummary
			variant      string
			experimentID sql.NullString
		)
		if err := rows.Scan(&s.PlanID, &s.Intent, &s.Strategy, &variant, &experimentID, &s.Budget,
			&s.InputTokens, &s.OutputTokens, &s.WithinBudget, &s.CreatedAt); err != nil {
			return nil, 0, errors.NewInternal(err)
		}
		s.Variant = experiment.Variant(variant)
		s.ExperimentID = experimentID.String
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, errors.NewInternal(err)
	}
	return out, total, nil
}

// PurgeBefore deletes sessions and plans created before cutoff, optionally
// limited to one experiment. Plans have no experiment scope unless they
// were generated for one.
func PurgeBefore(db *sql.DB, cutoff time.Time, experimentID string) (sessions, plans int, err error) {
	tx, err := db.Begin()
	if err != nil {
		return 0, 0, errors.NewInternal(err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	where := " WHERE created_at < ?"
	args := []any{cutoff.Unix()}
	if experimentID != "" {
		where += " AND experiment_id = ?"
		args = append(args, experimentID)
	}

	res, err := tx.Exec("DELETE FROM sessions"+where, args...)
	if err != nil {
		return 0, 0, errors.NewInternal(err)
	}
	ns, err := res.RowsAffected()
	if err != nil {
		return 0, 0, errors.NewInternal(err)
	}

	res, err = tx.Exec("DELETE FROM plans"+where, args...)
	if err != nil {
		return 0, 0, errors.NewInternal(err)
	}
	np, err := res.RowsAffected()
	if err != nil {
		return 0, 0, errors.NewInternal(err)
	}

	if err = tx.Commit(); err != nil {
		return 0, 0, errors.NewInternal(err)
	}
	return int(ns), int(np), nil
}

// isUniqueConstraintError checks if the error is a SQLite unique constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (experiment.Sample, error) {
	var (
		s         experiment.Sample
		variant   string
		key       sql.NullString
		score     sql.NullFloat64
		createdAt int64
	)
	err := row.Scan(
		&s.SessionID, &s.ExperimentID, &variant, &key, &s.Intent, &s.Budget,
		&s.BaselineTokens, &s.PostFilterTokens, &s.OutputTokens,
		&s.FilterSavingsPct, &s.PruningSavingsPct, &s.OverallSavingsPct,
		&s.WithinBudget, &s.QualityPreserved, &score, &s.ContextMissCount,
		&createdAt,
	)
	if err != nil {
		return s, err
	}
	s.Variant = experiment.Variant(variant)
	s.AssignmentKey = key.String
	if score.Valid {
		v := score.Float64
		s.QualityScore = &v
	}
	s.CreatedAt = time.Unix(createdAt, 0).UTC()
	return s, nil
}

// toNullString maps the empty string to NULL.
func toNullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
