package db

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/hpungsan/governor/internal/budget"
	"github.com/hpungsan/governor/internal/errors"
	"github.com/hpungsan/governor/internal/experiment"
	"github.com/hpungsan/governor/internal/intent"
	"github.com/hpungsan/governor/internal/plan"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := Init(t.TempDir())
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func newTestSample(id, experimentID string, variant experiment.Variant, createdAt int64) *experiment.Sample {
	return &experiment.Sample{
		SessionID:         id,
		ExperimentID:      experimentID,
		Variant:           variant,
		AssignmentKey:     "key-" + id,
		Intent:            "debugging",
		Budget:            8000,
		BaselineTokens:    1000,
		PostFilterTokens:  800,
		OutputTokens:      600,
		FilterSavingsPct:  20,
		PruningSavingsPct: 20,
		OverallSavingsPct: 40,
		WithinBudget:      true,
		QualityPreserved:  true,
		CreatedAt:         time.Unix(createdAt, 0).UTC(),
	}
}

func newTestPlan(id string, createdAt int64) *plan.ExecutionPlan {
	return &plan.ExecutionPlan{
		PlanID:    id,
		Version:   plan.Version,
		CreatedAt: time.Unix(createdAt, 0).UTC(),
		Constraints: plan.Constraints{
			Budget:   budget.Budget{Total: 8000, Usable: 5900},
			Model:    "claude-sonnet-4",
			Intent:   intent.Debugging,
			Strategy: "debugging",
			Variant:  experiment.Optimized,
		},
		Statistics: plan.Statistics{InputTokens: 1000, OutputTokens: 600},
		Validation: budget.Validation{WithinBudget: true, BudgetRemaining: 5300, FinalTokens: 600},
		Warnings:   []string{},
	}
}

func collect(t *testing.T, db *sql.DB, filter SessionFilter) []experiment.Sample {
	t.Helper()
	var out []experiment.Sample
	err := StreamSessions(context.Background(), db, filter, func(s experiment.Sample) error {
		out = append(out, s)
		return nil
	})
	if err != nil {
		t.Fatalf("StreamSessions failed: %v", err)
	}
	return out
}

func TestInsertAndStreamSessions(t *testing.T) {
	db := openTestDB(t)

	score := 4.5
	s := newTestSample("s1", "exp-1", experiment.Optimized, 1000)
	s.QualityScore = &score
	if err := InsertSession(db, s, "01PLAN"); err != nil {
		t.Fatalf("InsertSession failed: %v", err)
	}
	manual := newTestSample("s2", "exp-1", experiment.Control, 1001)
	manual.AssignmentKey = ""
	if err := InsertSession(db, manual, ""); err != nil {
		t.Fatalf("InsertSession failed: %v", err)
	}

	got := collect(t, db, SessionFilter{ExperimentID: "exp-1"})
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].SessionID != "s1" || got[1].SessionID != "s2" {
		t.Errorf("order = %s, %s; want s1, s2", got[0].SessionID, got[1].SessionID)
	}
	if got[0].QualityScore == nil || *got[0].QualityScore != 4.5 {
		t.Errorf("QualityScore = %v, want 4.5", got[0].QualityScore)
	}
	if got[1].QualityScore != nil {
		t.Errorf("QualityScore = %v, want nil", *got[1].QualityScore)
	}
	if got[0].Variant != experiment.Optimized || got[1].Variant != experiment.Control {
		t.Errorf("variants = %s, %s", got[0].Variant, got[1].Variant)
	}
	if got[0].AssignmentKey != "key-s1" || got[1].AssignmentKey != "" {
		t.Errorf("assignment keys = %q, %q", got[0].AssignmentKey, got[1].AssignmentKey)
	}
	if !got[0].WithinBudget || !got[0].QualityPreserved {
		t.Error("boolean columns did not round-trip")
	}
	if got[0].CreatedAt.Unix() != 1000 {
		t.Errorf("CreatedAt = %v, want unix 1000", got[0].CreatedAt)
	}
}

func TestInsertSession_Duplicate(t *testing.T) {
	db := openTestDB(t)

	s := newTestSample("dup", "exp-1", experiment.Optimized, 1000)
	if err := InsertSession(db, s, ""); err != nil {
		t.Fatalf("InsertSession failed: %v", err)
	}
	err := InsertSession(db, s, "")
	if !errors.Is(err, errors.ErrInvalidRequest) {
		t.Errorf("expected INVALID_REQUEST, got %v", err)
	}
}

func TestStreamSessions_Filters(t *testing.T) {
	db := openTestDB(t)

	samples := []*experiment.Sample{
		newTestSample("a", "exp-1", experiment.Optimized, 1000),
		newTestSample("b", "exp-1", experiment.Control, 5000),
		newTestSample("c", "exp-2", experiment.Control, 5000),
	}
	for _, s := range samples {
		if err := InsertSession(db, s, ""); err != nil {
			t.Fatalf("InsertSession failed: %v", err)
		}
	}

	if got := collect(t, db, SessionFilter{}); len(got) != 3 {
		t.Errorf("unfiltered len = %d, want 3", len(got))
	}
	if got := collect(t, db, SessionFilter{ExperimentID: "exp-2"}); len(got) != 1 || got[0].SessionID != "c" {
		t.Errorf("experiment filter = %+v", got)
	}
	got := collect(t, db, SessionFilter{ExperimentID: "exp-1", Since: time.Unix(2000, 0)})
	if len(got) != 1 || got[0].SessionID != "b" {
		t.Errorf("since filter = %+v", got)
	}
}

func TestStreamSessions_CallbackErrorStops(t *testing.T) {
	db := openTestDB(t)
	for i, id := range []string{"a", "b", "c"} {
		if err := InsertSession(db, newTestSample(id, "exp-1", experiment.Control, int64(1000+i)), ""); err != nil {
			t.Fatalf("InsertSession failed: %v", err)
		}
	}

	stop := errors.NewInvalidRequest("stop")
	calls := 0
	err := StreamSessions(context.Background(), db, SessionFilter{}, func(experiment.Sample) error {
		calls++
		return stop
	})
	if err != stop {
		t.Errorf("err = %v, want callback error", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestStreamSessions_Cancelled(t *testing.T) {
	db := openTestDB(t)
	if err := InsertSession(db, newTestSample("a", "exp-1", experiment.Control, 1000), ""); err != nil {
		t.Fatalf("InsertSession failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := StreamSessions(ctx, db, SessionFilter{}, func(experiment.Sample) error { return nil })
	if !errors.Is(err, errors.ErrCancelled) {
		t.Errorf("expected CANCELLED, got %v", err)
	}
}

func TestCountSessions(t *testing.T) {
	db := openTestDB(t)
	for _, s := range []*experiment.Sample{
		newTestSample("a", "exp-1", experiment.Control, 1000),
		newTestSample("b", "exp-2", experiment.Control, 1000),
	} {
		if err := InsertSession(db, s, ""); err != nil {
			t.Fatalf("InsertSession failed: %v", err)
		}
	}

	if n, err := CountSessions(db, ""); err != nil || n != 2 {
		t.Errorf("CountSessions(all) = %d, %v; want 2", n, err)
	}
	if n, err := CountSessions(db, "exp-1"); err != nil || n != 1 {
		t.Errorf("CountSessions(exp-1) = %d, %v; want 1", n, err)
	}
}

func TestInsertAndGetPlan(t *testing.T) {
	db := openTestDB(t)

	p := newTestPlan("01PLANA", 1000)
	if err := InsertPlan(db, p); err != nil {
		t.Fatalf("InsertPlan failed: %v", err)
	}

	got, err := GetPlan(db, "01PLANA")
	if err != nil {
		t.Fatalf("GetPlan failed: %v", err)
	}
	if got.PlanID != p.PlanID || got.Constraints.Intent != intent.Debugging {
		t.Errorf("got %+v", got.Constraints)
	}
	if got.Statistics.OutputTokens != 600 {
		t.Errorf("OutputTokens = %d, want 600", got.Statistics.OutputTokens)
	}

	if err := InsertPlan(db, p); !errors.Is(err, errors.ErrInvalidRequest) {
		t.Errorf("duplicate insert: expected INVALID_REQUEST, got %v", err)
	}
}

func TestGetPlan_NotFound(t *testing.T) {
	db := openTestDB(t)

	_, err := GetPlan(db, "missing")
	if !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("expected NOT_FOUND, got %v", err)
	}
}

func TestListPlans_Pagination(t *testing.T) {
	db := openTestDB(t)
	for i, id := range []string{"p1", "p2", "p3"} {
		if err := InsertPlan(db, newTestPlan(id, int64(1000+i))); err != nil {
			t.Fatalf("InsertPlan failed: %v", err)
		}
	}

	items, total, err := ListPlans(db, 2, 0)
	if err != nil {
		t.Fatalf("ListPlans failed: %v", err)
	}
	if total != 3 {
		t.Errorf("total = %d, want 3", total)
	}
	if len(items) != 2 || items[0].PlanID != "p3" || items[1].PlanID != "p2" {
		t.Errorf("first page = %+v", items)
	}
	if items[0].Budget != 8000 || !items[0].WithinBudget {
		t.Errorf("summary = %+v", items[0])
	}

	items, _, err = ListPlans(db, 2, 2)
	if err != nil {
		t.Fatalf("ListPlans failed: %v", err)
	}
	if len(items) != 1 || items[0].PlanID != "p1" {
		t.Errorf("second page = %+v", items)
	}
}

func TestListPlans_OverBudget(t *testing.T) {
	db := openTestDB(t)

	p := newTestPlan("over", 1000)
	p.Validation = budget.Validation{WithinBudget: false, BudgetRemaining: -200, FinalTokens: 6100}
	if err := InsertPlan(db, p); err != nil {
		t.Fatalf("InsertPlan failed: %v", err)
	}

	items, _, err := ListPlans(db, 10, 0)
	if err != nil {
		t.Fatalf("ListPlans failed: %v", err)
	}
	if len(items) != 1 || items[0].WithinBudget {
		t.Errorf("summary = %+v, want within_budget false", items)
	}
}

func TestPurgeBefore(t *testing.T) {
	db := openTestDB(t)

	for _, s := range []*experiment.Sample{
		newTestSample("old", "exp-1", experiment.Control, 1000),
		newTestSample("old2", "exp-2", experiment.Control, 1000),
		newTestSample("new", "exp-1", experiment.Control, 9000),
	} {
		if err := InsertSession(db, s, ""); err != nil {
			t.Fatalf("InsertSession failed: %v", err)
		}
	}
	if err := InsertPlan(db, newTestPlan("old-plan", 1000)); err != nil {
		t.Fatalf("InsertPlan failed: %v", err)
	}

	sessions, plans, err := PurgeBefore(db, time.Unix(5000, 0), "exp-1")
	if err != nil {
		t.Fatalf("PurgeBefore failed: %v", err)
	}
	if sessions != 1 || plans != 0 {
		t.Errorf("scoped purge = %d sessions, %d plans; want 1, 0", sessions, plans)
	}

	sessions, plans, err = PurgeBefore(db, time.Unix(5000, 0), "")
	if err != nil {
		t.Fatalf("PurgeBefore failed: %v", err)
	}
	if sessions != 1 || plans != 1 {
		t.Errorf("global purge = %d sessions, %d plans; want 1, 1", sessions, plans)
	}
	if n, _ := CountSessions(db, ""); n != 1 {
		t.Errorf("remaining = %d, want 1", n)
	}
}
