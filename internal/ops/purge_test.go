package ops

import (
	"context"
	"testing"
	"time"

	"github.com/hpungsan/governor/internal/db"
	"github.com/hpungsan/governor/internal/errors"
	"github.com/hpungsan/governor/internal/experiment"
)

func TestPurge(t *testing.T) {
	database := newTestDB(t)
	now := time.Now()
	seedSessions(t, database, 2, now.AddDate(0, 0, -40))
	for _, id := range []string{"fresh-1", "fresh-2"} {
		s := experiment.Sample{SessionID: id, ExperimentID: "exp-1", Variant: experiment.Control, BaselineTokens: 10, CreatedAt: now}
		if err := db.InsertSession(database, &s, ""); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := Plan(context.Background(), database, newTestEngine(), PlanInput{Request: testRequest(), Persist: true}); err != nil {
		t.Fatal(err)
	}

	out, err := Purge(database, PurgeInput{OlderThanDays: 30})
	if err != nil {
		t.Fatalf("Purge failed: %v", err)
	}
	if out.Sessions != 4 || out.Plans != 0 {
		t.Errorf("purged %d sessions, %d plans; want 4, 0", out.Sessions, out.Plans)
	}
	if out.Message != "Permanently deleted 4 sessions and 0 plans (older than 30 days)" {
		t.Errorf("Message = %q", out.Message)
	}

	out, err = Purge(database, PurgeInput{OlderThanDays: 0})
	if err != nil {
		t.Fatalf("Purge failed: %v", err)
	}
	if out.Sessions != 2 || out.Plans != 1 {
		t.Errorf("purged %d sessions, %d plans; want 2, 1", out.Sessions, out.Plans)
	}

	out, err = Purge(database, PurgeInput{})
	if err != nil {
		t.Fatalf("Purge failed: %v", err)
	}
	if out.Message != "Nothing to purge" {
		t.Errorf("Message = %q", out.Message)
	}
}

func TestPurge_NegativeDays(t *testing.T) {
	_, err := Purge(newTestDB(t), PurgeInput{OlderThanDays: -1})
	if !errors.Is(err, errors.ErrInvalidRequest) {
		t.Errorf("expected INVALID_REQUEST, got %v", err)
	}
}

func TestFormatPurgeMessage(t *testing.T) {
	got := formatPurgeMessage(1, 2, PurgeInput{ExperimentID: "exp-1"})
	want := `Permanently deleted 1 session and 2 plans for experiment "exp-1"`
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}
