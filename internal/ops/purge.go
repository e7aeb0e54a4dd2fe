package ops

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/hpungsan/governor/internal/db"
	"github.com/hpungsan/governor/internal/errors"
)

// PurgeInput contains parameters for the Purge operation.
type PurgeInput struct {
	OlderThanDays int    // required, >= 0; 0 purges everything
	ExperimentID  string // optional filter
	Now           func() time.Time
}

// PurgeOutput contains the result of the Purge operation.
type PurgeOutput struct {
	Sessions int    `json:"sessions_purged"`
	Plans    int    `json:"plans_purged"`
	Message  string `json:"message"`
}

// Purge permanently deletes sessions and plans older than N days.
func Purge(database *sql.DB, input PurgeInput) (*PurgeOutput, error) {
	if input.OlderThanDays < 0 {
		return nil, errors.NewInvalidRequest("older_than_days must be >= 0")
	}
	now := time.Now
	if input.Now != nil {
		now = input.Now
	}
	cutoff := now().AddDate(0, 0, -input.OlderThanDays)
	if input.OlderThanDays == 0 {
		// Include rows written in the current second.
		cutoff = cutoff.Add(time.Second)
	}

	sessions, plans, err := db.PurgeBefore(database, cutoff, input.ExperimentID)
	if err != nil {
		return nil, err
	}
	return &PurgeOutput{
		Sessions: sessions,
		Plans:    plans,
		Message:  formatPurgeMessage(sessions, plans, input),
	}, nil
}

func formatPurgeMessage(sessions, plans int, input PurgeInput) string {
	if sessions == 0 && plans == 0 {
		return "Nothing to purge"
	}
	msg := fmt.Sprintf("Permanently deleted %s and %s", plural(sessions, "session"), plural(plans, "plan"))
	if input.ExperimentID != "" {
		msg += fmt.Sprintf(" for experiment %q", input.ExperimentID)
	}
	if input.OlderThanDays > 0 {
		msg += fmt.Sprintf(" (older than %d days)", input.OlderThanDays)
	}
	return msg
}

func plural(n int, word string) string {
	if n == 1 {
		return "1 " + word
	}
	return fmt.Sprintf("%d %ss", n, word)
}
