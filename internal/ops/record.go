package ops

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hpungsan/governor/internal/db"
	"github.com/hpungsan/governor/internal/errors"
	"github.com/hpungsan/governor/internal/experiment"
	"github.com/hpungsan/governor/internal/metrics"
)

// RecordInput contains parameters for the Record operation.
type RecordInput struct {
	Sample experiment.Sample
	Now    func() time.Time // optional, for tests
}

// RecordOutput contains the result of the Record operation.
type RecordOutput struct {
	SessionID string             `json:"session_id"`
	Variant   experiment.Variant `json:"variant"`
	Intent    string             `json:"intent"`
	CreatedAt time.Time          `json:"created_at"`
}

// Record stores a manually reported session outcome, such as a human
// quality rating or a context-miss count.
func Record(database *sql.DB, input RecordInput) (*RecordOutput, error) {
	s := input.Sample
	s.ExperimentID = strings.TrimSpace(s.ExperimentID)
	if s.ExperimentID == "" {
		return nil, errors.NewInvalidRequest("experiment_id is required")
	}
	v, err := experiment.ParseVariant(string(s.Variant))
	if err != nil {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("variant must be control or optimized, got %q", s.Variant))
	}
	s.Variant = v
	if s.BaselineTokens < 0 || s.PostFilterTokens < 0 || s.OutputTokens < 0 || s.ContextMissCount < 0 {
		return nil, errors.NewInvalidRequest("token counts and context_miss_count must be non-negative")
	}
	if s.PostFilterTokens > s.BaselineTokens && s.BaselineTokens > 0 {
		return nil, errors.NewInvalidRequest("post_filter_tokens must not exceed baseline_tokens")
	}

	if s.SessionID == "" {
		s.SessionID = uuid.NewString()
	}
	if s.CreatedAt.IsZero() {
		now := time.Now
		if input.Now != nil {
			now = input.Now
		}
		s.CreatedAt = now().UTC()
	}
	s.Normalize()

	if err := db.InsertSession(database, &s, ""); err != nil {
		return nil, err
	}
	metrics.SessionsRecorded.WithLabelValues(string(s.Variant)).Inc()

	return &RecordOutput{
		SessionID: s.SessionID,
		Variant:   s.Variant,
		Intent:    s.Intent,
		CreatedAt: s.CreatedAt,
	}, nil
}
