package ops

import (
	"database/sql"
	"strings"

	"github.com/hpungsan/governor/internal/db"
	"github.com/hpungsan/governor/internal/errors"
	"github.com/hpungsan/governor/internal/plan"
)

// FetchInput contains parameters for the Fetch operation.
type FetchInput struct {
	PlanID string
}

// Fetch retrieves a stored execution plan by id.
func Fetch(database *sql.DB, input FetchInput) (*plan.ExecutionPlan, error) {
	id := strings.TrimSpace(input.PlanID)
	if id == "" {
		return nil, errors.NewInvalidRequest("plan_id is required")
	}
	return db.GetPlan(database, id)
}
