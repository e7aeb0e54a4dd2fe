package ops

import (
	"strings"

	"github.com/hpungsan/governor/internal/errors"
	"github.com/hpungsan/governor/internal/experiment"
)

// AssignInput contains parameters for the Assign operation.
type AssignInput struct {
	ExperimentID  string
	AssignmentKey string
	Variant       string // optional: control, optimized or auto (default)
}

// AssignOutput contains the result of the Assign operation.
type AssignOutput struct {
	ExperimentID  string             `json:"experiment_id"`
	AssignmentKey string             `json:"assignment_key,omitempty"`
	Variant       experiment.Variant `json:"variant"`
	Source        string             `json:"source"` // hash or explicit
}

// Assign resolves the experiment variant for an assignment key.
func Assign(input AssignInput) (*AssignOutput, error) {
	expID := strings.TrimSpace(input.ExperimentID)
	if expID == "" {
		return nil, errors.NewInvalidRequest("experiment_id is required")
	}

	v, err := experiment.ResolveVariant(expID, input.Variant, input.AssignmentKey)
	if err != nil {
		return nil, err
	}

	source := "explicit"
	if req := strings.ToLower(strings.TrimSpace(input.Variant)); req == "" || req == experiment.Auto {
		source = "hash"
	}
	return &AssignOutput{
		ExperimentID:  expID,
		AssignmentKey: input.AssignmentKey,
		Variant:       v,
		Source:        source,
	}, nil
}
