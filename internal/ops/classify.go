package ops

import (
	"github.com/hpungsan/governor/internal/config"
	"github.com/hpungsan/governor/internal/intent"
)

// ClassifyInput contains parameters for the Classify operation.
type ClassifyInput struct {
	Task       string
	Content    string
	ErrorUnits int // units flagged as error content
	DiffUnits  int // units of type diff
}

// ClassifyOutput contains the result of the Classify operation.
type ClassifyOutput struct {
	intent.Classification
	// Strategy is the profile a plan would use: the classified intent, or
	// generic when confidence is below the configured threshold.
	Strategy  string  `json:"strategy"`
	Threshold float64 `json:"threshold"`
}

// Classify infers the task intent without running a full plan.
func Classify(cfg *config.Config, input ClassifyInput) *ClassifyOutput {
	threshold := config.DefaultConfig().IntentConfidenceThreshold
	if cfg != nil {
		threshold = cfg.IntentConfidenceThreshold
	}

	cls := intent.Classifier{Threshold: threshold}.Classify(input.Task, input.Content, intent.Signals{
		ErrorUnits: input.ErrorUnits,
		DiffUnits:  input.DiffUnits,
	})

	strategy := string(cls.Intent)
	if cls.Confidence < threshold {
		strategy = string(intent.Generic)
	}
	return &ClassifyOutput{Classification: cls, Strategy: strategy, Threshold: threshold}
}
