package ops

import (
	"context"
	"strings"

	"github.com/hpungsan/governor/internal/budget"
	"github.com/hpungsan/governor/internal/config"
	"github.com/hpungsan/governor/internal/tokens"
)

// EstimateInput contains parameters for the Estimate operation.
type EstimateInput struct {
	Content string
	Model   string // optional, defaults to config default_model
}

// EstimateOutput contains the result of the Estimate operation.
type EstimateOutput struct {
	Model         string        `json:"model"`
	Family        tokens.Family `json:"tokenizer_family"`
	ContextWindow int           `json:"context_window,omitempty"`
	Chars         int           `json:"chars"`
	tokens.Result
	Approximate bool `json:"approximate"`
}

// Estimate counts the tokens of a piece of content for a target model.
func Estimate(ctx context.Context, est *tokens.Estimator, cfg *config.Config, input EstimateInput) *EstimateOutput {
	modelID := strings.TrimSpace(input.Model)
	if modelID == "" && cfg != nil {
		modelID = cfg.DefaultModel
	}
	model, _ := budget.LookupModel(modelID)

	res := est.Estimate(ctx, input.Content, model.Family)
	return &EstimateOutput{
		Model:         model.ID,
		Family:        model.Family,
		ContextWindow: model.ContextWindow,
		Chars:         len([]rune(input.Content)),
		Result:        res,
		Approximate:   res.Approximate(),
	}
}
