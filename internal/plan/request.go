package plan

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/hpungsan/governor/internal/unit"
)

// Request is the caller input for one plan run. Manifests may be written in
// YAML or JSON.
type Request struct {
	Task  string `json:"task,omitempty" yaml:"task,omitempty"`
	Query string `json:"query,omitempty" yaml:"query,omitempty"`

	Units []unit.Input `json:"units" yaml:"units"`

	Budget int    `json:"budget" yaml:"budget"`
	Model  string `json:"model,omitempty" yaml:"model,omitempty"`

	// Intent and Strategy override classification when set. Unknown names
	// are configuration errors.
	Intent   string `json:"intent,omitempty" yaml:"intent,omitempty"`
	Strategy string `json:"strategy,omitempty" yaml:"strategy,omitempty"`

	// BaselineTokens is the context size before upstream filtering. Units
	// are the post-filter context. Zero means no upstream filter ran.
	BaselineTokens int `json:"baseline_tokens,omitempty" yaml:"baseline_tokens,omitempty"`

	// MessageCount overrides the message count used for session hygiene.
	MessageCount int `json:"message_count,omitempty" yaml:"message_count,omitempty"`

	ExperimentID  string `json:"experiment_id,omitempty" yaml:"experiment_id,omitempty"`
	Variant       string `json:"variant,omitempty" yaml:"variant,omitempty"`
	AssignmentKey string `json:"assignment_key,omitempty" yaml:"assignment_key,omitempty"`
}

// ParseRequest decodes a YAML or JSON manifest.
func ParseRequest(data []byte) (*Request, error) {
	var req Request
	if err := yaml.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	return &req, nil
}
