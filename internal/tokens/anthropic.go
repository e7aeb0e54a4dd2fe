package tokens

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// ErrCountingDisabled is returned once a counting request has failed; later
// calls go straight to the approximation instead of retrying the network.
var ErrCountingDisabled = errors.New("anthropic token counting disabled after failure")

// AnthropicCounter counts Claude tokens with the token counting API.
type AnthropicCounter struct {
	client  anthropic.Client
	model   string
	timeout time.Duration
	failed  atomic.Bool
}

// NewAnthropicCounter creates a counter for model. An empty apiKey falls back
// to the ANTHROPIC_API_KEY environment variable read by the SDK.
func NewAnthropicCounter(apiKey, model string, timeout time.Duration) *AnthropicCounter {
	opts := []option.RequestOption{}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &AnthropicCounter{
		client:  anthropic.NewClient(opts...),
		model:   model,
		timeout: timeout,
	}
}

// CountTokens implements Counter.
func (c *AnthropicCounter) CountTokens(ctx context.Context, content string) (int, error) {
	if c.failed.Load() {
		return 0, ErrCountingDisabled
	}
	if ctx == nil {
		ctx = context.Background()
	}
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.client.Messages.CountTokens(callCtx, anthropic.MessageCountTokensParams{
		Model: anthropic.Model(c.model),
		Messages: []anthropic.MessageParam{
			{
				Role: anthropic.MessageParamRoleUser,
				Content: []anthropic.ContentBlockParamUnion{
					anthropic.NewTextBlock(content),
				},
			},
		},
	})
	if err != nil {
		// A cancelled caller says nothing about the API.
		if ctx.Err() == nil {
			c.failed.Store(true)
		}
		return 0, fmt.Errorf("count tokens: %w", err)
	}
	return int(resp.InputTokens), nil
}
