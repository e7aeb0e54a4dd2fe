package tokens

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingCounter struct {
	calls atomic.Int32
	n     int
	err   error
}

func (c *countingCounter) CountTokens(_ context.Context, _ string) (int, error) {
	c.calls.Add(1)
	return c.n, c.err
}

func TestApproximate(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"a", 0},
		{"ab", 1},
		{"abcd", 1},
		{"abcdef", 2},
		{strings.Repeat("x", 400), 100},
	}
	for _, tt := range tests {
		if got := Approximate(tt.in); got != tt.want {
			t.Errorf("Approximate(len=%d) = %d, want %d", len(tt.in), got, tt.want)
		}
	}
}

func TestEstimate_UnknownFamilyIsApproximate(t *testing.T) {
	e := New(Options{}, nil)
	res := e.Estimate(context.Background(), strings.Repeat("word ", 20), FamilyUnknown)
	assert.Equal(t, 25, res.Tokens)
	assert.Equal(t, MethodApproximate, res.Method)
	assert.True(t, res.Approximate())
}

func TestEstimate_ClaudeWithoutCounterIsApproximate(t *testing.T) {
	e := New(Options{}, nil)
	res := e.Estimate(context.Background(), "hello world, hello", FamilyClaude)
	assert.Equal(t, MethodApproximate, res.Method)
}

func TestEstimate_InvalidUTF8(t *testing.T) {
	e := New(Options{}, nil)
	res := e.Estimate(context.Background(), "ok\xff\xfe", FamilyCL100k)
	assert.Equal(t, 0, res.Tokens)
	assert.NotEmpty(t, res.Warning)
}

func TestEstimate_Tiktoken(t *testing.T) {
	e := New(Options{}, nil)
	res := e.Estimate(context.Background(), "hello world", FamilyCL100k)
	require.Equal(t, MethodTiktoken, res.Method)
	assert.Equal(t, 2, res.Tokens)
}

func TestEstimate_ClaudeCounterCached(t *testing.T) {
	counter := &countingCounter{n: 42}
	e := New(Options{Claude: counter}, nil)

	for i := 0; i < 5; i++ {
		res := e.Estimate(context.Background(), "some content", FamilyClaude)
		require.Equal(t, 42, res.Tokens)
		require.Equal(t, MethodAnthropicAPI, res.Method)
	}
	assert.Equal(t, int32(1), counter.calls.Load())
	assert.Equal(t, 1, e.Len())
}

func TestEstimate_ClaudeCounterFailureFallsBack(t *testing.T) {
	counter := &countingCounter{err: errors.New("offline")}
	e := New(Options{Claude: counter}, nil)

	res := e.Estimate(context.Background(), "abcdefgh", FamilyClaude)
	assert.Equal(t, 2, res.Tokens)
	assert.Equal(t, MethodApproximate, res.Method)
}

type flakyCounter struct {
	calls atomic.Int32
}

func (c *flakyCounter) CountTokens(_ context.Context, _ string) (int, error) {
	if c.calls.Add(1) == 1 {
		return 0, errors.New("timeout")
	}
	return 7, nil
}

func TestEstimate_ClaudeCounterFailureNotCached(t *testing.T) {
	counter := &flakyCounter{}
	e := New(Options{Claude: counter}, nil)
	ctx := context.Background()

	first := e.Estimate(ctx, "abcdefgh", FamilyClaude)
	assert.Equal(t, MethodApproximate, first.Method)
	assert.Equal(t, 0, e.Len())

	second := e.Estimate(ctx, "abcdefgh", FamilyClaude)
	assert.Equal(t, Result{Tokens: 7, Method: MethodAnthropicAPI}, second)
	assert.Equal(t, int32(2), counter.calls.Load())
	assert.Equal(t, 1, e.Len())

	e.Estimate(ctx, "abcdefgh", FamilyClaude)
	assert.Equal(t, int32(2), counter.calls.Load(), "successful count is cached")
}

func TestEstimate_FamilyIsPartOfKey(t *testing.T) {
	counter := &countingCounter{n: 7}
	e := New(Options{Claude: counter}, nil)

	a := e.Estimate(context.Background(), "same text", FamilyClaude)
	b := e.Estimate(context.Background(), "same text", FamilyUnknown)
	assert.Equal(t, 7, a.Tokens)
	assert.Equal(t, MethodApproximate, b.Method)
	assert.Equal(t, 2, e.Len())
}

func TestEstimate_CacheBounded(t *testing.T) {
	e := New(Options{CacheMaxEntries: 3}, nil)
	for i := 0; i < 10; i++ {
		e.Estimate(context.Background(), strings.Repeat("y", i+1), FamilyUnknown)
	}
	assert.LessOrEqual(t, e.Len(), 3)
}

func TestEstimate_ConcurrentSameKey(t *testing.T) {
	e := New(Options{}, nil)
	content := strings.Repeat("concurrent ", 100)
	want := Approximate(content)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := e.Estimate(context.Background(), content, FamilyUnknown)
			if res.Tokens != want {
				t.Errorf("Tokens = %d, want %d", res.Tokens, want)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, e.Len())
}
