// Package tokens converts raw content into token counts.
//
// Exact counts come from a subword tokenizer for OpenAI-family models and,
// when enabled, from the Anthropic token counting API for Claude. Everything
// else falls back to a len/4 approximation flagged as "approximate" so budget
// checks downstream can apply a margin. Estimation never fails.
package tokens

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"math"
	"sync"
	"unicode/utf8"

	"github.com/tiktoken-go/tokenizer"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/hpungsan/governor/internal/metrics"
)

// Family identifies a tokenizer family.
type Family string

const (
	FamilyClaude Family = "claude"
	FamilyCL100k Family = "cl100k"
	FamilyO200k  Family = "o200k"
	// FamilyUnknown always uses the approximation.
	FamilyUnknown Family = "unknown"
)

// Estimation methods reported in output metadata.
const (
	MethodTiktoken     = "tiktoken"
	MethodAnthropicAPI = "anthropic_api"
	MethodApproximate  = "approximate"
)

// DefaultCacheMaxEntries bounds the cache when no limit is configured.
const DefaultCacheMaxEntries = 10000

// Result is one estimate.
type Result struct {
	Tokens  int    `json:"tokens"`
	Method  string `json:"estimation_method"`
	Warning string `json:"warning,omitempty"`
}

// Approximate reports whether the count came from the len/4 fallback.
func (r Result) Approximate() bool {
	return r.Method == MethodApproximate
}

// Counter counts tokens remotely. Implemented by AnthropicCounter.
type Counter interface {
	CountTokens(ctx context.Context, content string) (int, error)
}

// Options configures an Estimator.
type Options struct {
	CacheMaxEntries int
	// Claude is used for FamilyClaude when non-nil.
	Claude Counter
}

type cacheKey struct {
	hash   string
	family Family
}

// Estimator is safe for concurrent use. Results are cached by content hash
// and family; concurrent misses for the same key share one computation.
type Estimator struct {
	mu         sync.RWMutex
	cache      map[cacheKey]Result
	maxEntries int

	group  singleflight.Group
	claude Counter
	logger *zap.Logger

	codecMu sync.Mutex
	codecs  map[Family]tokenizer.Codec
}

// New creates an Estimator.
func New(opts Options, logger *zap.Logger) *Estimator {
	if logger == nil {
		logger = zap.NewNop()
	}
	maxEntries := opts.CacheMaxEntries
	if maxEntries <= 0 {
		maxEntries = DefaultCacheMaxEntries
	}
	return &Estimator{
		cache:      make(map[cacheKey]Result),
		maxEntries: maxEntries,
		claude:     opts.Claude,
		logger:     logger,
		codecs:     make(map[Family]tokenizer.Codec),
	}
}

// Estimate returns the token count of content for the given family.
func (e *Estimator) Estimate(ctx context.Context, content string, family Family) Result {
	if content == "" {
		return Result{Tokens: 0, Method: e.methodFor(family)}
	}
	if !utf8.ValidString(content) {
		return Result{Tokens: 0, Method: MethodApproximate, Warning: "content is not valid UTF-8; counted as 0 tokens"}
	}

	sum := sha256.Sum256([]byte(content))
	key := cacheKey{hash: hex.EncodeToString(sum[:]), family: family}

	e.mu.RLock()
	cached, ok := e.cache[key]
	e.mu.RUnlock()
	if ok {
		metrics.EstimatorCache.WithLabelValues("hit").Inc()
		return cached
	}
	metrics.EstimatorCache.WithLabelValues("miss").Inc()

	v, _, _ := e.group.Do(key.hash+"/"+string(family), func() (any, error) {
		res, final := e.compute(ctx, content, family)
		if final {
			e.store(key, res)
		}
		return res, nil
	})
	return v.(Result)
}

// Len returns the number of cached entries.
func (e *Estimator) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.cache)
}

func (e *Estimator) store(key cacheKey, res Result) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.cache[key]; !ok && len(e.cache) >= e.maxEntries {
		// Evict an arbitrary entry; the cache is an optimization only.
		for k := range e.cache {
			delete(e.cache, k)
			break
		}
	}
	e.cache[key] = res
}

func (e *Estimator) methodFor(family Family) string {
	switch family {
	case FamilyCL100k, FamilyO200k:
		return MethodTiktoken
	case FamilyClaude:
		if e.claude != nil {
			return MethodAnthropicAPI
		}
	}
	return MethodApproximate
}

// compute counts content. final is false when a remote counter failed and
// res holds the approximation; such results are not cached.
func (e *Estimator) compute(ctx context.Context, content string, family Family) (res Result, final bool) {
	final = true
	switch family {
	case FamilyCL100k, FamilyO200k:
		if codec := e.codec(family); codec != nil {
			ids, _, err := codec.Encode(content)
			if err == nil {
				res = Result{Tokens: len(ids), Method: MethodTiktoken}
				break
			}
			e.logger.Debug("tokenizer encode failed", zap.String("family", string(family)), zap.Error(err))
		}
		res = approximateResult(content)
	case FamilyClaude:
		if e.claude != nil {
			n, err := e.claude.CountTokens(ctx, content)
			if err == nil {
				res = Result{Tokens: n, Method: MethodAnthropicAPI}
				break
			}
			e.logger.Debug("anthropic token count failed", zap.Error(err))
			final = false
		}
		res = approximateResult(content)
	default:
		res = approximateResult(content)
	}
	metrics.EstimationMethod.WithLabelValues(res.Method).Inc()
	return res, final
}

// codec lazily loads the tokenizer for a family. Nil on failure.
func (e *Estimator) codec(family Family) tokenizer.Codec {
	e.codecMu.Lock()
	defer e.codecMu.Unlock()
	if c, ok := e.codecs[family]; ok {
		return c
	}
	enc := tokenizer.Cl100kBase
	if family == FamilyO200k {
		enc = tokenizer.O200kBase
	}
	c, err := tokenizer.Get(enc)
	if err != nil {
		e.logger.Warn("tokenizer unavailable, using approximation", zap.String("family", string(family)), zap.Error(err))
		c = nil
	}
	e.codecs[family] = c
	return c
}

// Approximate returns round(len(content)/4).
func Approximate(content string) int {
	return int(math.Round(float64(len(content)) / 4))
}

func approximateResult(content string) Result {
	return Result{Tokens: Approximate(content), Method: MethodApproximate}
}
