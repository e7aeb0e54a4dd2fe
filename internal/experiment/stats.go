package experiment

import (
	"context"
	"math"
	"math/rand/v2"
	"slices"

	gerrors "github.com/hpungsan/governor/internal/errors"
)

// Fixed seeds keep reports reproducible for the same samples.
const (
	bootstrapSeed   = 13
	permutationSeed = 29
)

// cancelCheckEvery is how often resampling loops poll the context.
const cancelCheckEvery = 256

func mean(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	s := 0.0
	for _, x := range v {
		s += x
	}
	return s / float64(len(v))
}

func median(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	s := slices.Clone(v)
	slices.Sort(s)
	n := len(s)
	if n%2 == 1 {
		return s[n/2]
	}
	return (s[n/2-1] + s[n/2]) / 2
}

// percentile interpolates linearly over sorted values, pct in [0, 100].
func percentile(sorted []float64, pct float64) float64 {
	switch len(sorted) {
	case 0:
		return 0
	case 1:
		return sorted[0]
	}
	rank := pct / 100 * float64(len(sorted)-1)
	low := int(rank)
	high := min(low+1, len(sorted)-1)
	w := rank - float64(low)
	return sorted[low]*(1-w) + sorted[high]*w
}

// bootstrapDiffCI returns the (1-alpha) percentile interval of mean(a)-mean(b).
func bootstrapDiffCI(ctx context.Context, a, b []float64, iterations int, alpha float64) (low, high float64, err error) {
	if len(a) == 0 || len(b) == 0 || iterations <= 0 {
		return 0, 0, nil
	}
	rng := rand.New(rand.NewPCG(bootstrapSeed, bootstrapSeed))
	diffs := make([]float64, iterations)
	for i := range diffs {
		if i%cancelCheckEvery == 0 && ctx.Err() != nil {
			return 0, 0, gerrors.NewCancelled("bootstrap")
		}
		diffs[i] = resampleMean(rng, a) - resampleMean(rng, b)
	}
	slices.Sort(diffs)
	return percentile(diffs, alpha/2*100), percentile(diffs, (1-alpha/2)*100), nil
}

func resampleMean(rng *rand.Rand, v []float64) float64 {
	s := 0.0
	for range v {
		s += v[rng.IntN(len(v))]
	}
	return s / float64(len(v))
}

// permutationResult is a two-sided permutation test outcome.
type permutationResult struct {
	PValue      float64
	Iterations  int
	EarlyStop   bool
	Significant bool
}

// permutationTest computes the add-one smoothed p-value of |mean(a)-mean(b)|.
// It stops once the significance decision at alpha can no longer change.
func permutationTest(ctx context.Context, a, b []float64, iterations int, alpha float64) (permutationResult, error) {
	if len(a) == 0 || len(b) == 0 || iterations <= 0 {
		return permutationResult{PValue: 1}, nil
	}
	rng := rand.New(rand.NewPCG(permutationSeed, permutationSeed))
	observed := math.Abs(mean(a) - mean(b))
	combined := append(slices.Clone(a), b...)
	na := len(a)

	// p < alpha  <=>  extreme+1 < alpha*(iterations+1)
	limit := alpha * float64(iterations+1)
	extreme, done := 0, 0
	for done < iterations {
		if done%cancelCheckEvery == 0 && ctx.Err() != nil {
			return permutationResult{}, gerrors.NewCancelled("permutation test")
		}
		rng.Shuffle(len(combined), func(i, j int) { combined[i], combined[j] = combined[j], combined[i] })
		if math.Abs(mean(combined[:na])-mean(combined[na:])) >= observed {
			extreme++
		}
		done++

		if float64(extreme+1) >= limit {
			// Already not significant whatever remains.
			break
		}
		if float64(extreme+(iterations-done)+1) < limit {
			// Significant even if every remaining permutation is extreme.
			break
		}
	}

	res := permutationResult{Iterations: done, EarlyStop: done < iterations}
	if res.EarlyStop {
		// Extrapolate the observed rate over the full run for reporting.
		res.PValue = (float64(extreme)/float64(done)*float64(iterations) + 1) / float64(iterations+1)
	} else {
		res.PValue = float64(extreme+1) / float64(iterations+1)
	}
	res.Significant = float64(extreme+1) < limit
	if res.EarlyStop && !res.Significant {
		res.PValue = math.Max(res.PValue, alpha)
	}
	return res, nil
}
