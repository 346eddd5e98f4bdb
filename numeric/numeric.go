// Package numeric holds small, dependency-light numeric helpers useful to
// model implementations outside the graph package proper — reward
// shaping for an RL model, moving-average smoothing of a loss curve, or
// a weighted sampler over an action distribution — without pulling in
// the graph/tensor stack. No direct teacher equivalent exists; built
// with gonum.org/v1/gonum/floats and /stat the way go/neuro/utils/tensor.go
// already leans on floats for vectorized elementwise work.
package numeric

import (
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// DiscountedReward returns the discounted cumulative return at each step
// of rewards: out[i] = sum_{k>=i} gamma^(k-i) * rewards[k]. Computed
// backward in a single pass, the standard RL reward-to-go recurrence.
func DiscountedReward(rewards []float64, gamma float64) []float64 {
	out := make([]float64, len(rewards))
	running := 0.0
	for i := len(rewards) - 1; i >= 0; i-- {
		running = rewards[i] + gamma*running
		out[i] = running
	}
	return out
}

// CosineSimilarity returns the cosine of the angle between a and b:
// dot(a,b) / (norm(a)*norm(b)). Returns 0 if either vector is zero.
func CosineSimilarity(a, b []float64) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("numeric: vectors have different lengths %d and %d", len(a), len(b))
	}
	na := floats.Norm(a, 2)
	nb := floats.Norm(b, 2)
	if na == 0 || nb == 0 {
		return 0, nil
	}
	return floats.Dot(a, b) / (na * nb), nil
}

// SMA returns the simple moving average over a trailing window of size n
// ending at each index; the first n-1 entries use whatever shorter
// prefix is available.
func SMA(xs []float64, n int) []float64 {
	out := make([]float64, len(xs))
	for i := range xs {
		lo := i - n + 1
		if lo < 0 {
			lo = 0
		}
		out[i] = stat.Mean(xs[lo:i+1], nil)
	}
	return out
}

// EMA returns the exponential moving average with smoothing factor
// alpha in (0,1]: out[0] = xs[0], out[i] = alpha*xs[i] + (1-alpha)*out[i-1].
func EMA(xs []float64, alpha float64) []float64 {
	out := make([]float64, len(xs))
	if len(xs) == 0 {
		return out
	}
	out[0] = xs[0]
	for i := 1; i < len(xs); i++ {
		out[i] = alpha*xs[i] + (1-alpha)*out[i-1]
	}
	return out
}

// WMA returns the linearly weighted moving average over a trailing
// window of size n: the most recent sample in the window gets weight n,
// the oldest gets weight 1.
func WMA(xs []float64, n int) []float64 {
	out := make([]float64, len(xs))
	for i := range xs {
		lo := i - n + 1
		if lo < 0 {
			lo = 0
		}
		var num, den float64
		for j := lo; j <= i; j++ {
			w := float64(j - lo + 1)
			num += xs[j] * w
			den += w
		}
		out[i] = num / den
	}
	return out
}

// WeightedSample draws an index from weights using weight[i]/sum(weights)
// as the probability of choosing i. weights must be non-negative and sum
// to a positive value.
func WeightedSample(rng *rand.Rand, weights []float64) (int, error) {
	total := floats.Sum(weights)
	if total <= 0 {
		return 0, fmt.Errorf("numeric: weights must sum to a positive value, got %v", total)
	}
	target := rng.Float64() * total
	cum := 0.0
	for i, w := range weights {
		cum += w
		if target < cum {
			return i, nil
		}
	}
	return len(weights) - 1, nil
}
