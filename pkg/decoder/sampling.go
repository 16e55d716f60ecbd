package decoder

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"

	"github.com/menta2k/image-captioner/pkg/types"
)

// ApplyTemperature rescales a probability distribution: p' = p^(1/t),
// renormalised to sum to 1. t < 1 sharpens, t > 1 flattens and t == 1
// returns probs unchanged. The input is never modified.
//
// If the rescaled mass underflows to zero or is not finite, a copy of the
// input is returned instead.
func ApplyTemperature(probs types.Distribution, t float64) types.Distribution {
	if t == 1.0 {
		return probs
	}

	out := make(types.Distribution, len(probs))
	for i, p := range probs {
		if p > 0 {
			out[i] = math.Exp(math.Log(p) / t)
		}
	}

	sum := floats.Sum(out)
	if sum <= 0 || math.IsInf(sum, 0) || math.IsNaN(sum) {
		copy(out, probs)
		return out
	}
	floats.Scale(1/sum, out)
	return out
}

// Finite reports whether dist holds no NaN or infinite values.
func Finite(dist types.Distribution) bool {
	if floats.HasNaN(dist) {
		return false
	}
	for _, p := range dist {
		if math.IsInf(p, 0) {
			return false
		}
	}
	return true
}

// Argmax returns the index of the largest probability. Ties resolve to the
// lowest index. An empty distribution yields -1.
func Argmax(dist types.Distribution) int {
	if len(dist) == 0 {
		return -1
	}
	return floats.MaxIdx(dist)
}

// TopK returns the indices of the k largest probabilities, highest first,
// lower index first among equals.
func TopK(dist types.Distribution, k int) []int {
	idxs := make([]int, len(dist))
	for i := range idxs {
		idxs[i] = i
	}
	sort.SliceStable(idxs, func(a, b int) bool {
		return dist[idxs[a]] > dist[idxs[b]]
	})
	if k < len(idxs) {
		idxs = idxs[:k]
	}
	return idxs
}
