// Package vecmath provides the pure scoring primitives shared by the
// resonance engine and the constellation graph: cosine similarity,
// exponential time decay, and a simple order-statistic percentile.
package vecmath

import (
	"math"
	"sort"
)

// DefaultTauDays is the default time-decay constant. Roughly three weeks:
// an entry from three weeks ago carries ~37% of a fresh entry's weight.
const DefaultTauDays = 21.0

// Cosine computes the cosine similarity between two vectors.
// If either vector is empty the result is 0. If the lengths differ, the
// comparison runs over the shorter length only — a lossy compatibility
// behavior for vectors produced by different embedding models, kept on
// purpose rather than returning an error.
func Cosine(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if n == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := 0; i < n; i++ {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom < 1e-12 {
		return 0
	}
	return dot / denom
}

// TimeDecayWeight returns exp(-deltaDays/tau). A zero-day delta weighs 1.0
// and the weight decreases strictly as the delta grows. Negative or
// non-finite deltas and non-positive tau all return 0 so a bad timestamp
// can never inflate a score.
func TimeDecayWeight(deltaDays, tau float64) float64 {
	if deltaDays < 0 || math.IsNaN(deltaDays) || math.IsInf(deltaDays, 0) {
		return 0
	}
	if tau <= 0 {
		return 0
	}
	return math.Exp(-deltaDays / tau)
}

// Percentile returns the p-th percentile of values as a plain order
// statistic: sort ascending, index floor((n-1)*p). No interpolation.
// p is clamped to [0,1]; an empty input returns 0 and a single-element
// input returns that element for any p.
func Percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	if p < 0 {
		p = 0
	}
	if p > 1 {
		p = 1
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	idx := int(math.Floor(float64(len(sorted)-1) * p))
	return sorted[idx]
}
