package constellation

import (
	"math"

	"github.com/hexbound/constella/internal/store"
)

// Layout geometry. Radius maps recency into a band of the unit disc
// (newer entries sit closer to the center); the angle comes from a
// deterministic hash of the node id so the same id lands at the same
// angle on every run and every platform. The hash constants are part of
// the contract — changing them moves every node.
const (
	minRadius  = 0.15
	maxRadius  = 0.90
	jitterFrac = 0.08 // jitter amplitude as a fraction of a full turn

	angleScale  = 3600
	jitterScale = 1000
)

// assignLayout gives a coordinate to every candidate node not already in
// the layout. Existing coordinates are never recomputed — placement is
// stable across rebuilds. candidates must be sorted newest first.
func assignLayout(layout map[string]Point, candidates []store.JournalEntry) {
	n := len(candidates)
	for i, entry := range candidates {
		if _, ok := layout[entry.ID]; ok {
			continue
		}

		// Recency fraction: newest 0, oldest 1.
		frac := 0.0
		if n > 1 {
			frac = float64(i) / float64(n-1)
		}
		radius := minRadius + frac*(maxRadius-minRadius)
		theta := angleFor(entry.ID)

		layout[entry.ID] = Point{
			X: radius * math.Cos(theta),
			Y: radius * math.Sin(theta),
		}
	}
}

// angleFor derives a node's angle from two independent rolling hashes of
// its id: a base angle plus a small jitter so ids that hash near each
// other don't form perfectly regular spokes.
func angleFor(id string) float64 {
	base := float64(angleHash(id)%angleScale) / angleScale * 2 * math.Pi
	jitter := float64(jitterHash(id)%jitterScale) / jitterScale * jitterFrac * 2 * math.Pi
	return math.Mod(base+jitter, 2*math.Pi)
}

// angleHash is a multiplicative/XOR rolling hash (FNV-1a over the id
// bytes, truncated by the caller's modulus).
func angleHash(id string) uint64 {
	var h uint64 = 14695981039346656037
	for i := 0; i < len(id); i++ {
		h ^= uint64(id[i])
		h *= 1099511628211
	}
	return h
}

// jitterHash is an additive/multiplicative rolling hash (djb2),
// deliberately accumulated differently from angleHash so the two values
// are uncorrelated for the same id.
func jitterHash(id string) uint64 {
	var h uint64 = 5381
	for i := 0; i < len(id); i++ {
		h = h*33 + uint64(id[i])
	}
	return h
}
