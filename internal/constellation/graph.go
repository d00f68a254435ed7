// Package constellation maintains a decaying top-K nearest-neighbor graph
// over a bounded, time-windowed set of journal entries, plus a stable 2-D
// layout for visualization. Adjacency is directed per node: A's top-K may
// omit B even when B's top-K includes A. That asymmetry is part of the
// contract, not a bug.
package constellation

import (
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/hexbound/constella/internal/store"
	"github.com/hexbound/constella/internal/vecmath"
)

// Version-tagged blob keys. A format change bumps the suffix so old blobs
// load as empty rather than corrupt the graph.
const (
	adjacencyKey = "constellation:adjacency:v1"
	layoutKey    = "constellation:layout:v1"
)

// Config holds the graph tunables. Zero values fall back to defaults.
type Config struct {
	TopK          int     // neighbors kept per node
	EdgeThreshold float64 // minimum decayed-cosine weight for an edge
	TauDays       float64 // time-decay constant
	WindowDays    int     // candidate entry window
	MaxNodes      int     // candidate cap, bounds the O(n²) pass
}

func (c Config) withDefaults() Config {
	if c.TopK <= 0 {
		c.TopK = 5
	}
	if c.EdgeThreshold <= 0 {
		c.EdgeThreshold = 0.65
	}
	if c.TauDays <= 0 {
		c.TauDays = vecmath.DefaultTauDays
	}
	if c.WindowDays <= 0 {
		c.WindowDays = 90
	}
	if c.MaxNodes <= 0 {
		c.MaxNodes = 200
	}
	return c
}

// Neighbor is one directed edge in a node's adjacency list.
type Neighbor struct {
	ID          string  `json:"id"`
	Weight      float64 `json:"weight"`
	LastTouched int64   `json:"last_touched"` // newest of the two endpoints, unix millis
}

// Point is a layout coordinate in the unit disc.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Graph is the constellation service. One mutex guards both maps; a
// rebuild replaces them as a pair so a reader never sees adjacency from
// one rebuild with layout from another.
type Graph struct {
	cfg Config
	db  *store.DB

	mu        sync.Mutex
	neighbors map[string][]Neighbor
	layout    map[string]Point
}

// New creates a constellation graph backed by the given blob store.
func New(db *store.DB, cfg Config) *Graph {
	return &Graph{
		cfg:       cfg.withDefaults(),
		db:        db,
		neighbors: make(map[string][]Neighbor),
		layout:    make(map[string]Point),
	}
}

// Load restores the persisted adjacency and layout maps. Missing or
// undecodable blobs load as empty state, never an error.
func (g *Graph) Load() {
	neighbors := make(map[string][]Neighbor)
	layout := make(map[string]Point)

	if data, err := g.db.LoadBlob(adjacencyKey); err != nil {
		log.Printf("constellation: load adjacency: %v", err)
	} else if data != nil {
		if err := json.Unmarshal(data, &neighbors); err != nil {
			log.Printf("constellation: discarding undecodable adjacency blob: %v", err)
			neighbors = make(map[string][]Neighbor)
		}
	}

	if data, err := g.db.LoadBlob(layoutKey); err != nil {
		log.Printf("constellation: load layout: %v", err)
	} else if data != nil {
		if err := json.Unmarshal(data, &layout); err != nil {
			log.Printf("constellation: discarding undecodable layout blob: %v", err)
			layout = make(map[string]Point)
		}
	}

	g.mu.Lock()
	g.neighbors = neighbors
	g.layout = layout
	g.mu.Unlock()
}

// Rebuild recomputes the neighbor graph from the given entries and
// persists adjacency and layout together. Coordinates of nodes already in
// the layout are never recomputed; only new candidate nodes get one. An
// empty candidate set clears and persists empty state — the explicit
// "no graph" condition, not an error.
func (g *Graph) Rebuild(entries []store.JournalEntry, now time.Time) error {
	candidates := g.filterCandidates(entries, now)

	if len(candidates) == 0 {
		g.mu.Lock()
		g.neighbors = make(map[string][]Neighbor)
		g.layout = make(map[string]Point)
		err := g.persistLocked()
		g.mu.Unlock()
		return err
	}

	adjacency := g.computeAdjacency(candidates, now)

	g.mu.Lock()
	defer g.mu.Unlock()

	g.neighbors = adjacency
	assignLayout(g.layout, candidates)
	return g.persistLocked()
}

// Neighbors returns the directed adjacency list for a node, or nil.
func (g *Graph) Neighbors(nodeID string) []Neighbor {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.neighbors[nodeID]
}

// Coordinate returns a node's layout coordinate, if it has one.
func (g *Graph) Coordinate(nodeID string) (Point, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.layout[nodeID]
	return p, ok
}

// NodeCount returns the number of nodes with stored adjacency.
func (g *Graph) NodeCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.neighbors)
}

// filterCandidates keeps entries inside the window that carry an
// embedding, newest first, capped at MaxNodes (oldest excluded first).
func (g *Graph) filterCandidates(entries []store.JournalEntry, now time.Time) []store.JournalEntry {
	cutoff := now.AddDate(0, 0, -g.cfg.WindowDays).UnixMilli()

	var candidates []store.JournalEntry
	for _, e := range entries {
		if e.CreatedAt >= cutoff && len(e.Embedding) > 0 {
			candidates = append(candidates, e)
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].CreatedAt > candidates[j].CreatedAt
	})
	if len(candidates) > g.cfg.MaxNodes {
		candidates = candidates[:g.cfg.MaxNodes]
	}
	return candidates
}

// computeAdjacency runs the pairwise pass: weight = cosine × decay since
// the newest endpoint, non-positive cosine skipped, threshold applied,
// top-K per node. Isolated nodes are dropped from the map.
func (g *Graph) computeAdjacency(candidates []store.JournalEntry, now time.Time) map[string][]Neighbor {
	adjacency := make(map[string][]Neighbor)

	for i := range candidates {
		var edges []Neighbor
		for j := range candidates {
			if i == j {
				continue
			}

			cos := vecmath.Cosine(candidates[i].Embedding, candidates[j].Embedding)
			if cos <= 0 {
				continue
			}

			lastTouched := candidates[i].CreatedAt
			if candidates[j].CreatedAt > lastTouched {
				lastTouched = candidates[j].CreatedAt
			}
			sinceDays := now.Sub(time.UnixMilli(lastTouched)).Hours() / 24
			if sinceDays < 0 {
				sinceDays = 0
			}

			weight := cos * vecmath.TimeDecayWeight(sinceDays, g.cfg.TauDays)
			if weight < g.cfg.EdgeThreshold {
				continue
			}

			edges = append(edges, Neighbor{
				ID:          candidates[j].ID,
				Weight:      weight,
				LastTouched: lastTouched,
			})
		}

		if len(edges) == 0 {
			continue
		}
		sort.SliceStable(edges, func(a, b int) bool {
			return edges[a].Weight > edges[b].Weight
		})
		if len(edges) > g.cfg.TopK {
			edges = edges[:g.cfg.TopK]
		}
		adjacency[candidates[i].ID] = edges
	}

	return adjacency
}

// persistLocked writes both maps. Caller holds g.mu, which keeps the pair
// atomic with respect to other rebuilds.
func (g *Graph) persistLocked() error {
	adjData, err := json.Marshal(g.neighbors)
	if err != nil {
		return fmt.Errorf("marshal adjacency: %w", err)
	}
	layoutData, err := json.Marshal(g.layout)
	if err != nil {
		return fmt.Errorf("marshal layout: %w", err)
	}

	if err := g.db.SaveBlob(adjacencyKey, adjData); err != nil {
		return fmt.Errorf("persist adjacency: %w", err)
	}
	if err := g.db.SaveBlob(layoutKey, layoutData); err != nil {
		return fmt.Errorf("persist layout: %w", err)
	}
	return nil
}
