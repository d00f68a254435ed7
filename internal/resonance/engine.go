// Package resonance decides whether any of a user's recent journal
// entries resonates with a period's horoscope content strongly enough to
// surface as an alignment event. Scores combine embedding similarity with
// exponential time decay; the cutoff adapts per anchor from a rolling
// score history, floored at a configured minimum.
package resonance

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/hexbound/constella/internal/embed"
	"github.com/hexbound/constella/internal/store"
	"github.com/hexbound/constella/internal/symbols"
	"github.com/hexbound/constella/internal/vecmath"
)

const (
	// historyCap bounds the rolling score history per anchor key.
	historyCap = 60
	// minHistoryForPercentile is how many samples the history needs before
	// the percentile threshold kicks in; below it, only the floor applies.
	minHistoryForPercentile = 10
	// maxHits bounds the hits carried by one bundle.
	maxHits = 3
)

// Config holds the resonance tunables. Zero values fall back to defaults.
type Config struct {
	LookbackDays        int     // entry eligibility window
	TauDays             float64 // time-decay constant
	ThresholdPercentile float64 // order statistic for the dynamic threshold
	MinThreshold        float64 // threshold floor
	MaxSymbols          int     // symbols extracted per text
	MaxOverlapSymbols   int     // overlap symbols surfaced per hit
	CacheHours          int     // bundle cache window
}

func (c Config) withDefaults() Config {
	if c.LookbackDays <= 0 {
		c.LookbackDays = 14
	}
	if c.TauDays <= 0 {
		c.TauDays = vecmath.DefaultTauDays
	}
	if c.ThresholdPercentile <= 0 {
		c.ThresholdPercentile = 0.90
	}
	if c.MinThreshold <= 0 {
		c.MinThreshold = 0.5
	}
	if c.MaxSymbols <= 0 {
		c.MaxSymbols = 12
	}
	if c.MaxOverlapSymbols <= 0 {
		c.MaxOverlapSymbols = 5
	}
	if c.CacheHours <= 0 {
		c.CacheHours = 24
	}
	return c
}

// Hit is one journal entry that resonated with the horoscope content.
// Immutable once produced.
type Hit struct {
	EntryID        string   `json:"entry_id"`
	Score          float64  `json:"score"`
	OverlapSymbols []string `json:"overlap_symbols"`
	CreatedAt      int64    `json:"created_at"`
}

// Bundle is the computed, cached result of scoring all eligible entries
// against one anchor's horoscope content.
type Bundle struct {
	AnchorKey string    `json:"anchor_key"`
	Headline  string    `json:"headline"`
	Summary   string    `json:"summary,omitempty"`
	Embedding []float64 `json:"embedding"`
	TopHits   []Hit     `json:"top_hits"`
	Threshold float64   `json:"threshold"`
}

// IsAlignmentEvent reports whether the bundle's top hit met the dynamic
// threshold. False for a bundle with no hits.
func (b *Bundle) IsAlignmentEvent() bool {
	return len(b.TopHits) > 0 && b.TopHits[0].Score >= b.Threshold
}

type cachedBundle struct {
	bundle  *Bundle
	created time.Time
}

// Engine orchestrates embedding retrieval, scoring, adaptive thresholding,
// caching, and the alignment-event decision. One mutex guards all shared
// maps; embedding calls never run under it.
type Engine struct {
	cfg       Config
	embedder  embed.Embedder
	extractor *symbols.Extractor

	mu        sync.Mutex
	histories map[string][]float64
	cache     map[string]cachedBundle
	last      map[string]*Bundle
}

// New creates a resonance engine with the given embedder and config.
func New(embedder embed.Embedder, cfg Config) *Engine {
	cfg = cfg.withDefaults()
	return &Engine{
		cfg:       cfg,
		embedder:  embedder,
		extractor: symbols.NewExtractor(cfg.MaxSymbols),
		histories: make(map[string][]float64),
		cache:     make(map[string]cachedBundle),
		last:      make(map[string]*Bundle),
	}
}

// BuildBundle scores the given entries against one anchor's horoscope
// content and returns a bundle only when the top candidate meets the
// dynamic threshold (an alignment event). Every other outcome — cache
// says no event, no resolvable horoscope embedding, no entries in the
// lookback window, nothing scoreable — returns nil. Failures degrade to
// "no event"; this engine prefers false negatives over crashes.
func (e *Engine) BuildBundle(ctx context.Context, anchorKey, headline, summary string, horoscopeVec []float64, entries []store.JournalEntry, now time.Time) *Bundle {
	// Serve from cache inside the window without recomputing. A cached
	// non-event stays a non-event.
	e.mu.Lock()
	if c, ok := e.cache[anchorKey]; ok && now.Sub(c.created) < time.Duration(e.cfg.CacheHours)*time.Hour {
		e.mu.Unlock()
		if c.bundle.IsAlignmentEvent() {
			return c.bundle
		}
		return nil
	}
	e.mu.Unlock()

	// Resolve the horoscope embedding.
	if len(horoscopeVec) == 0 {
		vec, err := e.embedder.Embed(ctx, headline+"\n"+summary)
		if err != nil {
			log.Printf("resonance: embed horoscope for %s: %v", anchorKey, err)
			return nil
		}
		horoscopeVec = vec
	}
	if len(horoscopeVec) == 0 {
		return nil
	}

	// Day arithmetic runs in the anchor's timezone when the key decodes.
	loc := time.UTC
	if a, err := ParseKey(anchorKey); err == nil {
		loc = locationOr(a.TZ, time.UTC)
	}

	// Lookback filter.
	cutoff := now.AddDate(0, 0, -e.cfg.LookbackDays).UnixMilli()
	var eligible []store.JournalEntry
	for _, entry := range entries {
		if entry.CreatedAt >= cutoff {
			eligible = append(eligible, entry)
		}
	}
	if len(eligible) == 0 {
		return nil
	}

	// Batch-embed entries missing a vector. A provider failure drops those
	// entries from scoring — they are unscoreable, not zero-similarity.
	var missingIdx []int
	var missingTexts []string
	for i := range eligible {
		if len(eligible[i].Embedding) == 0 {
			missingIdx = append(missingIdx, i)
			missingTexts = append(missingTexts, eligible[i].Text)
		}
	}
	if len(missingIdx) > 0 {
		vecs, err := e.embedder.EmbedBatch(ctx, missingTexts)
		if err != nil {
			log.Printf("resonance: embed %d entries for %s: %v", len(missingIdx), anchorKey, err)
		} else {
			for j, i := range missingIdx {
				eligible[i].Embedding = vecs[j]
			}
		}
	}

	horoSymbols := e.extractor.Extract(headline + "\n" + summary)

	type candidate struct {
		hit   Hit
		score float64
	}
	var scores []float64
	var candidates []candidate
	for _, entry := range eligible {
		if len(entry.Embedding) == 0 {
			continue
		}

		days := wholeDaysBetween(time.UnixMilli(entry.CreatedAt), now, loc)
		score := vecmath.Cosine(horoscopeVec, entry.Embedding) * vecmath.TimeDecayWeight(days, e.cfg.TauDays)
		scores = append(scores, score)

		// Stored symbols win; extraction fills the gap.
		entrySymbols := entry.Symbols
		if len(entrySymbols) == 0 {
			entrySymbols = e.extractor.Extract(entry.Text)
		}
		overlap := symbols.Overlap(horoSymbols, entrySymbols)
		if len(overlap) == 0 {
			continue // score alone is never enough for a hit
		}

		candidates = append(candidates, candidate{
			hit: Hit{
				EntryID:        entry.ID,
				Score:          score,
				OverlapSymbols: overlap,
				CreatedAt:      entry.CreatedAt,
			},
			score: score,
		})
	}
	if len(scores) == 0 {
		return nil
	}

	// Commit: history append, threshold, selection, cache — one total
	// order per anchor.
	e.mu.Lock()
	defer e.mu.Unlock()

	hist := append(e.histories[anchorKey], scores...)
	if len(hist) > historyCap {
		hist = hist[len(hist)-historyCap:]
	}
	e.histories[anchorKey] = hist

	threshold := e.cfg.MinThreshold
	if len(hist) >= minHistoryForPercentile {
		if p := vecmath.Percentile(hist, e.cfg.ThresholdPercentile); p > threshold {
			threshold = p
		}
	}

	var selected []candidate
	for _, c := range candidates {
		if c.score >= threshold {
			selected = append(selected, c)
		}
	}
	sort.SliceStable(selected, func(i, j int) bool {
		return selected[i].score > selected[j].score
	})
	if len(selected) > maxHits {
		selected = selected[:maxHits]
	}

	hits := make([]Hit, 0, len(selected))
	for _, c := range selected {
		h := c.hit
		if len(h.OverlapSymbols) > e.cfg.MaxOverlapSymbols {
			h.OverlapSymbols = h.OverlapSymbols[:e.cfg.MaxOverlapSymbols]
		}
		hits = append(hits, h)
	}

	bundle := &Bundle{
		AnchorKey: anchorKey,
		Headline:  headline,
		Summary:   summary,
		Embedding: horoscopeVec,
		TopHits:   hits,
		Threshold: threshold,
	}

	e.cache[anchorKey] = cachedBundle{bundle: bundle, created: now}
	e.last[anchorKey] = bundle

	if bundle.IsAlignmentEvent() {
		return bundle
	}
	return nil
}

// IsAligned reports whether the last stored bundle for the anchor (event
// or not) contains a hit for the given entry.
func (e *Engine) IsAligned(entryID, anchorKey string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	b, ok := e.last[anchorKey]
	if !ok {
		return false
	}
	for _, h := range b.TopHits {
		if h.EntryID == entryID {
			return true
		}
	}
	return false
}

// LastBundle returns the most recently computed bundle for the anchor,
// whether or not it was an alignment event.
func (e *Engine) LastBundle(anchorKey string) *Bundle {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.last[anchorKey]
}

// InvalidateRecent drops cached bundles whose anchor start falls within
// the last windowHours, so a freshly written journal entry forces
// recomputation instead of being masked by a stale cached bundle.
// Undecodable anchor keys are left alone. Returns the number dropped.
func (e *Engine) InvalidateRecent(windowHours int, now time.Time) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	oldest := now.Add(-time.Duration(windowHours) * time.Hour)
	dropped := 0
	for key := range e.cache {
		a, err := ParseKey(key)
		if err != nil {
			continue
		}
		if !a.Start.Before(oldest) && !a.Start.After(now) {
			delete(e.cache, key)
			dropped++
		}
	}
	if dropped > 0 {
		log.Printf("resonance: invalidated %d cached bundles (%dh window)", dropped, windowHours)
	}
	return dropped
}
