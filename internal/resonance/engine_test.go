package resonance

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/hexbound/constella/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEmbedder returns canned vectors by text and counts provider calls so
// tests can assert the cache short-circuits embedding.
type fakeEmbedder struct {
	vectors map[string][]float64
	calls   int
	fail    bool
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	vecs, err := f.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (f *fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float64, error) {
	f.calls++
	if f.fail {
		return nil, errors.New("provider down")
	}
	out := make([][]float64, len(texts))
	for i, t := range texts {
		vec, ok := f.vectors[t]
		if !ok {
			vec = []float64{1, 0}
		}
		out[i] = vec
	}
	return out, nil
}

func (f *fakeEmbedder) Model() string   { return "fake" }
func (f *fakeEmbedder) Dimensions() int { return 2 }

var testNow = time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)

const testAnchor = "u1|day|UTC|2026-08-20"

func testConfig() Config {
	return Config{
		LookbackDays: 14,
		MinThreshold: 0.5,
	}
}

// entryWithVec builds a scoreable entry created at the given instant.
func entryWithVec(id, text string, createdAt time.Time, vec []float64) store.JournalEntry {
	return store.JournalEntry{
		ID:        id,
		CreatedAt: createdAt.UnixMilli(),
		Text:      text,
		Embedding: vec,
	}
}

func TestBuildBundleAlignmentEvent(t *testing.T) {
	// Horoscope "Ocean tides mirror inner currents", one entry from today
	// containing "ocean" and "wall", cosine 0.9, history below 10 samples:
	// threshold stays at the 0.5 floor, score ~0.9, overlap ["ocean"].
	e := New(&fakeEmbedder{}, testConfig())

	horoVec := []float64{1, 0}
	entryVec := []float64{0.9, 0.43588989435}

	entry := entryWithVec("e1", "I sat by the ocean near the old wall.", testNow, entryVec)
	bundle := e.BuildBundle(context.Background(), testAnchor, "Ocean tides mirror inner currents", "", horoVec, []store.JournalEntry{entry}, testNow)

	require.NotNil(t, bundle, "expected an alignment event")
	assert.True(t, bundle.IsAlignmentEvent())
	assert.InDelta(t, 0.5, bundle.Threshold, 1e-9)

	require.Len(t, bundle.TopHits, 1)
	hit := bundle.TopHits[0]
	assert.Equal(t, "e1", hit.EntryID)
	assert.InDelta(t, 0.9, hit.Score, 1e-6) // decay(0) == 1
	assert.Equal(t, []string{"ocean"}, hit.OverlapSymbols)
}

func TestBuildBundleEntryOutsideLookback(t *testing.T) {
	// Same setup but the entry is 40 days old with a 14-day lookback:
	// excluded before scoring, no bundle at all.
	e := New(&fakeEmbedder{}, testConfig())

	entry := entryWithVec("e1", "I sat by the ocean near the old wall.",
		testNow.AddDate(0, 0, -40), []float64{0.9, 0.43588989435})
	bundle := e.BuildBundle(context.Background(), testAnchor, "Ocean tides mirror inner currents", "", []float64{1, 0}, []store.JournalEntry{entry}, testNow)

	assert.Nil(t, bundle)
	assert.Nil(t, e.LastBundle(testAnchor), "nothing scored, nothing stored")
}

func TestBuildBundleRequiresSymbolOverlap(t *testing.T) {
	// High score but no shared symbols: no hit, bundle stored internally
	// as a non-event.
	e := New(&fakeEmbedder{}, testConfig())

	entry := entryWithVec("e1", "Completely unrelated words here.", testNow, []float64{1, 0})
	bundle := e.BuildBundle(context.Background(), testAnchor, "Ocean tides mirror inner currents", "", []float64{1, 0}, []store.JournalEntry{entry}, testNow)

	assert.Nil(t, bundle)
	last := e.LastBundle(testAnchor)
	require.NotNil(t, last, "non-event bundle is still recorded")
	assert.Empty(t, last.TopHits)
	assert.False(t, last.IsAlignmentEvent())
}

func TestBuildBundleCacheWindow(t *testing.T) {
	fake := &fakeEmbedder{vectors: map[string][]float64{
		"Ocean tides mirror inner currents\n": {1, 0},
	}}
	e := New(fake, testConfig())

	entry := entryWithVec("e1", "ocean and wall", testNow, []float64{0.9, 0.43588989435})
	entries := []store.JournalEntry{entry}

	first := e.BuildBundle(context.Background(), testAnchor, "Ocean tides mirror inner currents", "", nil, entries, testNow)
	require.NotNil(t, first)
	assert.Equal(t, 1, fake.calls, "one provider call to embed the horoscope")

	// Second call inside 24h: identical decision, no embedding requests.
	second := e.BuildBundle(context.Background(), testAnchor, "Ocean tides mirror inner currents", "", nil, entries, testNow.Add(6*time.Hour))
	require.NotNil(t, second)
	assert.Same(t, first, second)
	assert.Equal(t, 1, fake.calls)

	// After the window expires the engine recomputes.
	third := e.BuildBundle(context.Background(), testAnchor, "Ocean tides mirror inner currents", "", nil, entries, testNow.Add(25*time.Hour))
	require.NotNil(t, third)
	assert.NotSame(t, first, third)
	assert.Equal(t, 2, fake.calls)
}

func TestBuildBundleCachedNonEventStaysNonEvent(t *testing.T) {
	e := New(&fakeEmbedder{}, testConfig())

	entry := entryWithVec("e1", "nothing in common", testNow, []float64{1, 0})
	entries := []store.JournalEntry{entry}

	first := e.BuildBundle(context.Background(), testAnchor, "Ocean tides mirror inner currents", "", []float64{1, 0}, entries, testNow)
	assert.Nil(t, first)

	// Even with a now-matching entry the cached non-event answers.
	better := entryWithVec("e2", "the ocean again", testNow, []float64{1, 0})
	second := e.BuildBundle(context.Background(), testAnchor, "Ocean tides mirror inner currents", "", []float64{1, 0}, append(entries, better), testNow.Add(time.Hour))
	assert.Nil(t, second)
}

func TestBuildBundleResolvesHoroscopeEmbedding(t *testing.T) {
	fake := &fakeEmbedder{vectors: map[string][]float64{
		"Ocean tides mirror inner currents\n": {1, 0},
	}}
	e := New(fake, testConfig())

	entry := entryWithVec("e1", "ocean wall", testNow, []float64{0.9, 0.43588989435})
	bundle := e.BuildBundle(context.Background(), testAnchor, "Ocean tides mirror inner currents", "", nil, []store.JournalEntry{entry}, testNow)

	require.NotNil(t, bundle)
	assert.Equal(t, []float64{1, 0}, bundle.Embedding)
}

func TestBuildBundleEmbedFailureDegradesToNoEvent(t *testing.T) {
	e := New(&fakeEmbedder{fail: true}, testConfig())

	entry := entryWithVec("e1", "ocean wall", testNow, nil)
	bundle := e.BuildBundle(context.Background(), testAnchor, "Ocean tides mirror inner currents", "", nil, []store.JournalEntry{entry}, testNow)

	assert.Nil(t, bundle)
}

func TestBuildBundleDropsUnembeddableEntries(t *testing.T) {
	// Entry embedding fails: the entry is dropped, not scored as zero.
	e := New(&fakeEmbedder{fail: true}, testConfig())

	entry := entryWithVec("e1", "ocean wall", testNow, nil)
	bundle := e.BuildBundle(context.Background(), testAnchor, "Ocean tides mirror inner currents", "", []float64{1, 0}, []store.JournalEntry{entry}, testNow)

	assert.Nil(t, bundle)
	assert.Nil(t, e.LastBundle(testAnchor), "no scoreable entries means no recorded bundle")
	assert.Empty(t, e.histories[testAnchor], "dropped entries contribute no history samples")
}

func TestDynamicThresholdNeverBelowFloor(t *testing.T) {
	e := New(&fakeEmbedder{}, testConfig())

	// A long history of weak scores must not pull the threshold under
	// the configured floor.
	weak := make([]float64, 40)
	for i := range weak {
		weak[i] = 0.05
	}
	e.histories[testAnchor] = weak

	entry := entryWithVec("e1", "ocean wall", testNow, []float64{0.9, 0.43588989435})
	bundle := e.BuildBundle(context.Background(), testAnchor, "Ocean tides mirror inner currents", "", []float64{1, 0}, []store.JournalEntry{entry}, testNow)

	require.NotNil(t, bundle)
	assert.GreaterOrEqual(t, bundle.Threshold, 0.5)
}

func TestDynamicThresholdUsesPercentile(t *testing.T) {
	e := New(&fakeEmbedder{}, testConfig())

	// History of strong scores raises the bar above the floor.
	strong := make([]float64, 20)
	for i := range strong {
		strong[i] = 0.95
	}
	e.histories[testAnchor] = strong

	entry := entryWithVec("e1", "ocean wall", testNow, []float64{0.9, 0.43588989435})
	bundle := e.BuildBundle(context.Background(), testAnchor, "Ocean tides mirror inner currents", "", []float64{1, 0}, []store.JournalEntry{entry}, testNow)

	// Score 0.9 < P90 of the 0.95 history: no event, but the non-event
	// bundle records the raised threshold.
	assert.Nil(t, bundle)
	last := e.LastBundle(testAnchor)
	require.NotNil(t, last)
	assert.InDelta(t, 0.95, last.Threshold, 1e-9)
}

func TestHistoryCap(t *testing.T) {
	e := New(&fakeEmbedder{}, testConfig())

	full := make([]float64, historyCap)
	for i := range full {
		full[i] = 0.3
	}
	e.histories[testAnchor] = full

	entry := entryWithVec("e1", "ocean wall", testNow, []float64{0.9, 0.43588989435})
	e.BuildBundle(context.Background(), testAnchor, "Ocean tides mirror inner currents", "", []float64{1, 0}, []store.JournalEntry{entry}, testNow)

	hist := e.histories[testAnchor]
	assert.Len(t, hist, historyCap, "history must stay capped")
	// Newest sample survives, oldest was trimmed
	assert.InDelta(t, 0.9, hist[len(hist)-1], 1e-6)
}

func TestTopHitsBoundedAndSorted(t *testing.T) {
	e := New(&fakeEmbedder{}, testConfig())

	mk := func(id string, x float64) store.JournalEntry {
		return entryWithVec(id, "by the ocean", testNow, []float64{x, math.Sqrt(1 - x*x)})
	}
	entries := []store.JournalEntry{
		mk("a", 0.70), mk("b", 0.95), mk("c", 0.80), mk("d", 0.90), mk("e", 0.60),
	}

	bundle := e.BuildBundle(context.Background(), testAnchor, "Ocean tides mirror inner currents", "", []float64{1, 0}, entries, testNow)
	require.NotNil(t, bundle)
	require.LessOrEqual(t, len(bundle.TopHits), 3)

	for i := 0; i < len(bundle.TopHits)-1; i++ {
		assert.GreaterOrEqual(t, bundle.TopHits[i].Score, bundle.TopHits[i+1].Score, "hits must be sorted descending")
	}
	assert.Equal(t, "b", bundle.TopHits[0].EntryID)
	for _, h := range bundle.TopHits {
		assert.NotEmpty(t, h.OverlapSymbols)
	}
}

func TestStoredSymbolsWinOverExtraction(t *testing.T) {
	e := New(&fakeEmbedder{}, testConfig())

	// Entry text mentions the ocean, but its stored symbol set does not.
	entry := entryWithVec("e1", "down by the ocean", testNow, []float64{1, 0})
	entry.Symbols = []string{"garden"}

	bundle := e.BuildBundle(context.Background(), testAnchor, "Ocean tides mirror inner currents", "", []float64{1, 0}, []store.JournalEntry{entry}, testNow)
	assert.Nil(t, bundle, "stored symbols take precedence, so there is no overlap")
}

func TestIsAligned(t *testing.T) {
	e := New(&fakeEmbedder{}, testConfig())

	entry := entryWithVec("e1", "ocean wall", testNow, []float64{0.9, 0.43588989435})
	bundle := e.BuildBundle(context.Background(), testAnchor, "Ocean tides mirror inner currents", "", []float64{1, 0}, []store.JournalEntry{entry}, testNow)
	require.NotNil(t, bundle)

	assert.True(t, e.IsAligned("e1", testAnchor))
	assert.False(t, e.IsAligned("e2", testAnchor))
	assert.False(t, e.IsAligned("e1", "u2|day|UTC|2026-08-20"))
}

func TestInvalidateRecent(t *testing.T) {
	e := New(&fakeEmbedder{}, testConfig())

	entry := entryWithVec("e1", "ocean wall", testNow, []float64{0.9, 0.43588989435})
	entries := []store.JournalEntry{entry}

	require.NotNil(t, e.BuildBundle(context.Background(), testAnchor, "Ocean tides mirror inner currents", "", []float64{1, 0}, entries, testNow))

	// An anchor whose start is outside the window stays cached.
	oldAnchor := "u1|day|UTC|2026-07-01"
	e.BuildBundle(context.Background(), oldAnchor, "Ocean tides mirror inner currents", "", []float64{1, 0}, entries, testNow)

	dropped := e.InvalidateRecent(48, testNow)
	assert.Equal(t, 1, dropped)

	_, stillCached := e.cache[testAnchor]
	assert.False(t, stillCached, "recent anchor must be invalidated")
	_, oldCached := e.cache[oldAnchor]
	assert.True(t, oldCached, "anchor outside the window keeps its cache")

	// Last bundle survives invalidation; only the cache is dropped.
	assert.True(t, e.IsAligned("e1", testAnchor))
}

func TestInvalidateRecentSkipsUndecodableKeys(t *testing.T) {
	e := New(&fakeEmbedder{}, testConfig())
	e.cache["not-an-anchor"] = cachedBundle{bundle: &Bundle{}, created: testNow}

	dropped := e.InvalidateRecent(48, testNow)
	assert.Zero(t, dropped)
	_, ok := e.cache["not-an-anchor"]
	assert.True(t, ok)
}
