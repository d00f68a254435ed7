package embed

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"
)

const (
	// maxChunkChars is the per-chunk size limit. Texts longer than this are
	// split and their chunk vectors recombined by length-weighted average.
	maxChunkChars = 800
	// maxChunks bounds how many chunks a single text may produce; anything
	// past the limit is folded into the final chunk.
	maxChunks = 4

	defaultMaxAttempts = 5
	defaultBaseDelay   = 300 * time.Millisecond
	defaultMaxDelay    = 5 * time.Second
	defaultJitter      = 100 * time.Millisecond
)

// Adapter wraps an Embedder with long-text chunking and retry with
// exponential backoff. After retries are exhausted the provider error
// propagates to the caller — a failed embed is "unscoreable", never a
// zero vector.
type Adapter struct {
	inner       Embedder
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
	jitter      time.Duration

	// sleep is swapped out in tests to avoid real backoff waits.
	sleep func(time.Duration)
}

// NewAdapter wraps inner with the default chunking and retry policy.
func NewAdapter(inner Embedder) *Adapter {
	return &Adapter{
		inner:       inner,
		maxAttempts: defaultMaxAttempts,
		baseDelay:   defaultBaseDelay,
		maxDelay:    defaultMaxDelay,
		jitter:      defaultJitter,
		sleep:       time.Sleep,
	}
}

func (a *Adapter) Model() string   { return a.inner.Model() }
func (a *Adapter) Dimensions() int { return a.inner.Dimensions() }

// Embed embeds a single text, chunking it if needed.
func (a *Adapter) Embed(ctx context.Context, text string) ([]float64, error) {
	vecs, err := a.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds a batch of texts, order preserving. Each over-limit
// text is split into chunks; all chunks across the batch go to the
// provider in one call, then per-text vectors are recombined.
func (a *Adapter) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	var flat []string
	spans := make([][2]int, len(texts)) // [start, end) into flat per input
	for i, text := range texts {
		chunks := splitChunks(text)
		spans[i] = [2]int{len(flat), len(flat) + len(chunks)}
		flat = append(flat, chunks...)
	}

	chunkVecs, err := a.embedWithRetry(ctx, flat)
	if err != nil {
		return nil, err
	}

	out := make([][]float64, len(texts))
	for i, span := range spans {
		out[i] = combineChunks(flat[span[0]:span[1]], chunkVecs[span[0]:span[1]])
	}
	return out, nil
}

// embedWithRetry calls the inner embedder with exponential backoff plus
// random jitter, so parallel callers hitting a flaky provider don't all
// retry in lockstep.
func (a *Adapter) embedWithRetry(ctx context.Context, texts []string) ([][]float64, error) {
	var lastErr error
	delay := a.baseDelay

	for attempt := 1; attempt <= a.maxAttempts; attempt++ {
		vecs, err := a.inner.EmbedBatch(ctx, texts)
		if err == nil {
			return vecs, nil
		}
		lastErr = err

		if attempt == a.maxAttempts {
			break
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		wait := delay + time.Duration(rand.Int63n(int64(2*a.jitter))) - a.jitter
		if wait < 0 {
			wait = 0
		}
		a.sleep(wait)

		delay *= 2
		if delay > a.maxDelay {
			delay = a.maxDelay
		}
	}

	return nil, fmt.Errorf("embed after %d attempts: %w", a.maxAttempts, lastErr)
}

// splitChunks splits text on sentence-ending punctuation and newlines into
// at most maxChunks pieces of roughly maxChunkChars each. Short texts pass
// through as a single chunk.
func splitChunks(text string) []string {
	if len(text) <= maxChunkChars {
		return []string{text}
	}

	sentences := splitSentences(text)

	var chunks []string
	var current strings.Builder
	for _, s := range sentences {
		if current.Len() > 0 && current.Len()+len(s) > maxChunkChars {
			chunks = append(chunks, current.String())
			current.Reset()
		}
		current.WriteString(s)
	}
	if current.Len() > 0 {
		chunks = append(chunks, current.String())
	}

	// Fold any overflow into the final chunk
	if len(chunks) > maxChunks {
		tail := strings.Join(chunks[maxChunks-1:], "")
		chunks = append(chunks[:maxChunks-1], tail)
	}
	return chunks
}

// splitSentences breaks text after '.', '!', '?' or '\n', keeping the
// terminator with the preceding sentence.
func splitSentences(text string) []string {
	var out []string
	start := 0
	for i := 0; i < len(text); i++ {
		switch text[i] {
		case '.', '!', '?', '\n':
			out = append(out, text[start:i+1])
			start = i + 1
		}
	}
	if start < len(text) {
		out = append(out, text[start:])
	}
	return out
}

// combineChunks merges chunk vectors into one via character-length-weighted
// averaging: longer chunks contribute proportionally more.
func combineChunks(chunks []string, vecs [][]float64) []float64 {
	if len(vecs) == 0 {
		return nil
	}
	if len(vecs) == 1 {
		return vecs[0]
	}

	dims := len(vecs[0])
	combined := make([]float64, dims)
	var totalChars float64

	for i, vec := range vecs {
		weight := float64(len(chunks[i]))
		if weight == 0 {
			continue
		}
		totalChars += weight
		for d := 0; d < dims && d < len(vec); d++ {
			combined[d] += vec[d] * weight
		}
	}
	if totalChars == 0 {
		return vecs[0]
	}
	for d := range combined {
		combined[d] /= totalChars
	}
	return combined
}
