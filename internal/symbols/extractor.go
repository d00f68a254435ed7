// Package symbols implements lexicon-based symbol extraction from free
// text, plus a static rule table mapping symbol combinations to coarse
// themes. Both are data-driven: extending the lexicon or the theme table
// never touches scoring logic.
package symbols

import (
	"sort"
	"strings"
)

// lexicon is the fixed set of symbol phrases the extractor recognizes.
// Multi-word phrases are listed alongside their components; matching is
// longest-phrase-first so "full moon" is never fragmented into "moon".
var lexicon = []string{
	// celestial
	"new moon", "full moon", "eclipse", "moon", "sun", "star", "comet",
	"dawn", "dusk", "horizon", "sky", "cloud", "storm", "lightning",
	"rainbow", "tide", "season",
	// water
	"ocean", "sea", "river", "rain", "flood", "wave", "current", "ice",
	"mist", "well", "spring",
	// earth and structure
	"mountain", "valley", "cave", "stone", "wall", "bridge", "door",
	"gate", "key", "tower", "house", "home", "foundation", "renovation",
	"construction", "building", "ruin", "path", "road", "crossroads",
	"threshold", "labyrinth", "garden", "seed", "root", "tree", "forest",
	"harvest", "soil",
	// fire and light
	"fire", "flame", "ember", "ash", "candle", "lantern", "shadow",
	"mirror", "light", "darkness",
	// passage
	"journey", "voyage", "return", "departure", "letting go", "rebirth",
	"awakening", "descent", "ascent", "circle", "spiral", "knot",
	"anchor", "compass", "map", "wind", "feather", "wing", "nest", "egg",
	"cocoon", "mask", "veil", "echo", "silence", "song", "dance",
}

// ThemeRule maps a combination of symbols to a coarse theme label.
// The rule fires when every listed symbol is present in the set.
type ThemeRule struct {
	Symbols []string
	Theme   string
}

// themeRules is a static, explicit lookup — not learned. Earlier rules win.
var themeRules = []ThemeRule{
	{Symbols: []string{"renovation", "construction", "building"}, Theme: "rebuilding/change"},
	{Symbols: []string{"ocean", "tide"}, Theme: "emotional currents"},
	{Symbols: []string{"seed", "garden"}, Theme: "growth/beginnings"},
	{Symbols: []string{"door", "key"}, Theme: "opportunity/access"},
	{Symbols: []string{"fire", "ash"}, Theme: "transformation"},
	{Symbols: []string{"mirror", "shadow"}, Theme: "self-reflection"},
	{Symbols: []string{"journey", "crossroads"}, Theme: "decision/direction"},
	{Symbols: []string{"wall", "bridge"}, Theme: "barriers/connection"},
	{Symbols: []string{"letting go", "harvest"}, Theme: "release/completion"},
	{Symbols: []string{"cocoon", "rebirth"}, Theme: "renewal"},
}

// byLength holds the lexicon sorted longest-first, built once at init.
var byLength []string

func init() {
	byLength = make([]string, len(lexicon))
	copy(byLength, lexicon)
	sort.SliceStable(byLength, func(i, j int) bool {
		return len(byLength[i]) > len(byLength[j])
	})
}

// Extractor matches lexicon symbols in free text.
type Extractor struct {
	maxSymbols int
}

// NewExtractor creates an extractor that returns at most maxSymbols symbols
// per text. A non-positive max falls back to 12.
func NewExtractor(maxSymbols int) *Extractor {
	if maxSymbols <= 0 {
		maxSymbols = 12
	}
	return &Extractor{maxSymbols: maxSymbols}
}

// Extract lower-cases the text and returns the matched symbols, longest
// phrases first, duplicates collapsed, capped at the configured maximum.
// Matched regions are blanked so a shorter symbol never re-matches inside
// a longer phrase ("full moon" claims its span before "moon" runs).
func (e *Extractor) Extract(text string) []string {
	if text == "" {
		return nil
	}
	lowered := strings.ToLower(text)
	buf := []byte(lowered)

	var found []string
	seen := make(map[string]bool)

	for _, phrase := range byLength {
		if len(found) >= e.maxSymbols {
			break
		}
		idx := indexWord(buf, phrase)
		if idx < 0 {
			continue
		}
		for i := idx; i < idx+len(phrase); i++ {
			buf[i] = ' '
		}
		if !seen[phrase] {
			seen[phrase] = true
			found = append(found, phrase)
		}
	}

	return found
}

// indexWord finds phrase in buf at a word boundary, or -1.
func indexWord(buf []byte, phrase string) int {
	s := string(buf)
	from := 0
	for {
		i := strings.Index(s[from:], phrase)
		if i < 0 {
			return -1
		}
		i += from
		if boundaryAt(s, i, len(phrase)) {
			return i
		}
		from = i + 1
	}
}

// boundaryAt reports whether s[i:i+n] starts and ends on a word boundary.
func boundaryAt(s string, i, n int) bool {
	if i > 0 && isWordChar(s[i-1]) {
		return false
	}
	if end := i + n; end < len(s) && isWordChar(s[end]) {
		return false
	}
	return true
}

func isWordChar(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9')
}

// Overlap returns the symbols present in both sets, preserving the order
// of the first set.
func Overlap(a, b []string) []string {
	if len(a) == 0 || len(b) == 0 {
		return nil
	}
	inB := make(map[string]bool, len(b))
	for _, s := range b {
		inB[s] = true
	}
	var out []string
	for _, s := range a {
		if inB[s] {
			out = append(out, s)
		}
	}
	return out
}

// Theme returns the coarse theme for a symbol set, if any rule fires.
func Theme(set []string) (string, bool) {
	present := make(map[string]bool, len(set))
	for _, s := range set {
		present[s] = true
	}
	for _, rule := range themeRules {
		all := true
		for _, want := range rule.Symbols {
			if !present[want] {
				all = false
				break
			}
		}
		if all {
			return rule.Theme, true
		}
	}
	return "", false
}
