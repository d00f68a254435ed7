package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/hexbound/constella/internal/store"
)

func jsonBody(s string) io.Reader { return strings.NewReader(s) }

func TestCreateEntry(t *testing.T) {
	srv, db := testServer(t)

	w := doJSON(t, srv, "POST", "/api/journal/entries",
		`{"text":"I walked along the ocean wall at dusk."}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusCreated, w.Body.String())
	}

	var resp struct {
		ID      string   `json:"id"`
		Symbols []string `json:"symbols"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if resp.ID == "" {
		t.Fatal("expected a generated entry id")
	}

	// Symbols extracted server-side when the request omits them.
	want := map[string]bool{"ocean": true, "wall": true, "dusk": true}
	for _, s := range resp.Symbols {
		delete(want, s)
	}
	if len(want) > 0 {
		t.Errorf("symbols = %v, missing %v", resp.Symbols, want)
	}

	entry, err := db.GetEntry(resp.ID)
	if err != nil {
		t.Fatalf("GetEntry: %v", err)
	}
	if entry == nil {
		t.Fatal("entry not persisted")
	}

	// The embedding lands from a background goroutine.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		entry, err = db.GetEntry(resp.ID)
		if err != nil {
			t.Fatalf("GetEntry: %v", err)
		}
		if len(entry.Embedding) > 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Error("embedding never persisted")
}

func TestCreateEntryKeepsProvidedSymbols(t *testing.T) {
	srv, db := testServer(t)

	w := doJSON(t, srv, "POST", "/api/journal/entries",
		`{"id":"e1","text":"down by the ocean","symbols":["garden"]}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d; body: %s", w.Code, w.Body.String())
	}

	entry, err := db.GetEntry("e1")
	if err != nil {
		t.Fatalf("GetEntry: %v", err)
	}
	if len(entry.Symbols) != 1 || entry.Symbols[0] != "garden" {
		t.Errorf("symbols = %v, want [garden]", entry.Symbols)
	}
}

func TestCreateEntryValidation(t *testing.T) {
	srv, _ := testServer(t)

	if w := doJSON(t, srv, "POST", "/api/journal/entries", `{"text":""}`); w.Code != http.StatusBadRequest {
		t.Errorf("empty text: status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if w := doJSON(t, srv, "POST", "/api/journal/entries", `{not json`); w.Code != http.StatusBadRequest {
		t.Errorf("bad json: status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestListAndGetEntries(t *testing.T) {
	srv, db := testServer(t)

	if err := db.UpsertEntry(&store.JournalEntry{ID: "e1", Text: "first"}); err != nil {
		t.Fatalf("UpsertEntry: %v", err)
	}
	if err := db.UpsertEntry(&store.JournalEntry{ID: "e2", Text: "second", Embedding: []float64{1, 0}}); err != nil {
		t.Fatalf("UpsertEntry: %v", err)
	}

	w := doJSON(t, srv, "GET", "/api/journal/entries", "")
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d", w.Code)
	}
	var list struct {
		Entries []struct {
			ID       string `json:"id"`
			Embedded bool   `json:"embedded"`
		} `json:"entries"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list.Entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(list.Entries))
	}
	for _, e := range list.Entries {
		if e.ID == "e2" && !e.Embedded {
			t.Error("e2 should report embedded")
		}
		if e.ID == "e1" && e.Embedded {
			t.Error("e1 should not report embedded")
		}
	}

	w = doJSON(t, srv, "GET", "/api/journal/entries/e1", "")
	if w.Code != http.StatusOK {
		t.Errorf("get status = %d", w.Code)
	}
	w = doJSON(t, srv, "GET", "/api/journal/entries/missing", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("missing entry: status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestBuildBundleEndpoint(t *testing.T) {
	srv, db := testServer(t)

	// One recent entry with an embedding and an ocean symbol; the unit
	// embedder makes every cosine 1, so the entry clears the floor.
	entry := &store.JournalEntry{
		ID:        "e1",
		Text:      "waves against the ocean wall",
		CreatedAt: time.Now().UnixMilli(),
		Embedding: []float64{1, 0},
	}
	if err := db.UpsertEntry(entry); err != nil {
		t.Fatalf("UpsertEntry: %v", err)
	}

	anchor := fmt.Sprintf("u1|day|UTC|%s", time.Now().UTC().Format("2006-01-02"))
	body := fmt.Sprintf(`{"anchor_key":%q,"headline":"Ocean tides mirror inner currents"}`, anchor)

	w := doJSON(t, srv, "POST", "/api/resonance/bundle", body)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusOK, w.Body.String())
	}

	var bundle struct {
		AnchorKey string  `json:"anchor_key"`
		Threshold float64 `json:"threshold"`
		TopHits   []struct {
			EntryID        string   `json:"entry_id"`
			OverlapSymbols []string `json:"overlap_symbols"`
		} `json:"top_hits"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &bundle); err != nil {
		t.Fatalf("decode bundle: %v", err)
	}
	if bundle.AnchorKey != anchor {
		t.Errorf("anchor_key = %q, want %q", bundle.AnchorKey, anchor)
	}
	if len(bundle.TopHits) != 1 || bundle.TopHits[0].EntryID != "e1" {
		t.Fatalf("top_hits = %+v, want one hit for e1", bundle.TopHits)
	}

	// Alignment decision is now queryable.
	w = doJSON(t, srv, "GET", "/api/resonance/aligned?entry_id=e1&anchor_key="+anchor, "")
	if w.Code != http.StatusOK {
		t.Fatalf("aligned status = %d", w.Code)
	}
	var aligned map[string]bool
	json.Unmarshal(w.Body.Bytes(), &aligned)
	if !aligned["aligned"] {
		t.Error("expected e1 to be aligned")
	}
}

func TestBuildBundleNoEvent(t *testing.T) {
	srv, _ := testServer(t)

	// No journal entries at all: no event, 204.
	anchor := fmt.Sprintf("u1|day|UTC|%s", time.Now().UTC().Format("2006-01-02"))
	body := fmt.Sprintf(`{"anchor_key":%q,"headline":"Ocean tides mirror inner currents"}`, anchor)

	w := doJSON(t, srv, "POST", "/api/resonance/bundle", body)
	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNoContent)
	}
}

func TestBuildBundleValidation(t *testing.T) {
	srv, _ := testServer(t)

	w := doJSON(t, srv, "POST", "/api/resonance/bundle", `{"headline":"no anchor"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestIsAlignedValidation(t *testing.T) {
	srv, _ := testServer(t)

	w := doJSON(t, srv, "GET", "/api/resonance/aligned?entry_id=e1", "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestInvalidateEndpoint(t *testing.T) {
	srv, _ := testServer(t)

	w := doJSON(t, srv, "POST", "/api/resonance/invalidate", `{"window_hours":48}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp map[string]int
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := resp["dropped"]; !ok {
		t.Error("expected dropped count in response")
	}
}

func TestGraphEndpoints(t *testing.T) {
	srv, db := testServer(t)

	now := time.Now().UnixMilli()
	for _, e := range []*store.JournalEntry{
		{ID: "a", Text: "a", CreatedAt: now, Embedding: []float64{1, 0}},
		{ID: "b", Text: "b", CreatedAt: now, Embedding: []float64{0.9, 0.43588989435}},
	} {
		if err := db.UpsertEntry(e); err != nil {
			t.Fatalf("UpsertEntry: %v", err)
		}
	}

	w := doJSON(t, srv, "POST", "/api/graph/rebuild", "")
	if w.Code != http.StatusOK {
		t.Fatalf("rebuild status = %d; body: %s", w.Code, w.Body.String())
	}
	var rebuilt struct {
		Nodes int `json:"nodes"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &rebuilt); err != nil {
		t.Fatalf("decode rebuild: %v", err)
	}
	if rebuilt.Nodes != 2 {
		t.Errorf("nodes = %d, want 2", rebuilt.Nodes)
	}

	w = doJSON(t, srv, "GET", "/api/graph/neighbors/a", "")
	if w.Code != http.StatusOK {
		t.Fatalf("neighbors status = %d", w.Code)
	}
	var nresp struct {
		Neighbors []struct {
			ID string `json:"id"`
		} `json:"neighbors"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &nresp); err != nil {
		t.Fatalf("decode neighbors: %v", err)
	}
	if len(nresp.Neighbors) != 1 || nresp.Neighbors[0].ID != "b" {
		t.Errorf("neighbors = %+v, want [b]", nresp.Neighbors)
	}

	// Unknown node: empty list, not null and not an error.
	w = doJSON(t, srv, "GET", "/api/graph/neighbors/zzz", "")
	if w.Code != http.StatusOK {
		t.Fatalf("unknown neighbors status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"neighbors":[]`) {
		t.Errorf("unknown node should return an empty list; body: %s", w.Body.String())
	}

	w = doJSON(t, srv, "GET", "/api/graph/coordinate/a", "")
	if w.Code != http.StatusOK {
		t.Errorf("coordinate status = %d", w.Code)
	}
	w = doJSON(t, srv, "GET", "/api/graph/coordinate/zzz", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("missing coordinate status = %d, want %d", w.Code, http.StatusNotFound)
	}
}
