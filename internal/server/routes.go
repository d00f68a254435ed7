package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hexbound/constella/internal/store"
)

func (s *Server) handleCreateEntry(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID        string   `json:"id"`
		Text      string   `json:"text"`
		CreatedAt int64    `json:"created_at"`
		Symbols   []string `json:"symbols"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "text required")
		return
	}

	entry := &store.JournalEntry{
		ID:        req.ID,
		CreatedAt: req.CreatedAt,
		Text:      req.Text,
		Symbols:   req.Symbols,
	}
	if entry.Symbols == nil {
		entry.Symbols = s.extractor.Extract(entry.Text)
	}

	if err := s.db.UpsertEntry(entry); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	// A new entry inside the invalidation window must not be masked by a
	// stale cached bundle.
	s.engine.InvalidateRecent(s.cfg.Resonance.InvalidateHours, time.Now())

	// Embed in the background; the entry stays unscoreable until it lands.
	go func(id, text string) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		vec, err := s.embedder.Embed(ctx, text)
		if err != nil {
			log.Printf("server: embed entry %s: %v", id, err)
			return
		}
		if err := s.db.SaveEmbedding(id, vec, s.embedder.Model()); err != nil {
			log.Printf("server: save embedding %s: %v", id, err)
		}
	}(entry.ID, entry.Text)

	writeJSON(w, http.StatusCreated, map[string]any{
		"id":         entry.ID,
		"created_at": entry.CreatedAt,
		"symbols":    entry.Symbols,
	})
}

func (s *Server) handleListEntries(w http.ResponseWriter, r *http.Request) {
	entries, err := s.db.AllEntries()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	type entryView struct {
		ID        string   `json:"id"`
		CreatedAt int64    `json:"created_at"`
		Text      string   `json:"text"`
		Symbols   []string `json:"symbols,omitempty"`
		Embedded  bool     `json:"embedded"`
	}
	views := make([]entryView, 0, len(entries))
	for _, e := range entries {
		views = append(views, entryView{
			ID:        e.ID,
			CreatedAt: e.CreatedAt,
			Text:      e.Text,
			Symbols:   e.Symbols,
			Embedded:  len(e.Embedding) > 0,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": views})
}

func (s *Server) handleGetEntry(w http.ResponseWriter, r *http.Request) {
	entry, err := s.db.GetEntry(chi.URLParam(r, "entryID"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if entry == nil {
		writeError(w, http.StatusNotFound, "entry not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":         entry.ID,
		"created_at": entry.CreatedAt,
		"text":       entry.Text,
		"symbols":    entry.Symbols,
		"embedded":   len(entry.Embedding) > 0,
		"model":      entry.Model,
	})
}

func (s *Server) handleBuildBundle(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AnchorKey string    `json:"anchor_key"`
		Headline  string    `json:"headline"`
		Summary   string    `json:"summary"`
		Embedding []float64 `json:"embedding"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.AnchorKey == "" || req.Headline == "" {
		writeError(w, http.StatusBadRequest, "anchor_key and headline required")
		return
	}

	now := time.Now()
	since := now.AddDate(0, 0, -s.cfg.Resonance.LookbackDays).UnixMilli()
	entries, err := s.db.EntriesSince(since)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	bundle := s.engine.BuildBundle(r.Context(), req.AnchorKey, req.Headline, req.Summary, req.Embedding, entries, now)
	if bundle == nil {
		// Computed (or cached) but no alignment event.
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, bundle)
}

func (s *Server) handleIsAligned(w http.ResponseWriter, r *http.Request) {
	entryID := r.URL.Query().Get("entry_id")
	anchorKey := r.URL.Query().Get("anchor_key")
	if entryID == "" || anchorKey == "" {
		writeError(w, http.StatusBadRequest, "entry_id and anchor_key required")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{
		"aligned": s.engine.IsAligned(entryID, anchorKey),
	})
}

func (s *Server) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		WindowHours int `json:"window_hours"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.WindowHours <= 0 {
		req.WindowHours = s.cfg.Resonance.InvalidateHours
	}

	dropped := s.engine.InvalidateRecent(req.WindowHours, time.Now())
	writeJSON(w, http.StatusOK, map[string]int{"dropped": dropped})
}
