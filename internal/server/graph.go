package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hexbound/constella/internal/constellation"
)

func (s *Server) handleGraphRebuild(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	since := now.AddDate(0, 0, -s.cfg.Graph.WindowDays).UnixMilli()
	entries, err := s.db.EntriesSince(since)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if err := s.graph.Rebuild(entries, now); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status": "rebuilt",
		"nodes":  s.graph.NodeCount(),
	})
}

func (s *Server) handleNeighbors(w http.ResponseWriter, r *http.Request) {
	nodeID := chi.URLParam(r, "nodeID")

	neighbors := s.graph.Neighbors(nodeID)
	if neighbors == nil {
		neighbors = []constellation.Neighbor{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"node_id":   nodeID,
		"neighbors": neighbors,
	})
}

func (s *Server) handleCoordinate(w http.ResponseWriter, r *http.Request) {
	nodeID := chi.URLParam(r, "nodeID")

	point, ok := s.graph.Coordinate(nodeID)
	if !ok {
		writeError(w, http.StatusNotFound, "no coordinate for node")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"node_id": nodeID,
		"x":       point.X,
		"y":       point.Y,
	})
}
