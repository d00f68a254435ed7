package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hexbound/constella/internal/config"
	"github.com/hexbound/constella/internal/constellation"
	"github.com/hexbound/constella/internal/embed"
	"github.com/hexbound/constella/internal/resonance"
	"github.com/hexbound/constella/internal/store"
	"github.com/hexbound/constella/internal/symbols"
)

// Server is the constella HTTP API server.
type Server struct {
	db        *store.DB
	engine    *resonance.Engine
	graph     *constellation.Graph
	embedder  embed.Embedder
	extractor *symbols.Extractor
	cfg       config.Config
	router    chi.Router
	version   string
	started   time.Time
}

// New creates a new Server wired to the resonance engine, constellation
// graph, and journal store.
func New(db *store.DB, engine *resonance.Engine, graph *constellation.Graph, embedder embed.Embedder, cfg config.Config, version string) *Server {
	s := &Server{
		db:        db,
		engine:    engine,
		graph:     graph,
		embedder:  embedder,
		extractor: symbols.NewExtractor(cfg.Resonance.MaxSymbols),
		cfg:       cfg,
		version:   version,
		started:   time.Now(),
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Post("/journal/entries", s.handleCreateEntry)
		r.Get("/journal/entries", s.handleListEntries)
		r.Get("/journal/entries/{entryID}", s.handleGetEntry)

		r.Post("/resonance/bundle", s.handleBuildBundle)
		r.Get("/resonance/aligned", s.handleIsAligned)
		r.Post("/resonance/invalidate", s.handleInvalidate)

		r.Post("/graph/rebuild", s.handleGraphRebuild)
		r.Get("/graph/neighbors/{nodeID}", s.handleNeighbors)
		r.Get("/graph/coordinate/{nodeID}", s.handleCoordinate)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	dbOK := true
	if err := s.db.Ping(); err != nil {
		dbOK = false
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"version":  s.version,
		"uptime":   time.Since(s.started).Seconds(),
		"db":       dbOK,
		"db_path":  s.db.Path,
		"embedder": s.embedder.Model(),
		"nodes":    s.graph.NodeCount(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
