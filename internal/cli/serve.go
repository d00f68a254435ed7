package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hexbound/constella/internal/config"
	"github.com/hexbound/constella/internal/constellation"
	"github.com/hexbound/constella/internal/embed"
	"github.com/hexbound/constella/internal/resonance"
	"github.com/hexbound/constella/internal/server"
	"github.com/hexbound/constella/internal/store"
	"github.com/spf13/cobra"
)

var serveConfigPath string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveConfigPath, "config", "", "Path to YAML config file")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(serveConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Resolve database path
	dbPath := cfg.Database.Path
	if dbPath == "" {
		dbPath, err = store.DefaultDBPath()
		if err != nil {
			return fmt.Errorf("resolve db path: %w", err)
		}
	}

	db, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	embedder, err := buildEmbedder(db, cfg)
	if err != nil {
		return fmt.Errorf("configure embedder: %w", err)
	}

	eng := resonance.New(embedder, resonance.Config{
		LookbackDays:        cfg.Resonance.LookbackDays,
		TauDays:             cfg.Resonance.TauDays,
		ThresholdPercentile: cfg.Resonance.ThresholdPercentile,
		MinThreshold:        cfg.Resonance.MinThreshold,
		MaxSymbols:          cfg.Resonance.MaxSymbols,
		MaxOverlapSymbols:   cfg.Resonance.MaxOverlapSymbols,
		CacheHours:          cfg.Resonance.CacheHours,
	})
	eng.LoadState(db)

	graph := constellation.New(db, constellation.Config{
		TopK:          cfg.Graph.TopK,
		EdgeThreshold: cfg.Graph.EdgeThreshold,
		TauDays:       cfg.Graph.TauDays,
		WindowDays:    cfg.Graph.WindowDays,
		MaxNodes:      cfg.Graph.MaxNodes,
	})
	graph.Load()

	// Embed any entries missing vectors
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if n, err := embedMissing(ctx, db, embedder); err != nil {
			fmt.Fprintf(os.Stderr, "embed missing: %v\n", err)
		} else if n > 0 {
			fmt.Fprintf(os.Stderr, "  embedded %d missing entries\n", n)
		}
	}()

	srv := server.New(db, eng, graph, embedder, cfg, VersionString())
	addr := cfg.ListenAddr()

	httpServer := &http.Server{
		Addr:    addr,
		Handler: srv,
	}

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		fmt.Fprintf(os.Stderr, "constella serving on %s\n", addr)
		fmt.Fprintf(os.Stderr, "  db: %s\n", dbPath)
		fmt.Fprintf(os.Stderr, "  embedder: %s\n", embedder.Model())
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Fprintf(os.Stderr, "server error: %v\n", err)
			os.Exit(1)
		}
	}()

	<-done
	fmt.Fprintln(os.Stderr, "\nshutting down...")

	if err := eng.SaveState(db); err != nil {
		fmt.Fprintf(os.Stderr, "save resonance state: %v\n", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return httpServer.Shutdown(ctx)
}

// buildEmbedder probes Ollama and falls back to TF-IDF when it is not
// reachable, so the engine still works offline.
func buildEmbedder(db *store.DB, cfg config.Config) (embed.Embedder, error) {
	if embed.ProbeOllama(cfg.Embedding.OllamaURL, cfg.Embedding.Model) {
		inner := embed.NewOllamaEmbedder(cfg.Embedding.OllamaURL, cfg.Embedding.Model, cfg.Embedding.Dimensions)
		return embed.NewAdapter(inner), nil
	}

	fmt.Fprintf(os.Stderr, "  ollama unreachable at %s, using tfidf fallback\n", cfg.Embedding.OllamaURL)
	tfidf, err := embed.NewTFIDFEmbedder(db, 512)
	if err != nil {
		return nil, err
	}
	return embed.NewAdapter(tfidf), nil
}
