package cli

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/hexbound/constella/internal/config"
	"github.com/hexbound/constella/internal/constellation"
	"github.com/hexbound/constella/internal/embed"
	"github.com/hexbound/constella/internal/resonance"
	"github.com/hexbound/constella/internal/store"
	"github.com/spf13/cobra"
)

// openDB is a helper that opens the database for CLI commands.
func openDB() (*store.DB, error) {
	dbPath := os.Getenv("CONSTELLA_DB")
	if dbPath == "" {
		var err error
		dbPath, err = store.DefaultDBPath()
		if err != nil {
			return nil, err
		}
	}
	return store.Open(dbPath)
}

// cliEmbedder builds a TF-IDF embedder for one-shot CLI commands; Ollama
// detection is server-side only.
func cliEmbedder(db *store.DB) (embed.Embedder, error) {
	tfidf, err := embed.NewTFIDFEmbedder(db, 512)
	if err != nil {
		return nil, err
	}
	return embed.NewAdapter(tfidf), nil
}

// --- rebuild command ---

var rebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Rebuild the constellation graph from stored entries",
	RunE:  runRebuild,
}

func runRebuild(cmd *cobra.Command, args []string) error {
	db, err := openDB()
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	cfg := config.Default()
	graph := constellation.New(db, constellation.Config{
		TopK:          cfg.Graph.TopK,
		EdgeThreshold: cfg.Graph.EdgeThreshold,
		TauDays:       cfg.Graph.TauDays,
		WindowDays:    cfg.Graph.WindowDays,
		MaxNodes:      cfg.Graph.MaxNodes,
	})
	graph.Load()

	now := time.Now()
	since := now.AddDate(0, 0, -cfg.Graph.WindowDays).UnixMilli()
	entries, err := db.EntriesSince(since)
	if err != nil {
		return fmt.Errorf("load entries: %w", err)
	}

	if err := graph.Rebuild(entries, now); err != nil {
		return fmt.Errorf("rebuild: %w", err)
	}

	fmt.Printf("rebuilt graph: %d nodes with neighbors\n", graph.NodeCount())
	return nil
}

// --- neighbors command ---

var neighborsCmd = &cobra.Command{
	Use:   "neighbors [entry-id]",
	Short: "Show a journal entry's nearest neighbors",
	Args:  cobra.ExactArgs(1),
	RunE:  runNeighbors,
}

func runNeighbors(cmd *cobra.Command, args []string) error {
	db, err := openDB()
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	cfg := config.Default()
	graph := constellation.New(db, constellation.Config{
		TopK:          cfg.Graph.TopK,
		EdgeThreshold: cfg.Graph.EdgeThreshold,
		TauDays:       cfg.Graph.TauDays,
		WindowDays:    cfg.Graph.WindowDays,
		MaxNodes:      cfg.Graph.MaxNodes,
	})
	graph.Load()

	nodeID := args[0]
	neighbors := graph.Neighbors(nodeID)
	if len(neighbors) == 0 {
		fmt.Println("No neighbors found. Run `constella rebuild` first.")
		return nil
	}

	if p, ok := graph.Coordinate(nodeID); ok {
		fmt.Printf("%s (%.3f, %.3f)\n", nodeID, p.X, p.Y)
	} else {
		fmt.Println(nodeID)
	}
	for i, n := range neighbors {
		fmt.Printf("  %d. [%.3f] %s\n", i+1, n.Weight, n.ID)
	}
	return nil
}

// --- resonate command ---

var (
	resonateAnchor   string
	resonateHeadline string
	resonateSummary  string
)

var resonateCmd = &cobra.Command{
	Use:   "resonate",
	Short: "Score stored entries against horoscope content",
	Long:  "Build a resonance bundle for one anchor key from the stored journal entries and print the alignment decision.",
	RunE:  runResonate,
}

func init() {
	resonateCmd.Flags().StringVar(&resonateAnchor, "anchor", "", "Anchor key (user|period|tz|YYYY-MM-DD)")
	resonateCmd.Flags().StringVar(&resonateHeadline, "headline", "", "Horoscope headline")
	resonateCmd.Flags().StringVar(&resonateSummary, "summary", "", "Horoscope summary text")
	resonateCmd.MarkFlagRequired("anchor")
	resonateCmd.MarkFlagRequired("headline")
}

func runResonate(cmd *cobra.Command, args []string) error {
	db, err := openDB()
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	embedder, err := cliEmbedder(db)
	if err != nil {
		return fmt.Errorf("create embedder: %w", err)
	}

	cfg := config.Default()
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

	now := time.Now()
	since := now.AddDate(0, 0, -cfg.Resonance.LookbackDays).UnixMilli()
	entries, err := db.EntriesSince(since)
	if err != nil {
		return fmt.Errorf("load entries: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	bundle := eng.BuildBundle(ctx, resonateAnchor, resonateHeadline, resonateSummary, nil, entries, now)

	if err := eng.SaveState(db); err != nil {
		log.Printf("resonate: save state: %v", err)
	}

	if bundle == nil {
		fmt.Println("No alignment event.")
		return nil
	}

	fmt.Printf("Alignment event (threshold %.3f):\n", bundle.Threshold)
	for i, h := range bundle.TopHits {
		fmt.Printf("  %d. [%.3f] %s  %v\n", i+1, h.Score, h.EntryID, h.OverlapSymbols)
	}
	return nil
}

// --- embed-missing command ---

var embedMissingCmd = &cobra.Command{
	Use:   "embed-missing",
	Short: "Embed stored entries that lack a vector",
	RunE:  runEmbedMissing,
}

func runEmbedMissing(cmd *cobra.Command, args []string) error {
	db, err := openDB()
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	embedder, err := cliEmbedder(db)
	if err != nil {
		return fmt.Errorf("create embedder: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	n, err := embedMissing(ctx, db, embedder)
	if err != nil {
		return err
	}
	fmt.Printf("embedded %d entries\n", n)
	return nil
}

// embedMissing embeds all stored entries that have no vector or whose
// vector was produced by a different model.
func embedMissing(ctx context.Context, db *store.DB, embedder embed.Embedder) (int, error) {
	entries, err := db.EntriesMissingEmbedding(embedder.Model())
	if err != nil {
		return 0, fmt.Errorf("list entries: %w", err)
	}

	embedded := 0
	for i := range entries {
		if entries[i].Text == "" {
			continue
		}
		vec, err := embedder.Embed(ctx, entries[i].Text)
		if err != nil {
			log.Printf("embed missing: %s: %v", entries[i].ID, err)
			continue
		}
		if err := db.SaveEmbedding(entries[i].ID, vec, embedder.Model()); err != nil {
			log.Printf("embed missing: save %s: %v", entries[i].ID, err)
			continue
		}
		embedded++
	}
	return embedded, nil
}
