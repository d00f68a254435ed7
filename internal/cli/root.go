package cli

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "constella",
	Short: "Resonance and constellation engine for journal entries",
	Long:  "Constella scores journal entries against horoscope content for alignment events and maintains a decaying nearest-neighbor graph over recent entries. Single Go binary.",
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(rebuildCmd)
	rootCmd.AddCommand(neighborsCmd)
	rootCmd.AddCommand(resonateCmd)
	rootCmd.AddCommand(embedMissingCmd)
}
