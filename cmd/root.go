package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/meeting-ingest/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "meetings",
	Short: "Municipal meeting video ingestion",
	Long:  "Reads municipal meeting playlists, extracts per-video metadata, keeps a meeting catalog in sync, and drives transcript and summary generation.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load()
		if err != nil {
			return eris.Wrap(err, "meetings: load config")
		}
		cfg = loaded
		return eris.Wrap(config.InitLogger(cfg.Log), "meetings: init logger")
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
