package main

import (
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/meeting-ingest/internal/model"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Run one ingestion pass over every municipality",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "ingest")
		if err != nil {
			return err
		}
		defer env.Close()

		stats, err := env.orchestrator().Run(ctx)
		if err != nil {
			return err
		}

		zap.L().Info("ingestion complete",
			zap.Int("municipalities", stats.Municipalities),
			zap.Int("videos", stats.Videos),
			zap.Int("created", stats.Created),
			zap.Int("updated", stats.Updated),
			zap.Int("failed", stats.Failed),
		)
		printStats(cmd.OutOrStdout(), stats)
		return nil
	},
}

func printStats(w io.Writer, s model.IngestStats) {
	fmt.Fprintf(w, "Municipalities: %d (%d playlist errors)\n", s.Municipalities, s.PlaylistErrors)
	fmt.Fprintf(w, "Videos:         %d\n", s.Videos)
	fmt.Fprintf(w, "  created:      %d\n", s.Created)
	fmt.Fprintf(w, "  updated:      %d\n", s.Updated)
	fmt.Fprintf(w, "  skipped:      %d\n", s.Skipped)
	fmt.Fprintf(w, "  failed:       %d\n", s.Failed)
}

func init() {
	rootCmd.AddCommand(ingestCmd)
}
