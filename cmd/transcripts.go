package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/meeting-ingest/internal/jobs"
	"github.com/sells-group/meeting-ingest/internal/store"
)

var transcriptsLimit int

var transcriptsCmd = &cobra.Command{
	Use:   "transcripts",
	Short: "Inspect and backfill meeting transcripts",
}

var transcriptsMissingCmd = &cobra.Command{
	Use:   "missing",
	Short: "List meetings that have no transcript yet",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		meetings, err := st.MeetingsMissingTranscript(ctx, transcriptsLimit)
		if err != nil {
			return err
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "VIDEO ID\tHELD ON\tTITLE")
		for _, m := range meetings {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", m.VideoID, m.HeldOn.Format("2006-01-02"), m.Title)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d meetings need transcripts\n", len(meetings))
		return nil
	},
}

var transcriptsBackfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Queue transcript and summary jobs for meetings missing them",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, "ingest")
		if err != nil {
			return err
		}
		defer env.Close()

		if env.Queue == nil {
			return eris.New("transcripts: queue.backend is none, nothing to enqueue")
		}

		transcripts, summaries, err := backfill(ctx, env.Store, env.Queue, transcriptsLimit)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Queued %d transcript jobs and %d summary jobs\n", transcripts, summaries)
		return nil
	},
}

// backfill queues a transcript job for each meeting without a transcript
// and a summary job for each meeting with a transcript but no summary.
// Enqueue failures are logged and skipped.
func backfill(ctx context.Context, st store.Store, queue jobs.Queue, limit int) (int, int, error) {
	missingTranscript, err := st.MeetingsMissingTranscript(ctx, limit)
	if err != nil {
		return 0, 0, err
	}
	missingSummary, err := st.MeetingsMissingSummary(ctx, limit)
	if err != nil {
		return 0, 0, err
	}

	var transcripts, summaries int
	for _, m := range missingTranscript {
		if err := queue.Enqueue(ctx, jobs.TranscriptJob(m.VideoID)); err != nil {
			zap.L().Warn("backfill: enqueue transcript job failed", zap.String("video_id", m.VideoID), zap.Error(err))
			continue
		}
		transcripts++
	}
	for _, m := range missingSummary {
		if err := queue.Enqueue(ctx, jobs.SummaryJob(m.VideoID)); err != nil {
			zap.L().Warn("backfill: enqueue summary job failed", zap.String("video_id", m.VideoID), zap.Error(err))
			continue
		}
		summaries++
	}
	return transcripts, summaries, nil
}

func init() {
	transcriptsCmd.PersistentFlags().IntVar(&transcriptsLimit, "limit", 100, "maximum meetings to consider")
	transcriptsCmd.AddCommand(transcriptsMissingCmd, transcriptsBackfillCmd)
	rootCmd.AddCommand(transcriptsCmd)
}
