package commands

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agentexec/agentexec/internal/config"
	"github.com/agentexec/agentexec/internal/scheduler"
	"github.com/agentexec/agentexec/internal/transcript"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history [run-id]",
	Short: "Show past runs",
	Long: `Show past runs recorded under the data directory.

Without arguments the most recent runs are listed. With a run id the
full transcript is printed as JSON.`,
	Args: cobra.MaximumNArgs(1),
	RunE: showHistory,
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 10, "Maximum number of runs to list")
}

func showHistory(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	store := transcript.NewStore(config.GetPaths().TranscriptPath())
	out := cmd.OutOrStdout()

	if len(args) == 1 {
		rec, err := store.Load(ctx, args[0])
		if err != nil {
			return err
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(rec)
	}

	ids, err := store.List(ctx)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		fmt.Fprintln(out, "no runs recorded")
		return nil
	}

	// Newest last on disk; show newest first.
	shown := 0
	for i := len(ids) - 1; i >= 0 && shown < historyLimit; i-- {
		rec, err := store.Load(ctx, ids[i])
		if err != nil {
			continue
		}
		ok := 0
		for _, call := range rec.Calls {
			if call.Status == scheduler.StatusSuccess {
				ok++
			}
		}
		fmt.Fprintf(out, "%s  %s  %d/%d succeeded\n",
			rec.RunID, rec.FinishedAt.Format("2006-01-02 15:04:05"), ok, len(rec.Calls))
		shown++
	}
	return nil
}
