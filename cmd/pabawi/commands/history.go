package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openfroyo/pabawi/pkg/stores"
)

// defaultHistoryPath is where apply --history usually points.
const defaultHistoryPath = "/var/lib/pabawi/runs.db"

func newHistoryCommand() *cobra.Command {
	var (
		dbPath string
		limit  int
		runID  string
		prune  int
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show past runs from the run log",
		Long: `List runs recorded with apply --history, newest first.

With --run the full report of one run is printed. With --prune only the
newest N runs are kept.`,
		Example: `  # Last 20 runs
  pabawi history

  # Full report of one run
  pabawi history --run 3f1c9a52-...

  # Keep the newest 100 runs
  pabawi history --prune 100`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			store, err := stores.Open(ctx, stores.Config{Path: dbPath})
			if err != nil {
				return fmt.Errorf("failed to open run history: %w", err)
			}
			defer store.Close()

			if cmd.Flags().Changed("prune") {
				removed, err := store.PruneRuns(ctx, prune)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, successMsg("removed %d runs", removed))
				return nil
			}

			if runID != "" {
				report, err := store.GetReport(ctx, runID)
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(out, report)
				}
				fmt.Fprint(out, renderReport(report))
				return nil
			}

			runs, err := store.ListRuns(ctx, limit)
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(out, runs)
			}
			if len(runs) == 0 {
				fmt.Fprintln(out, infoMsg("no runs recorded in %s", dbPath))
				return nil
			}
			fmt.Fprintln(out, renderRuns(runs))
			return nil
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", defaultHistoryPath, "SQLite run log")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to list (0 for all)")
	cmd.Flags().StringVar(&runID, "run", "", "print the full report of one run")
	cmd.Flags().IntVar(&prune, "prune", 0, "keep only the newest N runs")

	return cmd
}
