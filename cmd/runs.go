package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/leadscrape/internal/model"
	"github.com/sells-group/leadscrape/internal/monitoring"
	"github.com/sells-group/leadscrape/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect scraper run history",
	Long:  "Commands for listing, viewing, and summarizing recorded scraper runs.",
}

// -- runs list --

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List scraper runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		scraperID, _ := cmd.Flags().GetString("scraper")
		userID, _ := cmd.Flags().GetString("user")
		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")

		runs, err := st.ListRuns(ctx, store.RunFilter{
			ScraperID: scraperID,
			UserID:    userID,
			Status:    model.RunStatus(status),
			Limit:     limit,
		})
		if err != nil {
			return eris.Wrap(err, "runs list")
		}

		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}

		formatRunsList(os.Stdout, runs)
		return nil
	},
}

// -- runs show --

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show full details of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		run, err := st.GetRun(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "runs show")
		}
		if run == nil {
			return eris.Errorf("runs show: run %s not found", args[0])
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(run)
	},
}

// -- runs stats --

var runsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate run statistics",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		since, _ := cmd.Flags().GetDuration("since")
		scraperID, _ := cmd.Flags().GetString("scraper")

		stats, err := monitoring.NewCollector(st).Collect(ctx, since, store.RunFilter{ScraperID: scraperID})
		if err != nil {
			return eris.Wrap(err, "runs stats")
		}
		formatRunStats(os.Stdout, stats)
		return nil
	},
}

func init() {
	runsListCmd.Flags().String("scraper", "", "filter by scraper id")
	runsListCmd.Flags().String("user", "", "filter by user id")
	runsListCmd.Flags().String("status", "", "filter by run status (RUNNING, SUCCEEDED, FAILED, ...)")
	runsListCmd.Flags().Int("limit", 50, "max number of runs to display")

	runsStatsCmd.Flags().Duration("since", 24*time.Hour, "time window for stats (e.g. 24h, 72h, 168h)")
	runsStatsCmd.Flags().String("scraper", "", "only count runs of this scraper")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsStatsCmd)
	rootCmd.AddCommand(runsCmd)
}

// formatRunsList writes a tabular list of runs to w.
func formatRunsList(out io.Writer, runs []model.Run) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSCRAPER\tSOURCE\tSTATUS\tITEMS\tCOST\tSTARTED\tDURATION")
	_, _ = fmt.Fprintln(w, "--\t-------\t------\t------\t-----\t----\t-------\t--------")

	for _, r := range runs {
		dur := "-"
		if d := r.Duration(); d > 0 {
			dur = d.Round(time.Second).String()
		}
		costStr := "-"
		if r.CostUSD != nil {
			costStr = fmt.Sprintf("$%.4f", *r.CostUSD)
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
			truncateID(r.ID),
			r.ScraperID,
			r.Source,
			r.Status,
			r.ItemCount,
			costStr,
			r.StartedAt.Format("2006-01-02 15:04"),
			dur,
		)
	}
	_ = w.Flush()
}

// formatRunStats writes aggregate stats to w.
func formatRunStats(out io.Writer, s *monitoring.RunStats) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Total runs:\t%d\n", s.Total)
	_, _ = fmt.Fprintf(w, "Succeeded:\t%d\n", s.Succeeded)
	_, _ = fmt.Fprintf(w, "Failed:\t%d\n", s.Failed)
	_, _ = fmt.Fprintf(w, "  Timed out:\t%d\n", s.TimedOut)
	_, _ = fmt.Fprintf(w, "  Aborted:\t%d\n", s.Aborted)
	_, _ = fmt.Fprintf(w, "In flight:\t%d\n", s.Running)
	_, _ = fmt.Fprintf(w, "Fail rate:\t%.1f%%\n", s.FailRate*100)
	_, _ = fmt.Fprintf(w, "Items:\t%d\n", s.Items)
	_, _ = fmt.Fprintf(w, "Cost:\t$%.2f\n", s.CostUSD)
	if s.Unpriced > 0 {
		_, _ = fmt.Fprintf(w, "  Unpriced runs:\t%d\n", s.Unpriced)
	}
	if s.AvgDuration > 0 {
		_, _ = fmt.Fprintf(w, "Avg duration:\t%.1fs\n", s.AvgDuration.Seconds())
	}
	for _, ss := range s.Scrapers {
		_, _ = fmt.Fprintf(w, "  %s:\t%d runs, %d failed, %d items, $%.2f\n", ss.ScraperID, ss.Total, ss.Failed, ss.Items, ss.CostUSD)
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of an id for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
