package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/drawsync/internal/model"
	"github.com/sells-group/drawsync/internal/resolver"
)

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Archive every draw between two dates",
	Long:  "Resolves each Tuesday and Friday in [--from, --to], scraping the ones not yet archived.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		fromStr, _ := cmd.Flags().GetString("from")
		toStr, _ := cmd.Flags().GetString("to")
		concurrency, _ := cmd.Flags().GetInt("concurrency")
		if concurrency <= 0 {
			concurrency = cfg.Resolver.BackfillConcurrency
		}

		from, err := model.ParseDate(fromStr)
		if err != nil {
			return eris.Wrapf(err, "invalid --from %q", fromStr)
		}
		to := resolver.PreviousDrawDay(time.Now())
		if toStr != "" {
			if to, err = model.ParseDate(toStr); err != nil {
				return eris.Wrapf(err, "invalid --to %q", toStr)
			}
		}

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		report, err := env.Resolver.Backfill(ctx, from, to, concurrency)
		if err != nil {
			return err
		}
		formatBackfill(os.Stdout, report)
		if report.Failed > 0 {
			return eris.Errorf("backfill: %d of %d dates failed", report.Failed, report.Requested)
		}
		return nil
	},
}

func init() {
	backfillCmd.Flags().String("from", "", "first date (YYYY-MM-DD)")
	backfillCmd.Flags().String("to", "", "last date (YYYY-MM-DD); default most recent draw day")
	backfillCmd.Flags().Int("concurrency", 0, "dates resolved in parallel (default from config)")
	_ = backfillCmd.MarkFlagRequired("from")
	rootCmd.AddCommand(backfillCmd)
}

// formatBackfill writes the per-date outcome and a summary line to w.
func formatBackfill(out io.Writer, report *resolver.BackfillReport) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "DATE\tRESULT\tDETAIL")
	for _, r := range report.Results {
		if r.Error != "" {
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", r.Date, r.Code, r.Error)
			continue
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", r.Date, r.Method, r.DrawID)
	}
	_ = w.Flush()
	_, _ = fmt.Fprintf(out, "\nrequested %d, resolved %d, failed %d\n", report.Requested, report.Resolved, report.Failed)
}
