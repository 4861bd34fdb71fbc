package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/sells-group/drawsync/internal/model"
)

var drawsCmd = &cobra.Command{
	Use:   "draws",
	Short: "List archived draws, most recent first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		draws, total, err := env.Resolver.History(ctx, limit, offset)
		if err != nil {
			return err
		}
		if len(draws) == 0 {
			fmt.Fprintln(os.Stderr, "No draws archived.")
			return nil
		}

		formatDrawsList(os.Stdout, draws, time.Now())
		fmt.Fprintf(os.Stderr, "%d-%d of %d\n", offset+1, offset+len(draws), total)
		return nil
	},
}

func init() {
	drawsCmd.Flags().Int("limit", 10, "max number of draws to display")
	drawsCmd.Flags().Int("offset", 0, "number of draws to skip")
	rootCmd.AddCommand(drawsCmd)
}

func joinInts(vals []int) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = fmt.Sprintf("%02d", v)
	}
	return strings.Join(parts, " ")
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "-"
}

// formatDrawsList writes a tabular list of draws to w. Draws within the last
// 30 days of now are flagged RECENT.
func formatDrawsList(out io.Writer, draws []*model.Draw, now time.Time) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "DATE\tNUMBERS\tSTARS\tEVEN/ODD\tCONSEC\tJACKPOT\tWINNERS\tSOURCE\tRECENT")
	_, _ = fmt.Fprintln(w, "----\t-------\t-----\t--------\t------\t-------\t-------\t------\t------")

	for _, d := range draws {
		p := d.Parity()
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%s\t%s\t%d\t%s\t%s\n",
			d.DateKey(),
			joinInts(d.Numbers),
			joinInts(d.Stars),
			p.NumbersEven, p.NumbersOdd,
			yesNo(d.HasConsecutiveNumbers()),
			d.Jackpot().StringFixed(2),
			d.TotalWinners(),
			d.Provenance.SourceID,
			yesNo(d.IsRecent(now)),
		)
	}
	_ = w.Flush()
}
