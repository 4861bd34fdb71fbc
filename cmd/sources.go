package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/drawsync/internal/model"
	"github.com/sells-group/drawsync/internal/registry"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "Show configured sources in priority order",
	RunE: func(cmd *cobra.Command, _ []string) error {
		reg, err := registry.Load(cfg.Sources.File)
		if err != nil {
			return err
		}
		formatSources(os.Stdout, reg.Snapshot())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sourcesCmd)
}

// formatSources writes a health table of sources to w.
func formatSources(out io.Writer, sources []model.SourceHealth) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tKIND\tACTIVE\tSTATUS\tAVAILABILITY\tSUCCESS\tREQUESTS\tLIMIT\tURL")
	_, _ = fmt.Fprintln(w, "--\t----\t------\t------\t------------\t-------\t--------\t-----\t---")

	for _, s := range sources {
		limit := "none"
		if !s.Source.RateLimit.Unlimited() {
			limit = fmt.Sprintf("%d/%s", s.Source.RateLimit.MaxRequests, s.Source.RateLimit.PerWindow)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%t\t%s\t%.2f\t%.0f%%\t%d\t%s\t%s\n",
			s.Source.ID,
			s.Source.Kind,
			s.Source.IsActive,
			s.Status,
			s.Metrics.AvailabilityScore,
			s.Metrics.SuccessRate()*100,
			s.Metrics.TotalRequests,
			limit,
			s.Source.BaseURL,
		)
	}
	_ = w.Flush()
}
