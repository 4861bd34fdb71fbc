package main

import (
	"encoding/json"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/drawsync/internal/model"
	"github.com/sells-group/drawsync/internal/resolver"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Resolve one draw and print it as JSON",
	Long:  "Looks the draw up in the cache and the archive, then (with --scrape) falls back to external sources. Without --date the most recent draw is returned.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		dateStr, _ := cmd.Flags().GetString("date")
		scrapeOK, _ := cmd.Flags().GetBool("scrape")
		force, _ := cmd.Flags().GetBool("force")

		var d *model.Draw
		if dateStr == "" {
			d, err = env.Resolver.LatestOne(ctx, scrapeOK)
		} else {
			date, perr := model.ParseDate(dateStr)
			if perr != nil {
				return eris.Wrapf(perr, "invalid --date %q", dateStr)
			}
			d, err = env.Resolver.Resolve(ctx, date, resolver.Options{AllowScrape: scrapeOK, ForceRefresh: force})
		}
		if err != nil {
			if resolver.IsNotFound(err) && !scrapeOK {
				return eris.Wrap(err, "draw not archived (retry with --scrape)")
			}
			return err
		}
		return printJSON(os.Stdout, d)
	},
}

func init() {
	resolveCmd.Flags().String("date", "", "draw date (YYYY-MM-DD); empty means latest")
	resolveCmd.Flags().Bool("scrape", false, "allow fetching from external sources")
	resolveCmd.Flags().Bool("force", false, "ignore cache and archive and always scrape")
	rootCmd.AddCommand(resolveCmd)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
