package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sells-group/drawsync/internal/export"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write archived draws to a CSV or XLSX file",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		formatStr, _ := cmd.Flags().GetString("format")
		out, _ := cmd.Flags().GetString("out")
		limit, _ := cmd.Flags().GetInt("limit")

		format, err := export.ParseFormat(formatStr)
		if err != nil {
			return err
		}
		if out == "" {
			out = "draws." + string(format)
		}

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		draws, err := env.Resolver.Latest(ctx, limit, 0)
		if err != nil {
			return err
		}
		if err := export.WriteFile(out, format, draws); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "Wrote %d draws to %s\n", len(draws), out)
		return nil
	},
}

func init() {
	exportCmd.Flags().String("format", "csv", "output format: csv or xlsx")
	exportCmd.Flags().String("out", "", "output path (default draws.<format>)")
	exportCmd.Flags().Int("limit", 1000, "max number of draws to export")
	rootCmd.AddCommand(exportCmd)
}
