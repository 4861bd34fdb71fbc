package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/drawsync/internal/store"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the archive schema",
	Long:  "Creates or updates the schema of the configured store. With --from-sqlite, draws from an existing SQLite archive are copied in afterwards.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		fmt.Fprintf(os.Stderr, "Schema up to date (%s).\n", cfg.Store.Driver)

		from, _ := cmd.Flags().GetString("from-sqlite")
		if from == "" {
			return nil
		}
		if cfg.Store.Driver == "sqlite" && from == cfg.Store.DatabaseURL {
			return eris.New("migrate: --from-sqlite points at the configured store")
		}

		if _, err := os.Stat(from); err != nil {
			return eris.Wrap(err, "migrate: source archive")
		}
		src, err := store.NewSQLite(from)
		if err != nil {
			return eris.Wrap(err, "migrate: open source archive")
		}
		defer src.Close() //nolint:errcheck

		batch, _ := cmd.Flags().GetInt("batch")
		n, err := store.CopyDraws(ctx, st, src, batch)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "Copied %d draws from %s.\n", n, from)
		return nil
	},
}

func init() {
	migrateCmd.Flags().String("from-sqlite", "", "copy draws from this SQLite archive after migrating")
	migrateCmd.Flags().Int("batch", 500, "draws per write batch when copying")
	rootCmd.AddCommand(migrateCmd)
}
