package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/sshswitch/internal/history"
	"github.com/nerrad567/sshswitch/internal/infrastructure/config"
)

func newHistoryCmd() *cobra.Command {
	var (
		limit  int
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded state changes, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(getConfigPath())
			if err != nil {
				return fmt.Errorf("loading configuration: %w", err)
			}
			return runHistory(cmd.Context(), cfg, limit, cmd.OutOrStdout(), asJSON)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", history.DefaultLimit,
		fmt.Sprintf("number of entries to show (max %d)", history.MaxLimit))
	cmd.Flags().BoolVar(&asJSON, "json", false, "print entries as JSON")

	return cmd
}

// runHistory opens the database, applies pending migrations and prints the
// most recent entries for the configured device.
func runHistory(ctx context.Context, cfg *config.Config, limit int, out io.Writer, asJSON bool) error {
	db, err := openDatabase(cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	entries, err := history.NewStore(db.DB).List(ctx, cfg.Device.ID, limit)
	if err != nil {
		return err
	}

	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tSTATE\tON\tSOURCE")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%t\t%s\n", e.CreatedAt.Format(time.RFC3339), e.State, e.IsOn, e.Source)
	}
	return w.Flush()
}
