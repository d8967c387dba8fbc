package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/sshswitch/internal/infrastructure/config"
	"github.com/nerrad567/sshswitch/internal/infrastructure/database"
)

func newMigrateCmd() *cobra.Command {
	var (
		down   bool
		status bool
	)

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply, inspect or roll back database migrations",
		Long: `Apply pending schema migrations to the history database.

serve applies migrations on startup; this command is for inspecting the
schema or rolling back the most recent migration before a downgrade.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(getConfigPath())
			if err != nil {
				return fmt.Errorf("loading configuration: %w", err)
			}

			db, err := openDatabase(cfg.Database)
			if err != nil {
				return err
			}
			defer db.Close()

			switch {
			case down:
				return runRollback(cmd.Context(), db, cmd.OutOrStdout())
			case status:
				return printMigrationStatus(cmd.Context(), db, cmd.OutOrStdout())
			default:
				if err := db.Migrate(cmd.Context()); err != nil {
					return fmt.Errorf("running migrations: %w", err)
				}
				return printMigrationStatus(cmd.Context(), db, cmd.OutOrStdout())
			}
		},
	}
	cmd.Flags().BoolVar(&down, "down", false, "roll back the most recent migration")
	cmd.Flags().BoolVar(&status, "status", false, "show applied and pending migrations without changing anything")
	cmd.MarkFlagsMutuallyExclusive("down", "status")

	return cmd
}

// openDatabase opens the SQLite file described by the database section.
func openDatabase(dc config.DatabaseConfig) (*database.DB, error) {
	db, err := database.Open(database.Config{
		Path:        dc.Path,
		WALMode:     dc.WALMode,
		BusyTimeout: dc.BusyTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return db, nil
}

func runRollback(ctx context.Context, db *database.DB, out io.Writer) error {
	m, ok, err := db.Rollback(ctx)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Fprintln(out, "nothing to roll back")
		return nil
	}
	fmt.Fprintf(out, "rolled back %s %s\n", m.Version, m.Name)
	return nil
}

func printMigrationStatus(ctx context.Context, db *database.DB, out io.Writer) error {
	status, err := db.MigrationStatus(ctx)
	if err != nil {
		return err
	}

	for _, a := range status.Applied {
		fmt.Fprintf(out, "applied  %s  %s\n", a.Version, a.AppliedAt.Format(time.RFC3339))
	}
	for _, m := range status.Pending {
		fmt.Fprintf(out, "pending  %s  %s\n", m.Version, m.Name)
	}
	return nil
}
