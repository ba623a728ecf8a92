package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	pgstore "github.com/alem-hub/botcore/internal/infrastructure/persistence/postgres"
)

func newMigrateCommand(rootOpts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "migrate",
		Short:         "Apply the session store migrations to database.url",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(rootOpts)
			if err != nil {
				return err
			}
			if cfg.Database.URL == "" {
				return errors.New("database.url is not set")
			}
			log := setupLogger(cfg)

			conn, err := pgstore.NewConnectionFromURL(cmd.Context(), cfg.Database.URL)
			if err != nil {
				return fmt.Errorf("failed to connect to database: %w", err)
			}
			defer conn.Close()

			if err := migrate(cmd.Context(), conn, log); err != nil {
				return err
			}

			status, err := pgstore.NewMigrator(conn).Status(cmd.Context())
			if err != nil {
				return err
			}
			for _, m := range status {
				state := "pending"
				if m.Applied() {
					state = "applied " + m.AppliedAt.Format("2006-01-02 15:04:05")
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%03d %-24s %s\n", m.Version, m.Name, state)
			}
			return nil
		},
	}
}
