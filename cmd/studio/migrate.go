package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/p-blackswan/studio-agent/internal/store"
)

func newMigrateCmd() *cobra.Command {
	var dbPath string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			if dbPath == "" {
				dbPath = cfg.DatabasePath
			}

			s, err := store.New(dbPath, logger)
			if err != nil {
				return err
			}
			defer s.Close()

			fmt.Fprintf(cmd.OutOrStdout(), "%s at schema version %d\n", dbPath, s.SchemaVersion())
			return nil
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "", "database path (defaults to DATABASE_PATH)")
	return cmd
}
