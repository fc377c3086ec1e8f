package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the share database schema",
		Long:  "Apply the share database schema to the configured database_url. Safe to run repeatedly.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			d := depsFromContext(ctx)
			if d == nil {
				return fmt.Errorf("dependencies not configured")
			}
			if d.pg == nil {
				return fmt.Errorf("migrate requires database_url to be configured")
			}

			if err := d.pg.Migrate(ctx); err != nil {
				return fmt.Errorf("apply schema: %w", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
			return nil
		},
	}
}
