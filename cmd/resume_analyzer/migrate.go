package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var migrateReset bool

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the key-value table in PostgreSQL",
	Long:  `Creates the table that stores analyses. With --reset the table and every stored analysis are dropped first.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, false)
		if err != nil {
			return err
		}
		defer a.close()

		if migrateReset {
			if err := a.database.Reset(ctx); err != nil {
				return err
			}
			a.logger.Warn("dropped stored analyses")
		}
		if err := a.database.Migrate(ctx); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
		return nil
	},
}

func init() {
	migrateCmd.Flags().BoolVar(&migrateReset, "reset", false, "Drop stored analyses before migrating")
	rootCmd.AddCommand(migrateCmd)
}
