package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newMigrateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, dialect, err := openDatabase(opts.settings.Database)
			if err != nil {
				return err
			}
			defer client.Close()

			reg, err := migrate(cmd.Context(), client, dialect)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "migrations applied: source=%s dialect=%s\n", reg.SourceLabel, dialect)
			return nil
		},
	}
}
