package main

import (
	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath string
	envFile    string
	logLevel   string
	settings   Settings
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "outreachd",
		Short:         "Outreach scheduling and reply attribution daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			settings, err := loadSettings(opts.configPath, opts.envFile)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("log-level") {
				settings.Log.Level = opts.logLevel
			}
			opts.settings = settings
			return nil
		},
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Path to TOML configuration file")
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", "", "Optional .env file loaded before the configuration")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "Log level (trace, debug, info, warn, error)")

	cmd.AddCommand(
		newMigrateCommand(opts),
		newServeCommand(opts),
		newResolveCommand(opts),
	)
	return cmd
}
