package cmd

import (
	"fmt"
	"log/slog"

	"github.com/arcward/modbot/modbot"
	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the database tables (or mongodb indexes)",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		out := cmd.OutOrStdout()

		if cfg.Database == "" {
			return fmt.Errorf(
				"%s_DATABASE not set (must be a database connection string, "+
					"mongodb URI or sqlite file path)",
				modbot.DefaultEnvPrefix,
			)
		}

		store, err := modbot.OpenStore(ctx, cfg, slog.Default().Handler())
		if err != nil {
			return fmt.Errorf("error initializing %s database: %w", cfg.DatabaseType, err)
		}
		if err = store.Close(ctx); err != nil {
			return fmt.Errorf("error closing database: %w", err)
		}
		fmt.Fprintf(out, "Initialized %s database.\n", cfg.DatabaseType)

		if cfg.API.Enabled && cfg.API.Secret == "" {
			secret, secretErr := modbot.NewAPISecret()
			if secretErr != nil {
				return secretErr
			}
			fmt.Fprintf(
				out,
				"The API is enabled but has no secret. You can use this one:\n\n%s_API_SECRET=%s\n\n",
				modbot.DefaultEnvPrefix,
				secret,
			)
		}

		fmt.Fprintln(
			out,
			"Initialization complete. You can now start the bot with the 'run' subcommand.",
		)
		return nil
	},
}

//nolint:gochecknoinits
func init() {
	rootCmd.AddCommand(initCmd)
}
