package cmd

import (
	"example.com/backstage/eventsearch/internal/database"

	"github.com/spf13/cobra"
)

// migrateCmd represents the migrate command
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database migrations",
	Long: `Runs database migrations to ensure the events and event_log tables
are up-to-date. This is useful for CI/CD pipelines or initial setup.`,
	RunE: runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	logger.Info().Str("driver", cfg.DB.Driver).Msg("Connecting to database")
	db, err := database.Connect(cfg.DB, logger, nil)
	if err != nil {
		return err
	}
	defer database.Close(db)

	logger.Info().Msg("Running database migrations")
	if err := database.Migrate(db); err != nil {
		return err
	}

	logger.Info().Msg("Database migrations completed successfully")
	return nil
}
