package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"example.com/backstage/eventsearch/internal/search"

	"github.com/spf13/cobra"
)

// reindexCmd rebuilds the full-text index from the database
var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Rebuild the full-text index",
	Long: `Rebuilds the event index from the database in parallel batches and
removes documents whose row is gone. The rebuilt index is only shared with
other processes when it lives on disk (search.index_dir) or in Elasticsearch.`,
	RunE: runReindex,
}

var reindexPurge bool

func init() {
	reindexCmd.Flags().BoolVar(&reindexPurge, "purge", false, "empty the index before rebuilding it")
	rootCmd.AddCommand(reindexCmd)
}

func runReindex(cmd *cobra.Command, args []string) error {
	app, err := bootstrap()
	if err != nil {
		return err
	}
	defer app.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if search.IsMemoryOnly(app.cfg.Search) {
		app.logger.Warn().Msg("Index is memory-only, the rebuild is not visible to other processes")
	}

	indexed, err := app.factory.MassIndexer().
		BatchSizeToLoadObjects(app.cfg.Worker.BatchSize).
		ThreadsToLoadObjects(app.cfg.Worker.Concurrency).
		PurgeAllOnStart(reindexPurge).
		StartAndWait(ctx)
	if err != nil {
		return err
	}

	app.logger.Info().Int("documents", indexed).Bool("purged", reindexPurge).Msg("Index rebuilt")
	return nil
}
