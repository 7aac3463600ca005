package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"example.com/backstage/eventsearch/internal/search"

	"github.com/go-co-op/gocron/v2"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start the background worker",
	Long: `Start the background worker that periodically rebuilds the full-text index
from the database. The worker only repairs the index the api server reads when
that index lives on disk (search.index_dir) or in Elasticsearch.`,
	RunE: runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
	app, err := bootstrap()
	if err != nil {
		return err
	}
	defer app.Close()

	if search.IsMemoryOnly(app.cfg.Search) {
		app.logger.Warn().Msg("Index is memory-only, scheduled rebuilds are not visible to other processes")
	}

	// Set up signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		scheduler, err := gocron.NewScheduler()
		if err != nil {
			return errors.Wrap(err, "failed to create scheduler")
		}

		interval := app.cfg.Worker.ReindexInterval
		_, err = scheduler.NewJob(
			gocron.DurationJob(interval),
			gocron.NewTask(func() {
				indexed, err := app.events.Reindex(ctx, app.cfg.Worker.BatchSize, app.cfg.Worker.Concurrency)
				if err != nil {
					app.logger.Error().Err(err).Msg("Scheduled reindex failed")
					return
				}
				app.logger.Info().Int("documents", indexed).Msg("Scheduled reindex completed")
			}),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			return errors.Wrap(err, "failed to schedule reindex job")
		}

		app.logger.Info().Dur("interval", interval).Msg("Starting reindex scheduler")
		scheduler.Start()

		<-ctx.Done()

		return scheduler.Shutdown()
	})

	if err := g.Wait(); err != nil {
		app.logger.Error().Err(err).Msg("Worker error")
		return err
	}

	app.logger.Info().Msg("Worker shutting down gracefully")
	return nil
}
