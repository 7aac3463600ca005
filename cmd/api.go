package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"example.com/backstage/eventsearch/internal/api"

	"github.com/spf13/cobra"
)

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Start the API server",
	Long:  `Start the HTTP API server to create, query and delete events`,
	RunE:  runAPI,
}

func init() {
	rootCmd.AddCommand(apiCmd)
}

func runAPI(cmd *cobra.Command, args []string) error {
	app, err := bootstrap()
	if err != nil {
		return err
	}
	defer app.Close()

	// Set up signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	server := api.NewServer(app.cfg, app.events, app.metrics, app.tracer, app.logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	if err := server.Shutdown(context.Background()); err != nil {
		app.logger.Error().Err(err).Msg("Server shutdown error")
	}

	app.logger.Info().Msg("Shutting down API server")
	return nil
}
