package cmd

import (
	"context"

	"example.com/backstage/eventsearch/internal/services"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var demoCount int

// demoCmd runs the insert, query and delete scenario once
var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Insert, query and delete a batch of events",
	Long: `Persists a batch of events in one transaction, counts and lists them
with a match-all full-text query in a new transaction, deletes everything
the query returned and checks the index is empty afterwards.`,
	RunE: runDemo,
}

func init() {
	demoCmd.Flags().IntVarP(&demoCount, "count", "n", 10, "number of events to create")
	rootCmd.AddCommand(demoCmd)
}

func runDemo(cmd *cobra.Command, args []string) error {
	app, err := bootstrap()
	if err != nil {
		return err
	}
	defer app.Close()

	report, err := app.events.RunDemo(context.Background(), demoCount)
	if err != nil {
		return err
	}

	app.logger.Info().Strs("titles", report.Titles).Msg("Events found by match-all query")
	return checkDemoReport(report)
}

// checkDemoReport fails unless every inserted event was found and none is
// left in the index after the delete
func checkDemoReport(report *services.DemoReport) error {
	if report.Found != report.Inserted {
		return errors.Errorf("match-all query found %d events, expected %d", report.Found, report.Inserted)
	}
	if report.Remaining != 0 {
		return errors.Errorf("%d events still indexed after delete", report.Remaining)
	}
	return nil
}
