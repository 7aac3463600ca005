package main

import (
	"os"

	"example.com/backstage/eventsearch/cmd"
	"example.com/backstage/eventsearch/config"
	"example.com/backstage/eventsearch/internal/logging"
)

func main() {
	// Commands build their own logger from config; this one only reports
	// failures that escape them.
	logger := logging.NewLogger(config.LoggingConfig{
		Level:  os.Getenv("LOG_LEVEL"),
		Format: os.Getenv("LOG_FORMAT"),
	}, os.Stderr)

	if err := cmd.Execute(); err != nil {
		logger.Fatal().Err(err).Msg("Command failed")
	}
}
