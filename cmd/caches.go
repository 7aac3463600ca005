package cmd

import (
	"context"
	"encoding/json"

	"github.com/spf13/cobra"
)

// cachesCmd prints the content of the named caches
var cachesCmd = &cobra.Command{
	Use:   "caches",
	Short: "Print the entries of every named cache",
	Long: `Prints the entries of every named cache as JSON. With the memory cache
backend the caches belong to this process and start empty; point the cache
configuration at redis to inspect the caches shared with the api server.`,
	RunE: runCaches,
}

func init() {
	rootCmd.AddCommand(cachesCmd)
}

func runCaches(cmd *cobra.Command, args []string) error {
	app, err := bootstrap()
	if err != nil {
		return err
	}
	defer app.Close()

	dump, err := app.events.DumpCaches(context.Background())
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(dump)
}
