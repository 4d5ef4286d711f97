// Package cli implements the eventpipe command-line interface.
package cli

import (
	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "eventpipe",
	Short: "Backend events ingestion pipeline",
	Long: `eventpipe ingests backend business events (orders, inventory,
user activity) from the inbound event stream, validates and routes them,
and delivers each event to the analytical store and the object archive.`,
	Version: "0.1.0",
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")
}
