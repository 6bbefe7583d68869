// Package cmd provides CLI commands for aetherctl.
package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	serverURL  string
	apiKey     string
	outputJSON bool
)

// rootCmd represents the base command.
var rootCmd = &cobra.Command{
	Use:   "aetherctl",
	Short: "Aether CLI - Operate a persistent text world",
	Long: `aetherctl is a command-line tool for interacting with an aether server.

Aether is a persistent multiplayer text-world engine: a location graph
that grows on demand, a shared world clock, and a durable event log.

Use aetherctl to:
  - Inspect and advance the world clock
  - Look at locations, their exits and description layers
  - Bootstrap, link and move players
  - Request bounded area generation and link rooms
  - Query the event log and search the world
  - Export and import world snapshots`,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", getEnvOrDefault("AETHER_URL", "http://localhost:8080"), "Aether server URL")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", os.Getenv("AETHER_API_KEY"), "API key for authenticated servers")
	rootCmd.PersistentFlags().BoolVarP(&outputJSON, "json", "j", false, "Output in JSON format")

	// Add subcommands
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(clockCmd)
	rootCmd.AddCommand(locationCmd)
	rootCmd.AddCommand(playerCmd)
	rootCmd.AddCommand(eventsCmd)
	rootCmd.AddCommand(worldCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(snapshotCmd)
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
