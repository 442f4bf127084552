package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "beacon",
	Short: "Beacon guards browser telemetry on its way to an OTLP collector",
	Long: `Beacon sits between anonymous browser clients and an OTLP trace
collector. It issues session-bound ingestion tokens, validates and bounds
incoming payloads, rate-limits abusive clients, and relays accepted trace
batches upstream.

Run "beacon serve" to start the HTTP server.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		// Bare invocation starts the server.
		return runServe(cmd, args)
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
