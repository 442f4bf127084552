package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/studioml/beacon/internal/config"
)

// Version information (injected at build time via ldflags).
var (
	AppVersion = "development"
	BuildTime  = "unknown"
	GitCommit  = "unknown"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version and effective configuration",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runVersion(cmd)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

func runVersion(cmd *cobra.Command) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Beacon %s\n", AppVersion)
	fmt.Fprintf(out, "Build Time: %s\n", BuildTime)
	fmt.Fprintf(out, "Git Commit: %s\n", GitCommit)

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// MarshalJSON masks the signing secret, so dumping here is safe.
	dump, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	fmt.Fprintf(out, "\nConfiguration:\n%s\n", dump)

	return nil
}
