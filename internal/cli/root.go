// Package cli implements the artifactd command-line interface using
// Cobra. The serve subcommand runs the daemon; profile inspects the host
// without starting it.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "artifactd",
	Short: "artifactd — model artifact lifecycle daemon",
	Long: `artifactd loads, caches and evicts model artifacts on a single host.
It profiles the device once at startup, picks the heaviest variant the
host can carry, degrades along the fallback chain under memory pressure,
and keeps an encrypted on-disk cache of artifact payloads.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. Called from main.go.
func Execute(version string) {
	rootCmd.Version = version

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
