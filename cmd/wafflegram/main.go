// Command wafflegram serves collaborative picture grids backed by a signed
// document store.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "wafflegram",
		Short: "Wafflegram - collaborative picture grids",
		Long: `Wafflegram keeps grids of colored and image tiles in a multi-writer
document store and serves them over HTTP with live updates.

Configuration is read from the environment (PORT, WAFFLEGRAM_*, GCP_*).`,
		Version:      fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildSeedCmd(),
		buildKeygenCmd(),
	)
	return rootCmd
}
