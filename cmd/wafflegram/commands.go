package main

import (
	"github.com/spf13/cobra"
)

func buildServeCmd() *cobra.Command {
	var storedConfig bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Long: `Start the HTTP server.

Grids are opened on first request. With WAFFLEGRAM_DB_PATH unset documents
live in memory and are lost on exit. Caption suggestions are enabled when
GCP_PROJECT_ID is set.`,
		Example: `  # In-memory store on port 8080
  wafflegram serve

  # Persistent store, grid dimensions read from each grid's config.json
  WAFFLEGRAM_DB_PATH=./wafflegram.db wafflegram serve --stored-config`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), storedConfig)
		},
	}

	cmd.Flags().BoolVar(&storedConfig, "stored-config", false,
		"Read grid dimensions from the store when a grid is opened")
	return cmd
}

func buildSeedCmd() *cobra.Command {
	var (
		file string
		grid string
	)

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Write fixture cells into a grid",
		Long: `Write the cells of a YAML fixture into a grid through the grid cache.

Without --file the built-in starter fixture is used.`,
		Example: `  wafflegram seed
  wafflegram seed --file fixtures/lobby.yaml --grid lobby`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeed(cmd.Context(), cmd.OutOrStdout(), file, grid)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Path to a YAML fixture")
	cmd.Flags().StringVarP(&grid, "grid", "g", "", "Grid name, overriding the fixture's")
	return cmd
}

func buildKeygenCmd() *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate an author identity",
		Long: `Generate an author keypair and print it as environment assignments
for WAFFLEGRAM_AUTHOR and WAFFLEGRAM_AUTHOR_SECRET.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeygen(cmd.OutOrStdout(), name)
		},
	}

	cmd.Flags().StringVarP(&name, "name", "n", "wafl", "Four character shortname: a letter then letters or digits")
	return cmd
}
