package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := buildRoot().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GlobalFlags holds the persistent flags shared by every command.
type GlobalFlags struct {
	ConfigPath string
}

func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}

	root := &cobra.Command{
		Use:   "playwarden",
		Short: "Game playtime tracker and scheduler",
		Long: `Playwarden tracks playtime of managed programs, enforces play
schedules, and keeps the persistence server alive.

Examples:
  playwarden run                    # Start the tracking daemon
  playwarden serve                  # Run the persistence server (normally spawned by 'run')
  playwarden status                 # Show tracked process status
  playwarden checkpoint             # Force a WAL checkpoint`,
	}
	root.PersistentFlags().StringVar(&globalFlags.ConfigPath, "config", "", "path to TOML config file (optional)")

	root.AddCommand(
		createRunCommand(globalFlags),
		createServeCommand(globalFlags),
		createStatusCommand(globalFlags),
		createCheckpointCommand(globalFlags),
		createProcessCommand(globalFlags),
	)
	return root
}
