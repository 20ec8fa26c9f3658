package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/playwarden/playwarden/internal/config"
	"github.com/playwarden/playwarden/internal/sched"
	"github.com/playwarden/playwarden/internal/store"
	"github.com/playwarden/playwarden/pkg/client"
)

// apiFromConfig builds the API client for one-shot commands.
func apiFromConfig(configPath string) (*client.Client, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	return client.New(client.Config{BaseURL: cfg.BaseURL()}), nil
}

func createStatusCommand(globalFlags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show tracked process status",
		Long: `Show every managed process with its schedule status and playtime
bookkeeping. Requires a running server (started by 'playwarden run').

Examples:
  playwarden status`,
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := apiFromConfig(globalFlags.ConfigPath)
			if err != nil {
				return err
			}
			return printStatus(cmd.Context(), api)
		},
	}
}

func printStatus(ctx context.Context, api *client.Client) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := api.Health(ctx); err != nil {
		return fmt.Errorf("server not reachable, start the daemon with 'playwarden run': %w", err)
	}
	procs, err := api.GetManagedProcesses(ctx)
	if err != nil {
		return err
	}
	open, err := api.OpenSessions(ctx)
	if err != nil {
		return err
	}
	running := make(map[int64]bool, len(open))
	for _, s := range open {
		running[s.ProcessID] = true
	}

	now := time.Now()
	if len(procs) == 0 {
		fmt.Println("no managed processes")
		return nil
	}
	for _, p := range procs {
		status := sched.DetermineStatus(now, running[p.ID], p.LastPlayed, p.CycleHours, p.ResetTime)
		last := "never"
		if p.LastPlayed != nil {
			last = p.LastPlayed.Local().Format("2006-01-02 15:04")
		}
		fmt.Printf("%-4d %-24s %-11s last played %s\n", p.ID, p.Name, status, last)
	}
	return nil
}

func createCheckpointCommand(globalFlags *GlobalFlags) *cobra.Command {
	var mode string
	cmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Force a WAL checkpoint on the server",
		Long: `Ask the running server to checkpoint its write-ahead log.

Examples:
  playwarden checkpoint
  playwarden checkpoint --mode=truncate`,
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := apiFromConfig(globalFlags.ConfigPath)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			m := store.CheckpointPassive
			if mode == "truncate" {
				m = store.CheckpointTruncate
			}
			if err := api.Checkpoint(ctx, m); err != nil {
				return err
			}
			fmt.Println("checkpoint done")
			return nil
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "passive", "checkpoint mode: passive or truncate")
	return cmd
}

// ProcessAddFlags holds flags for the process add subcommand.
type ProcessAddFlags struct {
	Name        string
	MonitorPath string
	LaunchPath  string
	CycleHours  int
	ResetTime   string
	Windows     []string
}

func createProcessCommand(globalFlags *GlobalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "process",
		Short: "Manage tracked processes",
	}
	cmd.AddCommand(
		createProcessAddCommand(globalFlags),
		createProcessListCommand(globalFlags),
		createProcessRemoveCommand(globalFlags),
	)
	return cmd
}

func createProcessAddCommand(globalFlags *GlobalFlags) *cobra.Command {
	flags := &ProcessAddFlags{}
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register a process to track",
		Long: `Register an executable for playtime tracking.

Examples:
  playwarden process add --name=game --monitor-path="C:/Games/game.exe"
  playwarden process add --name=game --monitor-path=/opt/game/bin/game \
      --cycle-hours=48 --reset-time=06:00 --window=16:00-18:00`,
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := apiFromConfig(globalFlags.ConfigPath)
			if err != nil {
				return err
			}
			p := store.ManagedProcess{
				Name:        flags.Name,
				MonitorPath: flags.MonitorPath,
				LaunchPath:  flags.LaunchPath,
				CycleHours:  flags.CycleHours,
			}
			if flags.ResetTime != "" {
				ct, err := store.ParseClock(flags.ResetTime)
				if err != nil {
					return fmt.Errorf("invalid --reset-time: %w", err)
				}
				p.ResetTime = &ct
			}
			for _, w := range flags.Windows {
				tw, err := parseWindow(w)
				if err != nil {
					return err
				}
				p.Windows = append(p.Windows, tw)
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			if err := api.CreateProcess(ctx, &p); err != nil {
				return err
			}
			fmt.Printf("registered process %d (%s)\n", p.ID, p.Name)
			return nil
		},
	}
	cmd.Flags().StringVar(&flags.Name, "name", "", "display name (required)")
	cmd.Flags().StringVar(&flags.MonitorPath, "monitor-path", "", "executable path to watch for (required)")
	cmd.Flags().StringVar(&flags.LaunchPath, "launch-path", "", "executable to start on launch requests")
	cmd.Flags().IntVar(&flags.CycleHours, "cycle-hours", 0, "play cycle length in hours (default 24)")
	cmd.Flags().StringVar(&flags.ResetTime, "reset-time", "", "daily reset time, HH:MM")
	cmd.Flags().StringSliceVar(&flags.Windows, "window", nil, "mandatory play window, HH:MM-HH:MM (repeatable)")
	if err := cmd.MarkFlagRequired("name"); err != nil {
		panic(err)
	}
	if err := cmd.MarkFlagRequired("monitor-path"); err != nil {
		panic(err)
	}
	return cmd
}

func parseWindow(s string) (store.TimeWindow, error) {
	var tw store.TimeWindow
	startStr, endStr, ok := strings.Cut(s, "-")
	if !ok {
		return tw, fmt.Errorf("invalid window %q, want HH:MM-HH:MM", s)
	}
	start, err := store.ParseClock(startStr)
	if err != nil {
		return tw, fmt.Errorf("invalid window %q: %w", s, err)
	}
	end, err := store.ParseClock(endStr)
	if err != nil {
		return tw, fmt.Errorf("invalid window %q: %w", s, err)
	}
	return store.TimeWindow{Start: start, End: end, Enabled: true}, nil
}

func createProcessListCommand(globalFlags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List tracked processes",
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := apiFromConfig(globalFlags.ConfigPath)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			procs, err := api.GetManagedProcesses(ctx)
			if err != nil {
				return err
			}
			for _, p := range procs {
				fmt.Printf("%-4d %-24s cycle %dh  %s\n", p.ID, p.Name, p.CycleHours, p.MonitorPath)
			}
			return nil
		},
	}
}

func createProcessRemoveCommand(globalFlags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove a tracked process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid process id %q", args[0])
			}
			api, err := apiFromConfig(globalFlags.ConfigPath)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			if err := api.DeleteProcess(ctx, id); err != nil {
				return err
			}
			fmt.Printf("removed process %d\n", id)
			return nil
		},
	}
}
