package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/playwarden/playwarden/internal/config"
	"github.com/playwarden/playwarden/internal/logger"
	"github.com/playwarden/playwarden/internal/metrics"
	"github.com/playwarden/playwarden/internal/server"
	"github.com/playwarden/playwarden/internal/store/factory"
)

func createServeCommand(globalFlags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the persistence server",
		Long: `Run the persistence/API server process. The daemon spawns this
automatically; running it by hand is mainly useful for development.

Examples:
  playwarden serve
  playwarden serve --config=/etc/playwarden/config.toml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(globalFlags.ConfigPath)
		},
	}
}

func runServe(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log := logger.New(cfg.LoggerConfig(), "server")
	met := metrics.New()

	st, err := factory.NewFromDSN(cfg.Server.DSN)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return server.Run(ctx, server.Config{
		Addr:               cfg.Server.Addr,
		CheckpointInterval: cfg.Server.CheckpointInterval,
		ShutdownTimeout:    cfg.Server.ShutdownTimeout,
	}, st, log, met)
}
