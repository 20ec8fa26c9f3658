package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/playwarden/playwarden/internal/config"
	"github.com/playwarden/playwarden/internal/history"
	"github.com/playwarden/playwarden/internal/history/clickhouse"
	"github.com/playwarden/playwarden/internal/logger"
	"github.com/playwarden/playwarden/internal/metrics"
	"github.com/playwarden/playwarden/internal/notify"
	"github.com/playwarden/playwarden/internal/procscan"
	"github.com/playwarden/playwarden/internal/sched"
	"github.com/playwarden/playwarden/internal/store"
	"github.com/playwarden/playwarden/internal/supervisor"
	"github.com/playwarden/playwarden/internal/tracker"
	"github.com/playwarden/playwarden/pkg/client"
)

func createRunCommand(globalFlags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the tracking daemon",
		Long: `Run the playwarden daemon: make sure the persistence server is up,
then poll the process table and evaluate schedules until interrupted.

Examples:
  playwarden run
  playwarden run --config=/etc/playwarden/config.toml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(globalFlags.ConfigPath)
		},
	}
}

func runDaemon(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log := logger.New(cfg.LoggerConfig(), "playwarden")
	met := metrics.New()

	api := client.New(client.Config{BaseURL: cfg.BaseURL(), Logger: log})

	serverLog := cfg.LoggerConfig().FileWriter("server")
	defer func() { _ = serverLog.Close() }()

	exe, err := os.Executable()
	if err != nil {
		return err
	}
	serverArgs := []string{exe, "serve"}
	if configPath != "" {
		serverArgs = append(serverArgs, "--config", configPath)
	}

	sup, err := supervisor.New(supervisor.Config{
		LockPath:   cfg.LockPath(),
		MarkerPath: cfg.MarkerPath(),
		ServerArgs: serverArgs,
		Probe:      api,
		Checkpoint: func(ctx context.Context) error {
			return api.Checkpoint(ctx, store.CheckpointTruncate)
		},
		ReadyTimeout:  cfg.Supervisor.ReadyTimeout,
		ProbeInterval: cfg.Supervisor.ProbeInterval,
		StopTimeout:   cfg.Supervisor.StopTimeout,
		ServerLog:     serverLog,
	}, log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := sup.EnsureRunning(ctx); err != nil {
		return err
	}
	log.Info("daemon started", "server", cfg.BaseURL(), "owner", sup.Owner(), "tick", cfg.TickInterval)

	sinks, closeSinks := buildHistorySinks(cfg.History, log)
	defer closeSinks()

	trk := tracker.New(api, log, tracker.WithMetrics(met), tracker.WithHistorySinks(sinks...))
	sch := sched.New(api, notify.SlogSink{Log: log}, log, sched.WithMetrics(met))

	if cfg.MetricsAddr != "" {
		go serveMetrics(cfg.MetricsAddr, met, log)
	}

	ticker := time.NewTicker(cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("daemon stopping")
			shCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			return sup.Shutdown(shCtx)
		case now := <-ticker.C:
			tick(ctx, now, api, trk, sch, met, log)
		}
	}
}

// tick runs one tracker-then-scheduler pass. Store reads failing is a skipped
// tick, not a crash; open sessions are closed on a later pass once reads
// recover.
func tick(ctx context.Context, now time.Time, api *client.Client, trk *tracker.Tracker, sch *sched.Scheduler, met *metrics.Metrics, log *slog.Logger) {
	started := time.Now()
	met.Ticks.Inc()

	procs, err := api.GetManagedProcesses(ctx)
	if err != nil {
		log.Warn("tick skipped, process list unavailable", "error", err)
		return
	}
	set, err := api.GetGlobalSettings(ctx)
	if err != nil {
		log.Warn("using default settings for this tick", "error", err)
		set = store.DefaultSettings()
	}

	snap := procscan.Take(log)
	trk.Tick(ctx, now, snap, procs)
	sch.Tick(ctx, now, procs, trk.Running, set)

	met.TrackedProcesses.Set(float64(len(procs)))
	met.TickDuration.Observe(time.Since(started).Seconds())
}

func buildHistorySinks(hc config.HistoryConfig, log *slog.Logger) ([]history.Sink, func()) {
	var sinks []history.Sink
	var closers []func() error
	if hc.SQLitePath != "" {
		s, err := history.NewSQLSink(hc.SQLitePath, "session_history")
		if err != nil {
			log.Warn("sqlite history sink disabled", "error", err)
		} else {
			sinks = append(sinks, s)
			closers = append(closers, s.Close)
		}
	}
	if hc.Clickhouse.Addr != "" {
		ch := hc.Clickhouse
		s, err := clickhouse.New(ch.Addr, ch.Database, ch.Username, ch.Password, ch.Table)
		if err != nil {
			log.Warn("clickhouse history sink disabled", "error", err)
		} else {
			sinks = append(sinks, s)
			closers = append(closers, s.Close)
		}
	}
	return sinks, func() {
		for _, c := range closers {
			_ = c()
		}
	}
}

// serveMetrics exposes the daemon's own registry. The server process has its
// own /metrics endpoint; this one covers the tick loop.
func serveMetrics(addr string, met *metrics.Metrics, log *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(met.Registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	log.Info("metrics listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil {
		log.Error("metrics server stopped", "error", err)
	}
}
