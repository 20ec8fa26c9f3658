package playwarden

import (
	"context"
	"log/slog"
	"time"

	cfg "github.com/playwarden/playwarden/internal/config"
	"github.com/playwarden/playwarden/internal/history"
	"github.com/playwarden/playwarden/internal/notify"
	"github.com/playwarden/playwarden/internal/procscan"
	"github.com/playwarden/playwarden/internal/sched"
	"github.com/playwarden/playwarden/internal/store"
	"github.com/playwarden/playwarden/internal/store/factory"
	"github.com/playwarden/playwarden/internal/tracker"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type ManagedProcess = store.ManagedProcess

type Session = store.Session

type GlobalSettings = store.GlobalSettings

type TimeWindow = store.TimeWindow

type ClockTime = store.ClockTime

type Status = sched.Status

const (
	StatusRunning    = sched.StatusRunning
	StatusCompleted  = sched.StatusCompleted
	StatusIncomplete = sched.StatusIncomplete
)

type NotifySink = notify.Sink

type HistorySink = history.Sink

// Warden is the embedded form of the daemon: tracker and scheduler driven by
// the caller's ticks against a directly opened store, no server process.
type Warden struct {
	st  store.Store
	trk *tracker.Tracker
	sch *sched.Scheduler
	log *slog.Logger
}

// Options configures an embedded Warden.
type Options struct {
	// DSN selects the store backend (sqlite path or postgres URL).
	DSN string

	// Sink receives notifications; nil means they go to the log.
	Sink notify.Sink

	// History sinks receive session open/close events.
	History []history.Sink

	Logger *slog.Logger
}

// New opens the store and assembles an embedded Warden. The caller owns the
// tick cadence; Close releases the store.
func New(opts Options) (*Warden, error) {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	st, err := factory.NewFromDSN(opts.DSN)
	if err != nil {
		return nil, err
	}
	if err := st.EnsureSchema(context.Background()); err != nil {
		_ = st.Close()
		return nil, err
	}
	sink := opts.Sink
	if sink == nil {
		sink = notify.SlogSink{Log: log}
	}
	return &Warden{
		st:  st,
		trk: tracker.New(st, log, tracker.WithHistorySinks(opts.History...)),
		sch: sched.New(st, sink, log),
		log: log,
	}, nil
}

// Store exposes the underlying store for process and settings management.
func (w *Warden) Store() store.Store { return w.st }

// Tick runs one tracker-then-scheduler pass at now.
func (w *Warden) Tick(ctx context.Context, now time.Time) error {
	procs, err := w.st.GetManagedProcesses(ctx)
	if err != nil {
		return err
	}
	set, err := w.st.GetGlobalSettings(ctx)
	if err != nil {
		set = store.DefaultSettings()
	}
	snap := procscan.Take(w.log)
	w.trk.Tick(ctx, now, snap, procs)
	w.sch.Tick(ctx, now, procs, w.trk.Running, set)
	return nil
}

// StatusOf returns the scheduler's last derived status for a process.
func (w *Warden) StatusOf(processID int64) (Status, bool) { return w.sch.StatusOf(processID) }

// Close checkpoints and closes the store.
func (w *Warden) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := w.st.Checkpoint(ctx, store.CheckpointTruncate); err != nil {
		w.log.Warn("close checkpoint failed", "error", err)
	}
	return w.st.Close()
}

// LoadConfig reads a TOML config file with defaults applied.
func LoadConfig(path string) (cfg.FileConfig, error) { return cfg.Load(path) }
