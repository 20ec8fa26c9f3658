package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the prometheus collectors for one process (daemon or server).
// Each process builds its own registry; the server exposes it on /metrics,
// the daemon on the optional metrics listener.
type Metrics struct {
	Registry *prometheus.Registry

	Ticks              prometheus.Counter
	TickDuration       prometheus.Histogram
	SessionsOpened     prometheus.Counter
	SessionsClosed     prometheus.Counter
	TrackedProcesses   prometheus.Gauge
	NotificationsFired *prometheus.CounterVec
	CheckpointsRun     prometheus.Counter
	CheckpointsSkipped prometheus.Counter
}

// New builds a Metrics set on its own registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		Registry: reg,
		Ticks: factory.NewCounter(prometheus.CounterOpts{
			Name: "playwarden_ticks_total",
			Help: "Tracker/scheduler ticks executed.",
		}),
		TickDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "playwarden_tick_duration_seconds",
			Help:    "Wall time of one tracker+scheduler tick.",
			Buckets: prometheus.DefBuckets,
		}),
		SessionsOpened: factory.NewCounter(prometheus.CounterOpts{
			Name: "playwarden_sessions_opened_total",
			Help: "Play sessions opened.",
		}),
		SessionsClosed: factory.NewCounter(prometheus.CounterOpts{
			Name: "playwarden_sessions_closed_total",
			Help: "Play sessions closed.",
		}),
		TrackedProcesses: factory.NewGauge(prometheus.GaugeOpts{
			Name: "playwarden_tracked_processes",
			Help: "Managed processes currently observed running.",
		}),
		NotificationsFired: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "playwarden_notifications_fired_total",
			Help: "Notifications delivered, by kind.",
		}, []string{"kind"}),
		CheckpointsRun: factory.NewCounter(prometheus.CounterOpts{
			Name: "playwarden_wal_checkpoints_total",
			Help: "WAL checkpoints completed.",
		}),
		CheckpointsSkipped: factory.NewCounter(prometheus.CounterOpts{
			Name: "playwarden_wal_checkpoints_skipped_total",
			Help: "WAL checkpoints skipped due to lock contention.",
		}),
	}
}
