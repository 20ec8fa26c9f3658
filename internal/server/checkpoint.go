package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/playwarden/playwarden/internal/metrics"
	"github.com/playwarden/playwarden/internal/store"
)

// DefaultCheckpointInterval bounds how much WAL data is ever at risk between
// checkpoints.
const DefaultCheckpointInterval = 60 * time.Second

// checkpointLoop runs a PASSIVE checkpoint on a fixed interval, concurrently
// with request handling. PASSIVE never waits on writers: when the lock is
// unavailable the interval is skipped, not queued.
func checkpointLoop(ctx context.Context, st store.Store, interval time.Duration, log *slog.Logger, met *metrics.Metrics) {
	if interval <= 0 {
		interval = DefaultCheckpointInterval
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			err := st.Checkpoint(ctx, store.CheckpointPassive)
			switch {
			case err == nil:
				if met != nil {
					met.CheckpointsRun.Inc()
				}
			case store.IsTransient(err):
				if met != nil {
					met.CheckpointsSkipped.Inc()
				}
				log.Debug("checkpoint skipped, database busy")
			default:
				log.Warn("checkpoint failed", "error", err)
			}
		}
	}
}
