// Package server hosts the persistence/API process. Exactly one instance
// runs system-wide; the supervisor in the desktop daemon guarantees that.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/playwarden/playwarden/internal/metrics"
	"github.com/playwarden/playwarden/internal/store"
)

// Config holds the server runtime options.
type Config struct {
	Addr               string
	CheckpointInterval time.Duration
	ShutdownTimeout    time.Duration
}

// Run serves the API until ctx is cancelled, then executes the ordered
// shutdown sequence: (1) TRUNCATE WAL checkpoint, (2) close database
// handles, (3) stop accepting connections. Steps are best-effort and never
// short-circuit: a failed checkpoint must not leave connections open.
// Lock release and marker-file removal are the supervisor's steps; they
// happen in the owning daemon process.
func Run(ctx context.Context, cfg Config, st store.Store, log *slog.Logger, met *metrics.Metrics) error {
	if log == nil {
		log = slog.Default()
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}

	if err := st.EnsureSchema(ctx); err != nil {
		return err
	}

	router := NewRouter(st, log, met)
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	loopCtx, cancelLoop := context.WithCancel(ctx)
	defer cancelLoop()
	go checkpointLoop(loopCtx, st, cfg.CheckpointInterval, log, met)

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		// Listener died on its own; still run the cleanup sequence.
		shutdownSequence(cfg, st, srv, log)
		return err
	case <-ctx.Done():
	}

	shutdownSequence(cfg, st, srv, log)
	return nil
}

// shutdownSequence drains in-flight requests, then performs the data-safety
// steps in order: TRUNCATE checkpoint before closing handles. The checkpoint
// is the critical step: committed-but-uncheckpointed WAL data would be
// invisible to any tool that opens the main store file without WAL awareness.
func shutdownSequence(cfg Config, st store.Store, srv *http.Server, log *slog.Logger) {
	log.Info("server shutting down")
	cpCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(cpCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("http shutdown failed", "error", err)
	}
	if err := st.Checkpoint(cpCtx, store.CheckpointTruncate); err != nil {
		log.Error("shutdown checkpoint failed", "error", err)
	}
	if err := st.Close(); err != nil {
		log.Error("store close failed", "error", err)
	}
	log.Info("server stopped")
}
