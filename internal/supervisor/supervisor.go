// Package supervisor keeps exactly one server process alive system-wide.
// The primary singleton guarantee is an OS-level lock that the kernel
// releases when its holder dies; a PID marker file is the fallback when the
// lock primitive is unavailable, and an HTTP liveness probe decides whether
// an already-running server is actually serving.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"time"
)

// State is the supervisor's view of the server lifecycle.
type State int

const (
	StateAbsent State = iota
	StateStarting
	StateReady
	StateShuttingDown
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	case StateShuttingDown:
		return "shutting_down"
	default:
		return "absent"
	}
}

var errLockHeld = errors.New("server lock held by another process")

// Prober checks whether the server answers its liveness endpoint.
type Prober interface {
	Health(ctx context.Context) error
}

// Checkpointer flushes the server's write-ahead log. Optional; when set it
// runs as the first shutdown step.
type Checkpointer func(ctx context.Context) error

// Config holds supervisor options. LockPath and MarkerPath must be absolute.
type Config struct {
	LockPath   string
	MarkerPath string

	// ServerArgs is the argv used to spawn the server, ServerArgs[0] being
	// the binary. Empty means re-exec the current binary with "serve".
	ServerArgs []string

	Probe      Prober
	Checkpoint Checkpointer

	// ReadyTimeout bounds how long EnsureRunning waits for the probe to
	// succeed after a spawn or when attaching to an existing server.
	ReadyTimeout  time.Duration
	ProbeInterval time.Duration

	// StopTimeout bounds how long Shutdown waits for the child to exit
	// after being signalled.
	StopTimeout time.Duration

	// ServerLog receives the child's stdout and stderr.
	ServerLog io.Writer
}

// Supervisor owns (or observes) the single server process.
type Supervisor struct {
	cfg Config
	log *slog.Logger

	state State
	owner bool
	lock  *singletonLock
	child *os.Process
	done  chan error
}

// New creates a supervisor. It does not touch the lock or spawn anything.
func New(cfg Config, log *slog.Logger) (*Supervisor, error) {
	if cfg.LockPath == "" || cfg.MarkerPath == "" {
		return nil, errors.New("supervisor: lock and marker paths are required")
	}
	if cfg.Probe == nil {
		return nil, errors.New("supervisor: a liveness prober is required")
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = 10 * time.Second
	}
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = 250 * time.Millisecond
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 10 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Supervisor{cfg: cfg, log: log}, nil
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State { return s.state }

// Owner reports whether this supervisor spawned and owns the server process.
func (s *Supervisor) Owner() bool { return s.owner }

// EnsureRunning establishes that a ready server exists, spawning one if
// needed. On return with nil error the liveness probe has succeeded at least
// once and the state is StateReady.
func (s *Supervisor) EnsureRunning(ctx context.Context) error {
	s.state = StateStarting

	if !lockAvailable() {
		return s.ensureViaMarker(ctx)
	}

	lock, err := acquireLock(s.cfg.LockPath)
	switch {
	case err == nil:
		s.lock = lock
		return s.startOwned(ctx)
	case errors.Is(err, errLockHeld):
		// Another process owns the server. Attach, do not spawn.
		s.log.Info("server lock held elsewhere, attaching")
		if err := s.waitReady(ctx); err != nil {
			s.state = StateAbsent
			return fmt.Errorf("server lock is held but server is not answering: %w", err)
		}
		s.owner = false
		s.state = StateReady
		return nil
	default:
		s.log.Warn("server lock unavailable, falling back to marker file", "error", err)
		return s.ensureViaMarker(ctx)
	}
}

// ensureViaMarker is the degraded singleton path: trust the marker when it
// points at a live incarnation, otherwise clear it and spawn.
func (s *Supervisor) ensureViaMarker(ctx context.Context) error {
	if pid, alive := markerAlive(s.cfg.MarkerPath); alive {
		s.log.Info("marker points at live server", "pid", pid)
		if err := s.waitReady(ctx); err == nil {
			s.owner = false
			s.state = StateReady
			return nil
		}
		s.log.Warn("marker process alive but not serving, replacing", "pid", pid)
	}
	if err := removeMarker(s.cfg.MarkerPath); err != nil {
		s.log.Warn("stale marker removal failed", "error", err)
	}
	return s.startOwned(ctx)
}

// startOwned spawns the server child, writes the marker, and waits for
// readiness. Called with the lock held (or in marker-fallback mode).
func (s *Supervisor) startOwned(ctx context.Context) error {
	// A crashed previous owner may have left its marker behind.
	if _, alive := markerAlive(s.cfg.MarkerPath); !alive {
		_ = removeMarker(s.cfg.MarkerPath)
	}

	args := s.cfg.ServerArgs
	if len(args) == 0 {
		exe, err := os.Executable()
		if err != nil {
			s.fail()
			return fmt.Errorf("resolve server binary: %w", err)
		}
		args = []string{exe, "serve"}
	}
	cmd := exec.Command(args[0], args[1:]...)
	if s.cfg.ServerLog != nil {
		cmd.Stdout = s.cfg.ServerLog
		cmd.Stderr = s.cfg.ServerLog
	}
	if err := cmd.Start(); err != nil {
		s.fail()
		return fmt.Errorf("spawn server: %w", err)
	}
	s.child = cmd.Process
	s.done = make(chan error, 1)
	go func() { s.done <- cmd.Wait() }()
	s.log.Info("server spawned", "pid", cmd.Process.Pid)

	if err := writeMarker(s.cfg.MarkerPath, cmd.Process.Pid); err != nil {
		s.log.Warn("marker write failed", "error", err)
	}

	if err := s.waitReady(ctx); err != nil {
		s.log.Error("server failed readiness, stopping it", "error", err)
		_ = terminate(s.child)
		s.fail()
		return fmt.Errorf("server did not become ready: %w", err)
	}
	s.owner = true
	s.state = StateReady
	return nil
}

// waitReady polls the liveness probe until it succeeds or the window closes.
func (s *Supervisor) waitReady(ctx context.Context) error {
	deadline := time.Now().Add(s.cfg.ReadyTimeout)
	var lastErr error
	for {
		probeCtx, cancel := context.WithTimeout(ctx, s.cfg.ProbeInterval*4)
		lastErr = s.cfg.Probe.Health(probeCtx)
		cancel()
		if lastErr == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("liveness probe kept failing: %w", lastErr)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.cfg.ProbeInterval):
		}
	}
}

// fail resets to StateAbsent, releasing the lock if held.
func (s *Supervisor) fail() {
	if s.lock != nil {
		_ = s.lock.release()
		s.lock = nil
	}
	s.owner = false
	s.state = StateAbsent
}

// Shutdown runs the ordered teardown. Every step is attempted even when an
// earlier one fails; the first error is returned after all steps ran.
// Order matters for data safety: the checkpoint flushes the WAL while the
// server is still alive, the server closes its own handles on termination,
// and only then do the lock and marker disappear so a new instance can start.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	if !s.owner {
		// Attached observers tear down nothing; the owner does.
		s.state = StateAbsent
		return nil
	}
	s.state = StateShuttingDown
	var firstErr error
	record := func(step string, err error) {
		if err == nil {
			return
		}
		s.log.Error("shutdown step failed", "step", step, "error", err)
		if firstErr == nil {
			firstErr = fmt.Errorf("%s: %w", step, err)
		}
	}

	if s.cfg.Checkpoint != nil {
		record("checkpoint", s.cfg.Checkpoint(ctx))
	}

	if s.child != nil {
		record("terminate", terminate(s.child))
		select {
		case err := <-s.done:
			var exitErr *exec.ExitError
			if err != nil && !errors.As(err, &exitErr) {
				record("wait", err)
			}
			s.log.Info("server exited", "pid", s.child.Pid)
		case <-time.After(s.cfg.StopTimeout):
			s.log.Warn("server did not exit in time, killing", "pid", s.child.Pid)
			record("kill", s.child.Kill())
		case <-ctx.Done():
			record("wait", ctx.Err())
		}
		s.child = nil
	}

	if s.lock != nil {
		record("release lock", s.lock.release())
		s.lock = nil
	}
	record("remove marker", removeMarker(s.cfg.MarkerPath))

	s.owner = false
	s.state = StateAbsent
	return firstErr
}
