package supervisor

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestMarkerRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.pid")
	pid := os.Getpid()
	if err := writeMarker(path, pid); err != nil {
		t.Fatalf("write: %v", err)
	}
	gotPID, _, err := readMarker(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if gotPID != pid {
		t.Fatalf("pid = %d, want %d", gotPID, pid)
	}

	if _, alive := markerAlive(path); !alive {
		t.Fatalf("marker for the current process reported dead")
	}
	if err := removeMarker(path); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := removeMarker(path); err != nil {
		t.Fatalf("second remove should be a no-op: %v", err)
	}
	if _, alive := markerAlive(path); alive {
		t.Fatalf("missing marker reported alive")
	}
}

func TestMarkerDeadPID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.pid")
	// Near the top of the pid space; nothing should be running there.
	if err := os.WriteFile(path, []byte("4194000\n{}\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, alive := markerAlive(path); alive {
		t.Fatalf("dead pid reported alive")
	}
}

func TestMarkerMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.pid")
	if err := os.WriteFile(path, []byte("not a pid\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, _, err := readMarker(path); err == nil {
		t.Fatalf("malformed marker parsed")
	}
	if _, alive := markerAlive(path); alive {
		t.Fatalf("malformed marker reported alive")
	}
}

func TestLockIsExclusive(t *testing.T) {
	if !lockAvailable() {
		t.Skipf("lock primitive unavailable")
	}
	path := filepath.Join(t.TempDir(), "server.lock")
	l1, err := acquireLock(path)
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	if _, err := acquireLock(path); !errors.Is(err, errLockHeld) {
		t.Fatalf("second acquire: %v, want errLockHeld", err)
	}
	if err := l1.release(); err != nil {
		t.Fatalf("release: %v", err)
	}
	l2, err := acquireLock(path)
	if err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	_ = l2.release()
}

func TestPIDAlive(t *testing.T) {
	if !pidAlive(os.Getpid()) {
		t.Fatalf("current process reported dead")
	}
	if pidAlive(0) || pidAlive(-1) {
		t.Fatalf("invalid pid reported alive")
	}
}

// stubProber flips between failing and succeeding.
type stubProber struct {
	err error
}

func (s *stubProber) Health(context.Context) error { return s.err }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestNewValidation(t *testing.T) {
	if _, err := New(Config{}, nil); err == nil {
		t.Fatalf("missing paths accepted")
	}
	if _, err := New(Config{LockPath: "/tmp/l", MarkerPath: "/tmp/m"}, nil); err == nil {
		t.Fatalf("missing prober accepted")
	}
}

func TestEnsureRunningAttachesWhenLockHeld(t *testing.T) {
	if !lockAvailable() {
		t.Skipf("lock primitive unavailable")
	}
	dir := t.TempDir()
	lockPath := filepath.Join(dir, "server.lock")
	held, err := acquireLock(lockPath)
	if err != nil {
		t.Fatalf("pre-acquire: %v", err)
	}
	defer func() { _ = held.release() }()

	sup, err := New(Config{
		LockPath:      lockPath,
		MarkerPath:    filepath.Join(dir, "server.pid"),
		Probe:         &stubProber{},
		ReadyTimeout:  time.Second,
		ProbeInterval: 10 * time.Millisecond,
	}, testLogger())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := sup.EnsureRunning(context.Background()); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if sup.Owner() {
		t.Fatalf("attached supervisor claims ownership")
	}
	if sup.State() != StateReady {
		t.Fatalf("state = %v, want ready", sup.State())
	}

	// Non-owner shutdown must not touch the lock.
	if err := sup.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if _, err := acquireLock(lockPath); !errors.Is(err, errLockHeld) {
		t.Fatalf("observer shutdown released someone else's lock")
	}
}

func TestEnsureRunningLockHeldServerDown(t *testing.T) {
	if !lockAvailable() {
		t.Skipf("lock primitive unavailable")
	}
	dir := t.TempDir()
	lockPath := filepath.Join(dir, "server.lock")
	held, err := acquireLock(lockPath)
	if err != nil {
		t.Fatalf("pre-acquire: %v", err)
	}
	defer func() { _ = held.release() }()

	sup, err := New(Config{
		LockPath:      lockPath,
		MarkerPath:    filepath.Join(dir, "server.pid"),
		Probe:         &stubProber{err: errors.New("connection refused")},
		ReadyTimeout:  50 * time.Millisecond,
		ProbeInterval: 10 * time.Millisecond,
	}, testLogger())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := sup.EnsureRunning(context.Background()); err == nil {
		t.Fatalf("expected error when lock held but server not answering")
	}
	if sup.State() != StateAbsent {
		t.Fatalf("state = %v, want absent", sup.State())
	}
}

func TestEnsureRunningSpawnFailureReleasesLock(t *testing.T) {
	if !lockAvailable() {
		t.Skipf("lock primitive unavailable")
	}
	dir := t.TempDir()
	lockPath := filepath.Join(dir, "server.lock")

	sup, err := New(Config{
		LockPath:      lockPath,
		MarkerPath:    filepath.Join(dir, "server.pid"),
		ServerArgs:    []string{filepath.Join(dir, "no-such-binary")},
		Probe:         &stubProber{err: errors.New("down")},
		ReadyTimeout:  50 * time.Millisecond,
		ProbeInterval: 10 * time.Millisecond,
	}, testLogger())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := sup.EnsureRunning(context.Background()); err == nil {
		t.Fatalf("expected spawn failure")
	}
	if sup.State() != StateAbsent {
		t.Fatalf("state = %v, want absent", sup.State())
	}
	// The lock must be free again for the next attempt.
	l, err := acquireLock(lockPath)
	if err != nil {
		t.Fatalf("lock not released after failed start: %v", err)
	}
	_ = l.release()
}

func TestStateString(t *testing.T) {
	if StateAbsent.String() != "absent" || StateReady.String() != "ready" {
		t.Fatalf("state strings wrong")
	}
	if StateStarting.String() != "starting" || StateShuttingDown.String() != "shutting_down" {
		t.Fatalf("state strings wrong")
	}
}
