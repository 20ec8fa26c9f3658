package store

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors shared by all backends.
var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrLocked marks a transient lock/busy failure eligible for retry.
	ErrLocked = errors.New("store: locked")
)

// CheckpointMode selects the WAL checkpoint flavor.
type CheckpointMode string

const (
	// CheckpointPassive merges what it can without blocking writers.
	CheckpointPassive CheckpointMode = "PASSIVE"
	// CheckpointTruncate blocks until the log is fully merged and truncated.
	// Used by the shutdown sequence.
	CheckpointTruncate CheckpointMode = "TRUNCATE"
)

// SessionStore is the part of the persistence port the tracker and the
// scheduler depend on. Backends must enable write-ahead logging where the
// engine supports it.
type SessionStore interface {
	CreateSession(ctx context.Context, processID int64, processName string, start time.Time) (int64, error)
	EndSession(ctx context.Context, sessionID int64, end time.Time) (time.Duration, error)
	UpdateLastPlayed(ctx context.Context, processID int64, ts time.Time) error
	GetManagedProcesses(ctx context.Context) ([]ManagedProcess, error)
	GetGlobalSettings(ctx context.Context) (GlobalSettings, error)
	// SessionsOverlapping returns sessions for processID intersecting
	// [from, to), open sessions included.
	SessionsOverlapping(ctx context.Context, processID int64, from, to time.Time) ([]Session, error)
}

// Store is the full persistence port implemented by the embedded server's
// backends and by the HTTP client.
type Store interface {
	SessionStore

	EnsureSchema(ctx context.Context) error

	CreateProcess(ctx context.Context, p *ManagedProcess) error
	UpdateProcess(ctx context.Context, p ManagedProcess) error
	DeleteProcess(ctx context.Context, id int64) error
	GetProcess(ctx context.Context, id int64) (ManagedProcess, error)

	UpdateGlobalSettings(ctx context.Context, g GlobalSettings) error

	ListShortcuts(ctx context.Context) ([]WebShortcut, error)
	CreateShortcut(ctx context.Context, s *WebShortcut) error
	DeleteShortcut(ctx context.Context, id int64) error

	ListSessions(ctx context.Context, processID int64, limit int) ([]Session, error)
	OpenSessions(ctx context.Context) ([]Session, error)

	// Checkpoint forces a WAL checkpoint. Backends without a WAL return nil.
	Checkpoint(ctx context.Context, mode CheckpointMode) error
	Close() error
}
