// Package tracker converts OS process existence into session lifecycle
// events. It owns the in-memory active map that enforces the one-open-session
// invariant per managed process.
package tracker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/playwarden/playwarden/internal/history"
	"github.com/playwarden/playwarden/internal/metrics"
	"github.com/playwarden/playwarden/internal/procscan"
	"github.com/playwarden/playwarden/internal/store"
)

// activeEntry is the in-memory record of one tracked process. It is the
// source of truth for a close whose persistence write is still owed after
// the OS process has already disappeared.
type activeEntry struct {
	processID int64
	name      string
	pid       int32
	startedAt time.Time
	sessionID int64

	// closing is set once the OS process has vanished; wantEnd pins the end
	// timestamp observed at that moment so retried writes stay stable.
	closing bool
	wantEnd time.Time
}

// Tracker opens and closes sessions against process snapshots.
// Not safe for concurrent use: Tick runs on the single control goroutine.
type Tracker struct {
	st     store.SessionStore
	log    *slog.Logger
	met    *metrics.Metrics
	sinks  []history.Sink
	active map[int64]*activeEntry
}

// Option configures optional tracker collaborators.
type Option func(*Tracker)

// WithMetrics attaches prometheus collectors.
func WithMetrics(m *metrics.Metrics) Option { return func(t *Tracker) { t.met = m } }

// WithHistorySinks attaches session history export sinks.
func WithHistorySinks(sinks ...history.Sink) Option {
	return func(t *Tracker) { t.sinks = append(t.sinks, sinks...) }
}

func New(st store.SessionStore, log *slog.Logger, opts ...Option) *Tracker {
	if log == nil {
		log = slog.Default()
	}
	t := &Tracker{st: st, log: log, active: make(map[int64]*activeEntry)}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Running reports whether the process currently has an open session.
func (t *Tracker) Running(processID int64) bool {
	e, ok := t.active[processID]
	return ok && !e.closing
}

// ActiveCount returns the number of processes observed running.
func (t *Tracker) ActiveCount() int {
	n := 0
	for _, e := range t.active {
		if !e.closing {
			n++
		}
	}
	return n
}

// Tick evaluates every managed process against the snapshot and returns
// whether any session event occurred (the caller uses this to coalesce UI
// refreshes). A failure on one process never blocks the rest.
func (t *Tracker) Tick(ctx context.Context, now time.Time, snap procscan.Snapshot, procs []store.ManagedProcess) bool {
	changed := false

	// Stop events owed from earlier ticks fire first: the OS process is gone
	// and only the held entry knows about the open session.
	for id, e := range t.active {
		if e.closing && t.finishClose(ctx, e) {
			delete(t.active, id)
			changed = true
		}
	}

	for i := range procs {
		if t.evalProcess(ctx, now, snap, procs[i]) {
			changed = true
		}
	}

	// Managed processes deleted by the user while running: their entries no
	// longer appear in procs, close them out like any disappearance.
	known := make(map[int64]struct{}, len(procs))
	for i := range procs {
		known[procs[i].ID] = struct{}{}
	}
	for id, e := range t.active {
		if _, ok := known[id]; ok || e.closing {
			continue
		}
		if t.beginClose(ctx, e, now) {
			delete(t.active, id)
		}
		changed = true
	}

	if t.met != nil {
		t.met.TrackedProcesses.Set(float64(t.ActiveCount()))
	}
	return changed
}

// evalProcess handles one managed process for one tick. Panics are contained
// so a malformed record cannot take down the loop.
func (t *Tracker) evalProcess(ctx context.Context, now time.Time, snap procscan.Snapshot, p store.ManagedProcess) (changed bool) {
	defer func() {
		if r := recover(); r != nil {
			t.log.Error("tracker evaluation panic", "process", p.Name, "process_id", p.ID, "panic", fmt.Sprint(r))
		}
	}()

	e, tracked := t.active[p.ID]
	if tracked {
		if e.closing {
			// Close still owed; do not reopen until it lands, otherwise two
			// open sessions would exist for this process.
			return false
		}
		if snap.Contains(e.pid) {
			return false
		}
		if t.beginClose(ctx, e, now) {
			delete(t.active, p.ID)
		}
		return true
	}

	proc, ok := snap.Match(p.MonitorPath)
	if !ok {
		return false
	}
	start := procscan.StartTime(proc.PID)
	if start.IsZero() || start.After(now) {
		start = now
	}
	var sessionID int64
	err := store.WithRetry(ctx, func() error {
		var err error
		sessionID, err = t.st.CreateSession(ctx, p.ID, p.Name, start)
		return err
	})
	if err != nil {
		// Dropped for this tick; re-attempted next tick while the process is
		// still observably running.
		t.log.Warn("session open failed", "process", p.Name, "process_id", p.ID, "error", err)
		return false
	}
	t.active[p.ID] = &activeEntry{
		processID: p.ID,
		name:      p.Name,
		pid:       proc.PID,
		startedAt: start,
		sessionID: sessionID,
	}
	t.log.Info("session started", "process", p.Name, "pid", proc.PID, "session_id", sessionID)
	if t.met != nil {
		t.met.SessionsOpened.Inc()
	}
	t.emit(ctx, history.Event{
		Type: history.EventOpen, OccurredAt: now,
		ProcessID: p.ID, ProcessName: p.Name, SessionID: sessionID, StartedAt: start,
	})
	return true
}

// beginClose closes the session for a vanished process. On persistence
// failure the entry is kept (marked closing) and retried every following
// tick; it is removed only after a successful close. Returns true when the
// close persisted.
func (t *Tracker) beginClose(ctx context.Context, e *activeEntry, now time.Time) bool {
	e.closing = true
	e.wantEnd = now
	return t.finishClose(ctx, e)
}

func (t *Tracker) finishClose(ctx context.Context, e *activeEntry) bool {
	var dur time.Duration
	err := store.WithRetry(ctx, func() error {
		var err error
		dur, err = t.st.EndSession(ctx, e.sessionID, e.wantEnd)
		return err
	})
	if err != nil {
		t.log.Warn("session close failed, will retry next tick",
			"process", e.name, "session_id", e.sessionID, "error", err)
		return false
	}
	if err := t.st.UpdateLastPlayed(ctx, e.processID, e.wantEnd); err != nil {
		// Session is closed; losing the last-played bump is logged, not fatal.
		t.log.Warn("last-played update failed", "process", e.name, "error", err)
	}
	t.log.Info("session stopped", "process", e.name, "session_id", e.sessionID, "duration", dur)
	if t.met != nil {
		t.met.SessionsClosed.Inc()
	}
	end := e.wantEnd
	t.emit(ctx, history.Event{
		Type: history.EventClose, OccurredAt: e.wantEnd,
		ProcessID: e.processID, ProcessName: e.name, SessionID: e.sessionID,
		StartedAt: e.startedAt, EndedAt: &end, Duration: dur,
	})
	return true
}

func (t *Tracker) emit(ctx context.Context, evt history.Event) {
	for _, s := range t.sinks {
		if err := s.Send(ctx, evt); err != nil {
			t.log.Warn("history sink send failed", "type", string(evt.Type), "error", err)
		}
	}
}
