// Package sched derives per-process visual status and fires time-based
// notifications at most once per qualifying instant.
package sched

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/playwarden/playwarden/internal/metrics"
	"github.com/playwarden/playwarden/internal/notify"
	"github.com/playwarden/playwarden/internal/store"
)

// firedRetention bounds the per-instant markers kept in memory. Periods are
// daily or cycle-scoped, so anything older than two days can never match a
// live key again.
const firedRetention = 48 * time.Hour

// staleResetGrace bounds how late a daily reset notice may still be
// delivered. A boundary that was already older than this when the scheduler
// came up is swallowed; the notice would arrive hours after the moment it
// announces.
const staleResetGrace = time.Minute

type deferredTrigger struct {
	trigger
	deliverAt time.Time
}

// Scheduler evaluates all notification rules once per tick. It keeps only
// delivery markers in memory; status is recomputed from persisted facts.
// Not safe for concurrent use: Tick runs on the single control goroutine.
type Scheduler struct {
	st   store.SessionStore
	sink notify.Sink
	log  *slog.Logger
	met  *metrics.Metrics

	started    time.Time
	fired      map[fireKey]time.Time
	deferred   map[fireKey]deferredTrigger
	lastStatus map[int64]Status
}

// Option configures optional scheduler collaborators.
type Option func(*Scheduler)

// WithMetrics attaches prometheus collectors.
func WithMetrics(m *metrics.Metrics) Option { return func(s *Scheduler) { s.met = m } }

func New(st store.SessionStore, sink notify.Sink, log *slog.Logger, opts ...Option) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	s := &Scheduler{
		st:         st,
		sink:       sink,
		log:        log,
		fired:      make(map[fireKey]time.Time),
		deferred:   make(map[fireKey]deferredTrigger),
		lastStatus: make(map[int64]Status),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// StatusOf returns the status computed on the most recent tick.
func (s *Scheduler) StatusOf(processID int64) (Status, bool) {
	st, ok := s.lastStatus[processID]
	return st, ok
}

// Tick evaluates every managed process and returns whether any status or
// notification state changed, so the driver can coalesce UI refreshes instead
// of repainting every second.
func (s *Scheduler) Tick(ctx context.Context, now time.Time, procs []store.ManagedProcess, running func(int64) bool, set store.GlobalSettings) bool {
	if s.started.IsZero() {
		s.started = now
	}
	changed := false
	env := ruleEnv{sessions: s.st, running: running}
	asleep := set.InSleep(now)

	seen := make(map[int64]struct{}, len(procs))
	for i := range procs {
		seen[procs[i].ID] = struct{}{}
		if s.evalProcess(ctx, now, procs[i], running, set, env, asleep) {
			changed = true
		}
	}
	// Forget statuses of deleted processes.
	for id := range s.lastStatus {
		if _, ok := seen[id]; !ok {
			delete(s.lastStatus, id)
			changed = true
		}
	}

	if s.flushDeferred(ctx, now) {
		changed = true
	}
	s.pruneFired(now)
	return changed
}

// evalProcess computes one process's status and collects its due triggers.
// Any panic is contained so a malformed record cannot block the other
// processes' evaluation.
func (s *Scheduler) evalProcess(ctx context.Context, now time.Time, p store.ManagedProcess, running func(int64) bool, set store.GlobalSettings, env ruleEnv, asleep bool) (changed bool) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("scheduler evaluation panic", "process", p.Name, "process_id", p.ID, "panic", fmt.Sprint(r))
		}
	}()

	st := DetermineStatus(now, running(p.ID), p.LastPlayed, p.CycleHours, p.ResetTime)
	if prev, ok := s.lastStatus[p.ID]; !ok || prev != st {
		s.lastStatus[p.ID] = st
		changed = true
	}

	for _, r := range allRules {
		if !r.enabled(set) {
			continue
		}
		triggers, err := r.evaluate(ctx, now, p, set, env)
		if err != nil {
			s.log.Warn("rule evaluation failed", "kind", string(r.kind()), "process", p.Name, "error", err)
			continue
		}
		for _, trig := range triggers {
			if _, done := s.fired[trig.key]; done {
				continue
			}
			if _, pending := s.deferred[trig.key]; pending {
				continue
			}
			if trig.key.kind == notify.KindDailyReset && trig.naturalAt.Before(s.started.Add(-staleResetGrace)) {
				// The boundary predates this scheduler instance. Mark it
				// delivered so the next boundary fires on time instead of
				// announcing a reset that happened hours ago.
				s.fired[trig.key] = now
				continue
			}
			if asleep && deferrable(trig.key.kind) {
				// Sleep correction: suppressed now, delivered after wake with
				// the natural fire time's offset into the window carried over,
				// instead of dropped or fired mid-sleep.
				s.deferred[trig.key] = deferredTrigger{trigger: trig, deliverAt: set.WakeDeliveryAt(now, trig.naturalAt)}
				s.log.Debug("notification deferred past sleep window",
					"kind", string(trig.key.kind), "process_id", trig.key.processID)
				changed = true
				continue
			}
			if s.deliver(ctx, now, trig) {
				changed = true
			}
		}
	}
	return changed
}

// flushDeferred delivers sleep-deferred notifications whose wake time has
// arrived, in natural fire order.
func (s *Scheduler) flushDeferred(ctx context.Context, now time.Time) bool {
	changed := false
	for key, d := range s.deferred {
		if now.Before(d.deliverAt) {
			continue
		}
		if _, done := s.fired[key]; done {
			delete(s.deferred, key)
			continue
		}
		if s.deliver(ctx, now, d.trigger) {
			delete(s.deferred, key)
			changed = true
		}
	}
	return changed
}

// deliver pushes one notification to the sink. The fired marker is set only
// on confirmed delivery; a sink failure is logged and retried naturally on
// the next tick.
func (s *Scheduler) deliver(ctx context.Context, now time.Time, trig trigger) bool {
	if err := s.sink.Notify(ctx, trig.key.kind, trig.key.processID, trig.message); err != nil {
		s.log.Warn("notification delivery failed",
			"kind", string(trig.key.kind), "process_id", trig.key.processID, "error", err)
		return false
	}
	s.fired[trig.key] = now
	if s.met != nil {
		s.met.NotificationsFired.WithLabelValues(string(trig.key.kind)).Inc()
	}
	return true
}

func (s *Scheduler) pruneFired(now time.Time) {
	for key, at := range s.fired {
		if now.Sub(at) > firedRetention {
			delete(s.fired, key)
		}
	}
}

// ReportLaunch forwards a launch result through the notification sink. It is
// an external trigger, not tick-driven, so there is no dedup marker.
func (s *Scheduler) ReportLaunch(ctx context.Context, set store.GlobalSettings, processID int64, name string, ok bool, detail string) {
	if !set.NotifyLaunch {
		return
	}
	kind := notify.KindLaunchOK
	msg := fmt.Sprintf("%s launched", name)
	if !ok {
		kind = notify.KindLaunchFailed
		msg = fmt.Sprintf("%s failed to launch: %s", name, detail)
	}
	if err := s.sink.Notify(ctx, kind, processID, msg); err != nil {
		s.log.Warn("launch notification failed", "process", name, "error", err)
		return
	}
	if s.met != nil {
		s.met.NotificationsFired.WithLabelValues(string(kind)).Inc()
	}
}
