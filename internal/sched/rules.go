package sched

import (
	"context"
	"fmt"
	"time"

	"github.com/playwarden/playwarden/internal/notify"
	"github.com/playwarden/playwarden/internal/store"
)

// fireKey identifies one qualifying instant of one notification kind for one
// process. The period component changes whenever the underlying condition
// resets (a new day, a new cycle deadline), which is what makes delivery
// exactly-once per instant rather than once forever.
type fireKey struct {
	processID int64
	kind      notify.Kind
	period    string
}

// trigger is a notification that is due now (or was due during sleep).
type trigger struct {
	key       fireKey
	message   string
	naturalAt time.Time
}

// ruleEnv is what a rule may consult. Sessions come through the store port;
// the running set comes from the tracker's active map.
type ruleEnv struct {
	sessions store.SessionStore
	running  func(processID int64) bool
}

// rule produces the due triggers for one notification kind. The closed set of
// rules replaces per-kind ad hoc boolean checks: the scheduler walks them
// uniformly and applies enablement, sleep deferral, and once-marking outside.
type rule interface {
	kind() notify.Kind
	enabled(set store.GlobalSettings) bool
	evaluate(ctx context.Context, now time.Time, p store.ManagedProcess, set store.GlobalSettings, env ruleEnv) ([]trigger, error)
}

// deferrable reports whether the kind participates in sleep correction.
// Daily reset fires regardless of the sleep window.
func deferrable(k notify.Kind) bool { return k != notify.KindDailyReset }

// --- mandatory play windows ---

type mandatoryRule struct{}

func (mandatoryRule) kind() notify.Kind { return notify.KindMandatory }

func (mandatoryRule) enabled(set store.GlobalSettings) bool { return set.NotifyMandatory }

func (mandatoryRule) evaluate(ctx context.Context, now time.Time, p store.ManagedProcess, _ store.GlobalSettings, env ruleEnv) ([]trigger, error) {
	var out []trigger
	for i, w := range p.Windows {
		if !w.Enabled {
			continue
		}
		ws, we := activeWindow(w, now)
		if ws.IsZero() {
			continue
		}
		// Satisfaction policy: any session overlapping the window counts,
		// boundary-straddling sessions included.
		sessions, err := env.sessions.SessionsOverlapping(ctx, p.ID, ws, we)
		if err != nil {
			return nil, fmt.Errorf("window overlap query: %w", err)
		}
		satisfied := false
		for _, s := range sessions {
			if s.Overlaps(ws, we, now) {
				satisfied = true
				break
			}
		}
		if satisfied || env.running(p.ID) {
			continue
		}
		out = append(out, trigger{
			key: fireKey{
				processID: p.ID,
				kind:      notify.KindMandatory,
				period:    fmt.Sprintf("%s#%d", ws.Format("2006-01-02T15:04"), i),
			},
			message:   fmt.Sprintf("%s: mandatory play window %s-%s is open", p.Name, w.Start, w.End),
			naturalAt: ws,
		})
	}
	return out, nil
}

// activeWindow anchors w around now and returns its bounds when now falls
// inside; zero times otherwise. Wrapping windows are checked against both
// today's and yesterday's opening.
func activeWindow(w store.TimeWindow, now time.Time) (time.Time, time.Time) {
	for _, anchor := range []time.Time{now, now.AddDate(0, 0, -1)} {
		ws, we := w.Bounds(anchor)
		if !now.Before(ws) && now.Before(we) {
			return ws, we
		}
	}
	return time.Time{}, time.Time{}
}

// --- cycle deadline advance notice ---

type cycleRule struct{}

func (cycleRule) kind() notify.Kind { return notify.KindCycle }

func (cycleRule) enabled(set store.GlobalSettings) bool { return set.NotifyCycle }

func (cycleRule) evaluate(_ context.Context, now time.Time, p store.ManagedProcess, set store.GlobalSettings, env ruleEnv) ([]trigger, error) {
	if p.LastPlayed == nil || env.running(p.ID) {
		return nil, nil
	}
	deadline := p.LastPlayed.Add(p.Cycle())
	advance := time.Duration(set.CycleAdvanceHours) * time.Hour
	if advance <= 0 {
		advance = time.Hour
	}
	noticeAt := deadline.Add(-advance)
	if now.Before(noticeAt) || !now.Before(deadline) {
		return nil, nil
	}
	return []trigger{{
		key: fireKey{
			processID: p.ID,
			kind:      notify.KindCycle,
			// The deadline identifies the cycle: playing again moves it and
			// re-arms the notice.
			period: deadline.UTC().Format(time.RFC3339),
		},
		message:   fmt.Sprintf("%s: cycle ends at %s", p.Name, deadline.Local().Format("15:04")),
		naturalAt: noticeAt,
	}}, nil
}

// --- daily reset ---

type dailyResetRule struct{}

func (dailyResetRule) kind() notify.Kind { return notify.KindDailyReset }

func (dailyResetRule) enabled(set store.GlobalSettings) bool { return set.NotifyReset }

func (dailyResetRule) evaluate(_ context.Context, now time.Time, p store.ManagedProcess, _ store.GlobalSettings, _ ruleEnv) ([]trigger, error) {
	if p.ResetTime == nil {
		return nil, nil
	}
	boundary := LastResetBefore(now, *p.ResetTime)
	return []trigger{{
		key: fireKey{
			processID: p.ID,
			kind:      notify.KindDailyReset,
			period:    boundary.Format("2006-01-02"),
		},
		message:   fmt.Sprintf("%s: server reset at %s", p.Name, p.ResetTime),
		naturalAt: boundary,
	}}, nil
}

var allRules = []rule{mandatoryRule{}, cycleRule{}, dailyResetRule{}}
