package store

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ClockTime is a time of day expressed as minutes since midnight, kept
// timezone-free. Wall-clock comparisons happen in the caller's location.
type ClockTime int

// ParseClock parses "HH:MM" (24-hour) into a ClockTime.
func ParseClock(s string) (ClockTime, error) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid clock time %q: want HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	return ClockTime(h*60 + m), nil
}

func (c ClockTime) Hour() int   { return int(c) / 60 }
func (c ClockTime) Minute() int { return int(c) % 60 }

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour(), c.Minute())
}

// On anchors the clock time to the calendar day of ref, in ref's location.
func (c ClockTime) On(ref time.Time) time.Time {
	return time.Date(ref.Year(), ref.Month(), ref.Day(), c.Hour(), c.Minute(), 0, 0, ref.Location())
}

// TimeWindow is a mandatory play window within a single day. End may be less
// than or equal to Start, meaning the window wraps past midnight.
type TimeWindow struct {
	Start   ClockTime `json:"start"`
	End     ClockTime `json:"end"`
	Enabled bool      `json:"enabled"`
}

// Bounds anchors the window around ref: the returned range contains ref's day
// opening of the window. For wrapping windows the end lands on the next day.
func (w TimeWindow) Bounds(ref time.Time) (time.Time, time.Time) {
	start := w.Start.On(ref)
	end := w.End.On(ref)
	if !end.After(start) {
		end = end.AddDate(0, 0, 1)
	}
	return start, end
}

// ManagedProcess is a user-configured executable the tracker watches.
// LastPlayed is set only when a session closes.
type ManagedProcess struct {
	ID          int64        `json:"id"`
	Name        string       `json:"name"`
	MonitorPath string       `json:"monitor_path"`
	LaunchPath  string       `json:"launch_path"`
	ResetTime   *ClockTime   `json:"reset_time,omitempty"`
	CycleHours  int          `json:"cycle_hours"`
	Windows     []TimeWindow `json:"windows,omitempty"`
	LastPlayed  *time.Time   `json:"last_played,omitempty"`
}

// DefaultCycleHours applies when a process has no explicit cycle configured.
const DefaultCycleHours = 24

// Cycle returns the process cycle as a duration, defaulting to 24h.
func (p ManagedProcess) Cycle() time.Duration {
	h := p.CycleHours
	if h <= 0 {
		h = DefaultCycleHours
	}
	return time.Duration(h) * time.Hour
}

// Session is one contiguous observed run of a ManagedProcess.
// EndedAt is nil while the session is open.
type Session struct {
	ID          int64         `json:"id"`
	ProcessID   int64         `json:"process_id"`
	ProcessName string        `json:"process_name"`
	StartedAt   time.Time     `json:"started_at"`
	EndedAt     *time.Time    `json:"ended_at,omitempty"`
	Duration    time.Duration `json:"duration"`
}

// Open reports whether the session has not been closed yet.
func (s Session) Open() bool { return s.EndedAt == nil }

// Overlaps reports whether the session intersects [from, to). An open session
// is treated as running until now.
func (s Session) Overlaps(from, to, now time.Time) bool {
	end := now
	if s.EndedAt != nil {
		end = *s.EndedAt
	}
	return s.StartedAt.Before(to) && end.After(from)
}

// WebShortcut is a user-pinned launcher link.
type WebShortcut struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	URL      string `json:"url"`
	Position int    `json:"position"`
}

// GlobalSettings is the singleton settings record (logical id 1).
type GlobalSettings struct {
	SleepStart        ClockTime `json:"sleep_start"`
	SleepEnd          ClockTime `json:"sleep_end"`
	SleepAdvanceHours int       `json:"sleep_advance_hours"`
	CycleAdvanceHours int       `json:"cycle_advance_hours"`
	NotifyLaunch      bool      `json:"notify_launch"`
	NotifyMandatory   bool      `json:"notify_mandatory"`
	NotifyCycle       bool      `json:"notify_cycle"`
	NotifyReset       bool      `json:"notify_reset"`
}

// DefaultSettings are used when the settings row has never been written.
func DefaultSettings() GlobalSettings {
	return GlobalSettings{
		SleepStart:        23 * 60,
		SleepEnd:          7 * 60,
		SleepAdvanceHours: 1,
		CycleAdvanceHours: 2,
		NotifyLaunch:      true,
		NotifyMandatory:   true,
		NotifyCycle:       true,
		NotifyReset:       true,
	}
}

// InSleep reports whether t falls inside [SleepStart, SleepEnd), handling
// windows that wrap past midnight.
func (g GlobalSettings) InSleep(t time.Time) bool {
	cur := ClockTime(t.Hour()*60 + t.Minute())
	if g.SleepStart == g.SleepEnd {
		return false
	}
	if g.SleepStart < g.SleepEnd {
		return cur >= g.SleepStart && cur < g.SleepEnd
	}
	return cur >= g.SleepStart || cur < g.SleepEnd
}

// SleepEndAfter returns the first instant at or after t where the sleep
// window ends. Callers must only use it when t is inside the window.
func (g GlobalSettings) SleepEndAfter(t time.Time) time.Time {
	end := g.SleepEnd.On(t)
	if end.Before(t) || end.Equal(t) {
		end = end.AddDate(0, 0, 1)
	}
	return end
}

// SleepStartBefore returns the instant the sleep window containing t opened.
// Callers must only use it when t is inside the window.
func (g GlobalSettings) SleepStartBefore(t time.Time) time.Time {
	start := g.SleepStart.On(t)
	if start.After(t) {
		start = start.AddDate(0, 0, -1)
	}
	return start
}

// WakeDeliveryAt maps a notification suppressed during sleep to its delivery
// instant: the offset of the natural fire time into the sleep window is
// carried past the window's end. A fire time already overdue when sleep began
// (negative offset) may land up to SleepAdvanceHours before the window ends,
// never earlier. Callers must only use it when now is inside the window.
func (g GlobalSettings) WakeDeliveryAt(now, naturalAt time.Time) time.Time {
	end := g.SleepEndAfter(now)
	at := end.Add(naturalAt.Sub(g.SleepStartBefore(now)))
	floor := end
	if g.SleepAdvanceHours > 0 {
		floor = end.Add(-time.Duration(g.SleepAdvanceHours) * time.Hour)
	}
	if at.Before(floor) {
		at = floor
	}
	return at
}
