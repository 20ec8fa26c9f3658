package sched

import (
	"time"

	"github.com/playwarden/playwarden/internal/store"
)

// Status is the derived visual state of a managed process. It is recomputed
// from persisted facts every tick; nothing about it is stored.
type Status int

const (
	StatusRunning Status = iota
	StatusCompleted
	StatusIncomplete
)

func (s Status) String() string {
	switch s {
	case StatusRunning:
		return "running"
	case StatusCompleted:
		return "completed"
	default:
		return "incomplete"
	}
}

// DetermineStatus derives the visual status. Pure: identical inputs always
// produce the same result.
//
//   - RUNNING while an open session exists.
//   - Never played means INCOMPLETE.
//   - A configured server reset gates completeness: last play must fall on or
//     after the most recent reset boundary strictly before now.
//   - Otherwise the rolling user cycle decides: COMPLETED until
//     lastPlayed+cycle, INCOMPLETE after.
func DetermineStatus(now time.Time, running bool, lastPlayed *time.Time, cycleHours int, reset *store.ClockTime) Status {
	if running {
		return StatusRunning
	}
	if lastPlayed == nil {
		return StatusIncomplete
	}
	if reset != nil && lastPlayed.Before(LastResetBefore(now, *reset)) {
		return StatusIncomplete
	}
	cycle := cycleHours
	if cycle <= 0 {
		cycle = store.DefaultCycleHours
	}
	deadline := lastPlayed.Add(time.Duration(cycle) * time.Hour)
	if now.Before(deadline) {
		return StatusCompleted
	}
	return StatusIncomplete
}

// LastResetBefore returns the most recent reset boundary at or before now:
// today at the reset time when now is at or past it, otherwise yesterday.
func LastResetBefore(now time.Time, reset store.ClockTime) time.Time {
	b := reset.On(now)
	if now.Before(b) {
		b = b.AddDate(0, 0, -1)
	}
	return b
}
