package sched

import (
	"testing"
	"time"

	"github.com/playwarden/playwarden/internal/store"
)

func ts(t time.Time) *time.Time { return &t }

func TestDetermineStatus(t *testing.T) {
	now := time.Date(2025, 3, 14, 12, 0, 0, 0, time.Local)
	reset := store.ClockTime(6 * 60) // 06:00

	cases := []struct {
		name       string
		running    bool
		lastPlayed *time.Time
		cycleHours int
		reset      *store.ClockTime
		want       Status
	}{
		{"running wins", true, ts(now.Add(-100 * time.Hour)), 24, &reset, StatusRunning},
		{"never played", false, nil, 24, nil, StatusIncomplete},
		{"played within cycle", false, ts(now.Add(-2 * time.Hour)), 24, nil, StatusCompleted},
		{"cycle expired", false, ts(now.Add(-25 * time.Hour)), 24, nil, StatusIncomplete},
		{"zero cycle defaults to 24h", false, ts(now.Add(-2 * time.Hour)), 0, nil, StatusCompleted},
		{"long cycle keeps completed", false, ts(now.Add(-40 * time.Hour)), 48, nil, StatusCompleted},
		{"played before today's reset", false, ts(now.Add(-7 * time.Hour)), 24, &reset, StatusIncomplete},
		{"played after today's reset", false, ts(now.Add(-2 * time.Hour)), 24, &reset, StatusCompleted},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := DetermineStatus(now, c.running, c.lastPlayed, c.cycleHours, c.reset)
			if got != c.want {
				t.Fatalf("got %v, want %v", got, c.want)
			}
		})
	}
}

func TestDetermineStatusDeterministic(t *testing.T) {
	now := time.Date(2025, 3, 14, 12, 0, 0, 0, time.Local)
	last := ts(now.Add(-3 * time.Hour))
	reset := store.ClockTime(6 * 60)
	first := DetermineStatus(now, false, last, 24, &reset)
	for i := 0; i < 100; i++ {
		if got := DetermineStatus(now, false, last, 24, &reset); got != first {
			t.Fatalf("iteration %d: got %v, want %v", i, got, first)
		}
	}
}

func TestLastResetBefore(t *testing.T) {
	reset := store.ClockTime(6 * 60)

	after := time.Date(2025, 3, 14, 12, 0, 0, 0, time.Local)
	if got := LastResetBefore(after, reset); got.Day() != 14 || got.Hour() != 6 {
		t.Fatalf("after reset: %v", got)
	}

	before := time.Date(2025, 3, 14, 5, 0, 0, 0, time.Local)
	if got := LastResetBefore(before, reset); got.Day() != 13 || got.Hour() != 6 {
		t.Fatalf("before reset: %v", got)
	}

	at := time.Date(2025, 3, 14, 6, 0, 0, 0, time.Local)
	if got := LastResetBefore(at, reset); got.Day() != 14 {
		t.Fatalf("exactly at reset: %v", got)
	}
}
