package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/playwarden/playwarden/internal/store"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := db.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("schema: %v", err)
	}
	return db
}

func TestProcessCRUD(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	reset := store.ClockTime(6 * 60)
	p := store.ManagedProcess{
		Name:        "game",
		MonitorPath: "C:/Games/game.exe",
		LaunchPath:  "C:/Games/launcher.exe",
		ResetTime:   &reset,
		CycleHours:  48,
		Windows: []store.TimeWindow{
			{Start: 16 * 60, End: 18 * 60, Enabled: true},
		},
	}
	if err := db.CreateProcess(ctx, &p); err != nil {
		t.Fatalf("create: %v", err)
	}
	if p.ID == 0 {
		t.Fatalf("create did not assign id")
	}

	got, err := db.GetProcess(ctx, p.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "game" || got.CycleHours != 48 || got.ResetTime == nil || *got.ResetTime != reset {
		t.Fatalf("roundtrip mismatch: %+v", got)
	}
	if len(got.Windows) != 1 || !got.Windows[0].Enabled {
		t.Fatalf("windows mismatch: %+v", got.Windows)
	}

	got.Name = "renamed"
	if err := db.UpdateProcess(ctx, got); err != nil {
		t.Fatalf("update: %v", err)
	}
	all, err := db.GetManagedProcesses(ctx)
	if err != nil || len(all) != 1 || all[0].Name != "renamed" {
		t.Fatalf("list after update: %v %+v", err, all)
	}

	if err := db.DeleteProcess(ctx, p.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := db.GetProcess(ctx, p.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("get after delete: %v", err)
	}
	if err := db.DeleteProcess(ctx, p.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("double delete: %v", err)
	}
}

func TestSessionLifecycle(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	p := store.ManagedProcess{Name: "game", MonitorPath: "/opt/game"}
	if err := db.CreateProcess(ctx, &p); err != nil {
		t.Fatalf("create process: %v", err)
	}

	start := time.Now().Add(-30 * time.Minute).Truncate(time.Second)
	id, err := db.CreateSession(ctx, p.ID, p.Name, start)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	open, err := db.OpenSessions(ctx)
	if err != nil || len(open) != 1 || open[0].ID != id || !open[0].Open() {
		t.Fatalf("open sessions: %v %+v", err, open)
	}

	end := start.Add(25 * time.Minute)
	dur, err := db.EndSession(ctx, id, end)
	if err != nil {
		t.Fatalf("end session: %v", err)
	}
	if dur != 25*time.Minute {
		t.Fatalf("duration = %v", dur)
	}

	// Ending again must report not found; the open row is gone.
	if _, err := db.EndSession(ctx, id, end); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("double end: %v", err)
	}

	if err := db.UpdateLastPlayed(ctx, p.ID, end); err != nil {
		t.Fatalf("last played: %v", err)
	}
	got, err := db.GetProcess(ctx, p.ID)
	if err != nil || got.LastPlayed == nil || !got.LastPlayed.Equal(end.UTC()) {
		t.Fatalf("last played roundtrip: %v %+v", err, got.LastPlayed)
	}

	list, err := db.ListSessions(ctx, p.ID, 10)
	if err != nil || len(list) != 1 || list[0].Duration != 25*time.Minute {
		t.Fatalf("list sessions: %v %+v", err, list)
	}
}

func TestSessionsOverlapping(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	p := store.ManagedProcess{Name: "game", MonitorPath: "/opt/game"}
	if err := db.CreateProcess(ctx, &p); err != nil {
		t.Fatalf("create process: %v", err)
	}

	base := time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)
	mk := func(start time.Time, length time.Duration) {
		t.Helper()
		id, err := db.CreateSession(ctx, p.ID, p.Name, start)
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if length > 0 {
			if _, err := db.EndSession(ctx, id, start.Add(length)); err != nil {
				t.Fatalf("end: %v", err)
			}
		}
	}
	mk(base, time.Hour)                    // 12:00-13:00
	mk(base.Add(5*time.Hour), 30*time.Minute) // 17:00-17:30
	mk(base.Add(8*time.Hour), 0)           // 20:00-open

	got, err := db.SessionsOverlapping(ctx, p.ID, base.Add(4*time.Hour), base.Add(6*time.Hour))
	if err != nil {
		t.Fatalf("overlapping: %v", err)
	}
	if len(got) != 1 || !got[0].StartedAt.Equal(base.Add(5*time.Hour)) {
		t.Fatalf("overlapping = %+v", got)
	}

	// Open session overlaps any window that starts after it began.
	got, err = db.SessionsOverlapping(ctx, p.ID, base.Add(9*time.Hour), base.Add(10*time.Hour))
	if err != nil || len(got) != 1 || !got[0].Open() {
		t.Fatalf("open overlap = %v %+v", err, got)
	}
}

func TestSettingsRoundtrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	// No row yet: defaults come back.
	got, err := db.GetGlobalSettings(ctx)
	if err != nil {
		t.Fatalf("get defaults: %v", err)
	}
	if got != store.DefaultSettings() {
		t.Fatalf("defaults mismatch: %+v", got)
	}

	want := store.DefaultSettings()
	want.SleepStart = 22 * 60
	want.NotifyCycle = false
	if err := db.UpdateGlobalSettings(ctx, want); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, err = db.GetGlobalSettings(ctx)
	if err != nil || got != want {
		t.Fatalf("roundtrip: %v %+v", err, got)
	}

	// Upsert path.
	want.SleepEnd = 8 * 60
	if err := db.UpdateGlobalSettings(ctx, want); err != nil {
		t.Fatalf("second update: %v", err)
	}
	got, _ = db.GetGlobalSettings(ctx)
	if got != want {
		t.Fatalf("upsert: %+v", got)
	}
}

func TestShortcuts(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	w := store.WebShortcut{Name: "wiki", URL: "https://example.com", Position: 2}
	if err := db.CreateShortcut(ctx, &w); err != nil || w.ID == 0 {
		t.Fatalf("create: %v id=%d", err, w.ID)
	}
	list, err := db.ListShortcuts(ctx)
	if err != nil || len(list) != 1 || list[0].URL != "https://example.com" {
		t.Fatalf("list: %v %+v", err, list)
	}
	if err := db.DeleteShortcut(ctx, w.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := db.DeleteShortcut(ctx, w.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("double delete: %v", err)
	}
}

func TestCheckpoint(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	if err := db.Checkpoint(ctx, store.CheckpointPassive); err != nil {
		t.Fatalf("passive: %v", err)
	}
	if err := db.Checkpoint(ctx, store.CheckpointTruncate); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	if err := db.Checkpoint(ctx, store.CheckpointMode("FULL")); err == nil {
		t.Fatalf("unknown mode accepted")
	}
}
