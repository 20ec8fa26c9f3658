package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/playwarden/playwarden/internal/server"
	"github.com/playwarden/playwarden/internal/store"
	"github.com/playwarden/playwarden/internal/store/sqlite"
)

// newTestClient wires the client against the real router over an in-memory
// store, so the wire format is tested from both sides at once.
func newTestClient(t *testing.T) *Client {
	t.Helper()
	db, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := db.EnsureSchema(t.Context()); err != nil {
		t.Fatalf("schema: %v", err)
	}
	srv := httptest.NewServer(server.NewRouter(db, nil, nil).Handler())
	t.Cleanup(srv.Close)
	return New(Config{BaseURL: srv.URL, Timeout: 5 * time.Second})
}

func TestHealth(t *testing.T) {
	c := newTestClient(t)
	if err := c.Health(context.Background()); err != nil {
		t.Fatalf("health: %v", err)
	}
}

func TestHealthUnreachable(t *testing.T) {
	c := New(Config{BaseURL: "http://127.0.0.1:1", Timeout: 200 * time.Millisecond})
	if err := c.Health(context.Background()); err == nil {
		t.Fatalf("health against closed port succeeded")
	}
}

func TestSessionRoundtrip(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	p := store.ManagedProcess{Name: "game", MonitorPath: "/opt/game"}
	if err := c.CreateProcess(ctx, &p); err != nil || p.ID == 0 {
		t.Fatalf("create process: %v id=%d", err, p.ID)
	}

	start := time.Now().Add(-time.Hour).UTC().Truncate(time.Second)
	id, err := c.CreateSession(ctx, p.ID, p.Name, start)
	if err != nil || id == 0 {
		t.Fatalf("create session: %v id=%d", err, id)
	}

	open, err := c.OpenSessions(ctx)
	if err != nil || len(open) != 1 || open[0].ID != id {
		t.Fatalf("open sessions: %v %+v", err, open)
	}

	end := start.Add(45 * time.Minute)
	dur, err := c.EndSession(ctx, id, end)
	if err != nil || dur != 45*time.Minute {
		t.Fatalf("end session: %v dur=%v", err, dur)
	}

	if err := c.UpdateLastPlayed(ctx, p.ID, end); err != nil {
		t.Fatalf("last played: %v", err)
	}
	got, err := c.GetProcess(ctx, p.ID)
	if err != nil || got.LastPlayed == nil {
		t.Fatalf("get process: %v %+v", err, got)
	}

	sessions, err := c.SessionsOverlapping(ctx, p.ID, start.Add(-time.Minute), start.Add(time.Minute))
	if err != nil || len(sessions) != 1 {
		t.Fatalf("overlapping: %v %+v", err, sessions)
	}

	list, err := c.ListSessions(ctx, p.ID, 10)
	if err != nil || len(list) != 1 {
		t.Fatalf("list: %v %+v", err, list)
	}
}

func TestNotFoundMapping(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	if _, err := c.GetProcess(ctx, 9999); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("get missing: %v, want ErrNotFound", err)
	}
	if err := c.DeleteProcess(ctx, 9999); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("delete missing: %v, want ErrNotFound", err)
	}
	if _, err := c.EndSession(ctx, 9999, time.Now()); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("end missing: %v, want ErrNotFound", err)
	}
}

func TestLockedMapping(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":"database is locked"}`))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, Timeout: time.Second})
	err := c.UpdateLastPlayed(context.Background(), 1, time.Now())
	if !errors.Is(err, store.ErrLocked) {
		t.Fatalf("err = %v, want ErrLocked", err)
	}
	if !store.IsTransient(err) {
		t.Fatalf("503 error not transient")
	}
}

func TestSettingsAndShortcuts(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	set, err := c.GetGlobalSettings(ctx)
	if err != nil {
		t.Fatalf("get settings: %v", err)
	}
	set.SleepStart = 22 * 60
	if err := c.UpdateGlobalSettings(ctx, set); err != nil {
		t.Fatalf("update settings: %v", err)
	}
	again, err := c.GetGlobalSettings(ctx)
	if err != nil || again.SleepStart != 22*60 {
		t.Fatalf("settings roundtrip: %v %+v", err, again)
	}

	w := store.WebShortcut{Name: "wiki", URL: "https://example.com"}
	if err := c.CreateShortcut(ctx, &w); err != nil || w.ID == 0 {
		t.Fatalf("create shortcut: %v", err)
	}
	list, err := c.ListShortcuts(ctx)
	if err != nil || len(list) != 1 {
		t.Fatalf("list shortcuts: %v %+v", err, list)
	}
	if err := c.DeleteShortcut(ctx, w.ID); err != nil {
		t.Fatalf("delete shortcut: %v", err)
	}
}

func TestCheckpoint(t *testing.T) {
	c := newTestClient(t)
	if err := c.Checkpoint(context.Background(), store.CheckpointTruncate); err != nil {
		t.Fatalf("checkpoint: %v", err)
	}
}
