package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/playwarden/playwarden/internal/store"
	"github.com/playwarden/playwarden/internal/store/sqlite"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	db, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := db.EnsureSchema(t.Context()); err != nil {
		t.Fatalf("schema: %v", err)
	}
	srv := httptest.NewServer(NewRouter(db, nil, nil).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url string, body any, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode: %v", err)
		}
	}
	return resp.StatusCode
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t)
	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestProcessEndpoints(t *testing.T) {
	srv := newTestServer(t)

	var created store.ManagedProcess
	code := doJSON(t, http.MethodPost, srv.URL+"/api/processes",
		store.ManagedProcess{Name: "game", MonitorPath: "/opt/game"}, &created)
	if code != http.StatusOK || created.ID == 0 {
		t.Fatalf("create: code=%d id=%d", code, created.ID)
	}

	// Validation errors are 400.
	if code := doJSON(t, http.MethodPost, srv.URL+"/api/processes",
		store.ManagedProcess{Name: "nameless"}, nil); code != http.StatusBadRequest {
		t.Fatalf("missing monitor_path: code=%d", code)
	}

	var list []store.ManagedProcess
	if code := doJSON(t, http.MethodGet, srv.URL+"/api/processes", nil, &list); code != http.StatusOK || len(list) != 1 {
		t.Fatalf("list: code=%d len=%d", code, len(list))
	}

	created.CycleHours = 48
	if code := doJSON(t, http.MethodPut, fmt.Sprintf("%s/api/processes/%d", srv.URL, created.ID), created, nil); code != http.StatusOK {
		t.Fatalf("update: code=%d", code)
	}
	var got store.ManagedProcess
	if code := doJSON(t, http.MethodGet, fmt.Sprintf("%s/api/processes/%d", srv.URL, created.ID), nil, &got); code != http.StatusOK || got.CycleHours != 48 {
		t.Fatalf("get after update: code=%d cycle=%d", code, got.CycleHours)
	}

	if code := doJSON(t, http.MethodGet, srv.URL+"/api/processes/9999", nil, nil); code != http.StatusNotFound {
		t.Fatalf("missing process: code=%d", code)
	}
	if code := doJSON(t, http.MethodGet, srv.URL+"/api/processes/zero", nil, nil); code != http.StatusBadRequest {
		t.Fatalf("bad id: code=%d", code)
	}

	if code := doJSON(t, http.MethodDelete, fmt.Sprintf("%s/api/processes/%d", srv.URL, created.ID), nil, nil); code != http.StatusOK {
		t.Fatalf("delete: code=%d", code)
	}
}

func TestSessionEndpoints(t *testing.T) {
	srv := newTestServer(t)

	var p store.ManagedProcess
	doJSON(t, http.MethodPost, srv.URL+"/api/processes",
		store.ManagedProcess{Name: "game", MonitorPath: "/opt/game"}, &p)

	start := time.Now().Add(-time.Hour).UTC().Truncate(time.Second)
	var opened struct {
		ID int64 `json:"id"`
	}
	code := doJSON(t, http.MethodPost, srv.URL+"/api/sessions",
		map[string]any{"process_id": p.ID, "process_name": p.Name, "started_at": start}, &opened)
	if code != http.StatusOK || opened.ID == 0 {
		t.Fatalf("open session: code=%d id=%d", code, opened.ID)
	}

	var open []store.Session
	if code := doJSON(t, http.MethodGet, srv.URL+"/api/sessions/open", nil, &open); code != http.StatusOK || len(open) != 1 {
		t.Fatalf("open list: code=%d len=%d", code, len(open))
	}

	end := start.Add(30 * time.Minute)
	var ended struct {
		DurationMS int64 `json:"duration_ms"`
	}
	code = doJSON(t, http.MethodPost, fmt.Sprintf("%s/api/sessions/%d/end", srv.URL, opened.ID),
		map[string]any{"ended_at": end}, &ended)
	if code != http.StatusOK || ended.DurationMS != (30*time.Minute).Milliseconds() {
		t.Fatalf("end: code=%d dur=%d", code, ended.DurationMS)
	}

	// Double close is a 404: the open row no longer exists.
	if code := doJSON(t, http.MethodPost, fmt.Sprintf("%s/api/sessions/%d/end", srv.URL, opened.ID),
		map[string]any{"ended_at": end}, nil); code != http.StatusNotFound {
		t.Fatalf("double end: code=%d", code)
	}

	if code := doJSON(t, http.MethodPost, fmt.Sprintf("%s/api/processes/%d/last-played", srv.URL, p.ID),
		map[string]any{"timestamp": end}, nil); code != http.StatusOK {
		t.Fatalf("last played: code=%d", code)
	}

	q := fmt.Sprintf("%s/api/processes/%d/sessions/overlapping?from=%s&to=%s",
		srv.URL, p.ID,
		start.Add(-time.Minute).Format(time.RFC3339),
		start.Add(time.Minute).Format(time.RFC3339))
	var overlapping []store.Session
	if code := doJSON(t, http.MethodGet, q, nil, &overlapping); code != http.StatusOK || len(overlapping) != 1 {
		t.Fatalf("overlapping: code=%d len=%d", code, len(overlapping))
	}

	// Bad range is rejected before touching the store.
	bad := fmt.Sprintf("%s/api/processes/%d/sessions/overlapping?from=nope&to=%s",
		srv.URL, p.ID, start.Format(time.RFC3339))
	if code := doJSON(t, http.MethodGet, bad, nil, nil); code != http.StatusBadRequest {
		t.Fatalf("bad range: code=%d", code)
	}
}

func TestSettingsEndpoints(t *testing.T) {
	srv := newTestServer(t)

	var got store.GlobalSettings
	if code := doJSON(t, http.MethodGet, srv.URL+"/api/settings", nil, &got); code != http.StatusOK {
		t.Fatalf("get: code=%d", code)
	}
	if got != store.DefaultSettings() {
		t.Fatalf("defaults: %+v", got)
	}

	got.NotifyCycle = false
	if code := doJSON(t, http.MethodPut, srv.URL+"/api/settings", got, nil); code != http.StatusOK {
		t.Fatalf("put: code=%d", code)
	}
	var again store.GlobalSettings
	doJSON(t, http.MethodGet, srv.URL+"/api/settings", nil, &again)
	if again.NotifyCycle {
		t.Fatalf("settings not persisted")
	}
}

func TestCheckpointEndpoint(t *testing.T) {
	srv := newTestServer(t)
	if code := doJSON(t, http.MethodPost, srv.URL+"/api/checkpoint", nil, nil); code != http.StatusOK {
		t.Fatalf("passive: code=%d", code)
	}
	if code := doJSON(t, http.MethodPost, srv.URL+"/api/checkpoint?mode=TRUNCATE", nil, nil); code != http.StatusOK {
		t.Fatalf("truncate: code=%d", code)
	}
	if code := doJSON(t, http.MethodPost, srv.URL+"/api/checkpoint?mode=FULL", nil, nil); code == http.StatusOK {
		t.Fatalf("unknown mode accepted")
	}
}
