// Package client is the HTTP client for the playwarden server API. The
// daemon uses it as its persistence port (the server is a separate OS
// process; all communication is over HTTP) and for the liveness probe.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/playwarden/playwarden/internal/store"
)

// Client talks to a running playwarden server.
// It implements store.SessionStore so the tracker and scheduler can write
// through it directly.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// Config holds client configuration.
type Config struct {
	BaseURL string
	Timeout time.Duration
	Logger  *slog.Logger
}

// DefaultConfig returns the localhost defaults.
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://127.0.0.1:7913",
		Timeout: 10 * time.Second,
	}
}

// New creates an API client.
func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultConfig().BaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{
		baseURL: cfg.BaseURL,
		client:  &http.Client{Timeout: cfg.Timeout},
		logger:  cfg.Logger,
	}
}

type errorResp struct {
	Error string `json:"error"`
}

// do performs one request; out (when non-nil) receives the decoded 2xx body.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e errorResp
		if json.NewDecoder(resp.Body).Decode(&e) == nil && e.Error != "" {
			if resp.StatusCode == http.StatusNotFound {
				return store.ErrNotFound
			}
			if resp.StatusCode == http.StatusServiceUnavailable {
				return fmt.Errorf("%w: %s", store.ErrLocked, e.Error)
			}
			return fmt.Errorf("server error (%d): %s", resp.StatusCode, e.Error)
		}
		return fmt.Errorf("server error: %s", resp.Status)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// Health issues the liveness probe. Any 2xx response counts as ready.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", nil, nil)
}

// --- store.SessionStore ---

type createSessionReq struct {
	ProcessID   int64     `json:"process_id"`
	ProcessName string    `json:"process_name"`
	StartedAt   time.Time `json:"started_at"`
}

func (c *Client) CreateSession(ctx context.Context, processID int64, processName string, start time.Time) (int64, error) {
	var out struct {
		ID int64 `json:"id"`
	}
	err := c.do(ctx, http.MethodPost, "/api/sessions",
		createSessionReq{ProcessID: processID, ProcessName: processName, StartedAt: start}, &out)
	return out.ID, err
}

func (c *Client) EndSession(ctx context.Context, sessionID int64, end time.Time) (time.Duration, error) {
	var out struct {
		DurationMS int64 `json:"duration_ms"`
	}
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/sessions/%d/end", sessionID),
		map[string]any{"ended_at": end}, &out)
	return time.Duration(out.DurationMS) * time.Millisecond, err
}

func (c *Client) UpdateLastPlayed(ctx context.Context, processID int64, ts time.Time) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/api/processes/%d/last-played", processID),
		map[string]any{"timestamp": ts}, nil)
}

func (c *Client) GetManagedProcesses(ctx context.Context) ([]store.ManagedProcess, error) {
	var out []store.ManagedProcess
	err := c.do(ctx, http.MethodGet, "/api/processes", nil, &out)
	return out, err
}

func (c *Client) GetGlobalSettings(ctx context.Context) (store.GlobalSettings, error) {
	var out store.GlobalSettings
	err := c.do(ctx, http.MethodGet, "/api/settings", nil, &out)
	return out, err
}

func (c *Client) SessionsOverlapping(ctx context.Context, processID int64, from, to time.Time) ([]store.Session, error) {
	var out []store.Session
	q := url.Values{}
	q.Set("from", from.Format(time.RFC3339))
	q.Set("to", to.Format(time.RFC3339))
	err := c.do(ctx, http.MethodGet,
		fmt.Sprintf("/api/processes/%d/sessions/overlapping?%s", processID, q.Encode()), nil, &out)
	return out, err
}

// --- management surface ---

func (c *Client) CreateProcess(ctx context.Context, p *store.ManagedProcess) error {
	return c.do(ctx, http.MethodPost, "/api/processes", p, p)
}

func (c *Client) UpdateProcess(ctx context.Context, p store.ManagedProcess) error {
	return c.do(ctx, http.MethodPut, fmt.Sprintf("/api/processes/%d", p.ID), p, nil)
}

func (c *Client) DeleteProcess(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/api/processes/%d", id), nil, nil)
}

func (c *Client) GetProcess(ctx context.Context, id int64) (store.ManagedProcess, error) {
	var out store.ManagedProcess
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/processes/%d", id), nil, &out)
	return out, err
}

func (c *Client) ListSessions(ctx context.Context, processID int64, limit int) ([]store.Session, error) {
	var out []store.Session
	err := c.do(ctx, http.MethodGet,
		fmt.Sprintf("/api/processes/%d/sessions?limit=%d", processID, limit), nil, &out)
	return out, err
}

func (c *Client) OpenSessions(ctx context.Context) ([]store.Session, error) {
	var out []store.Session
	err := c.do(ctx, http.MethodGet, "/api/sessions/open", nil, &out)
	return out, err
}

func (c *Client) UpdateGlobalSettings(ctx context.Context, g store.GlobalSettings) error {
	return c.do(ctx, http.MethodPut, "/api/settings", g, nil)
}

func (c *Client) ListShortcuts(ctx context.Context) ([]store.WebShortcut, error) {
	var out []store.WebShortcut
	err := c.do(ctx, http.MethodGet, "/api/shortcuts", nil, &out)
	return out, err
}

func (c *Client) CreateShortcut(ctx context.Context, w *store.WebShortcut) error {
	return c.do(ctx, http.MethodPost, "/api/shortcuts", w, w)
}

func (c *Client) DeleteShortcut(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/api/shortcuts/%d", id), nil, nil)
}

// Checkpoint asks the server for a WAL checkpoint in the given mode.
func (c *Client) Checkpoint(ctx context.Context, mode store.CheckpointMode) error {
	return c.do(ctx, http.MethodPost, "/api/checkpoint?mode="+string(mode), nil, nil)
}
