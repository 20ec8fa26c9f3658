package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/playwarden/playwarden/internal/store"
)

// DB implements store.Store on SQLite (modernc.org/sqlite driver, CGO-free).
// The database runs in WAL mode; transient lock failures on writes are
// retried per the port contract before surfacing.
type DB struct {
	db *sql.DB
}

// New opens (or creates) the database at path. Use ":memory:" for tests.
func New(path string) (*DB, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty sqlite path")
	}
	d, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	// WAL keeps readers unblocked during writes; busy_timeout absorbs short
	// lock contention below the retry wrapper.
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA busy_timeout=3000;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
	} {
		if _, err := d.Exec(pragma); err != nil {
			_ = d.Close()
			return nil, fmt.Errorf("sqlite pragma: %w", err)
		}
	}
	return &DB{db: d}, nil
}

func (s *DB) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS managed_process(
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			monitor_path TEXT NOT NULL,
			launch_path TEXT NOT NULL DEFAULT '',
			reset_minutes INTEGER NULL,
			cycle_hours INTEGER NOT NULL DEFAULT 24,
			windows TEXT NOT NULL DEFAULT '[]',
			last_played TIMESTAMP NULL
		);`,
		`CREATE TABLE IF NOT EXISTS session(
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			process_id INTEGER NOT NULL REFERENCES managed_process(id) ON DELETE CASCADE,
			process_name TEXT NOT NULL,
			started_at TIMESTAMP NOT NULL,
			ended_at TIMESTAMP NULL,
			duration_ms INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE INDEX IF NOT EXISTS idx_session_process ON session(process_id, started_at);`,
		`CREATE INDEX IF NOT EXISTS idx_session_open ON session(process_id) WHERE ended_at IS NULL;`,
		`CREATE TABLE IF NOT EXISTS settings(
			id INTEGER PRIMARY KEY CHECK(id=1),
			sleep_start INTEGER NOT NULL,
			sleep_end INTEGER NOT NULL,
			sleep_advance_hours INTEGER NOT NULL,
			cycle_advance_hours INTEGER NOT NULL,
			notify_launch BOOLEAN NOT NULL,
			notify_mandatory BOOLEAN NOT NULL,
			notify_cycle BOOLEAN NOT NULL,
			notify_reset BOOLEAN NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS web_shortcut(
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			url TEXT NOT NULL,
			position INTEGER NOT NULL DEFAULT 0
		);`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *DB) Close() error { return s.db.Close() }

// Checkpoint forces a WAL checkpoint in the given mode. PASSIVE never blocks
// concurrent readers/writers; TRUNCATE is reserved for shutdown.
func (s *DB) Checkpoint(ctx context.Context, mode store.CheckpointMode) error {
	m := string(mode)
	if m != string(store.CheckpointPassive) && m != string(store.CheckpointTruncate) {
		return fmt.Errorf("unknown checkpoint mode %q", mode)
	}
	_, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint("+m+");")
	return err
}

// exec wraps a write in the transient-lock retry budget.
func (s *DB) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	var res sql.Result
	err := store.WithRetry(ctx, func() error {
		var err error
		res, err = s.db.ExecContext(ctx, query, args...)
		return err
	})
	return res, err
}

func (s *DB) CreateSession(ctx context.Context, processID int64, processName string, start time.Time) (int64, error) {
	res, err := s.exec(ctx, `
		INSERT INTO session(process_id, process_name, started_at, ended_at, duration_ms)
		VALUES(?, ?, ?, NULL, 0);`,
		processID, processName, start.UTC())
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *DB) EndSession(ctx context.Context, sessionID int64, end time.Time) (time.Duration, error) {
	var started time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT started_at FROM session WHERE id=? AND ended_at IS NULL;`, sessionID).Scan(&started)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, store.ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	dur := end.Sub(started)
	if dur < 0 {
		dur = 0
	}
	_, err = s.exec(ctx, `
		UPDATE session SET ended_at=?, duration_ms=? WHERE id=?;`,
		end.UTC(), dur.Milliseconds(), sessionID)
	if err != nil {
		return 0, err
	}
	return dur, nil
}

func (s *DB) UpdateLastPlayed(ctx context.Context, processID int64, ts time.Time) error {
	res, err := s.exec(ctx,
		`UPDATE managed_process SET last_played=? WHERE id=?;`, ts.UTC(), processID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *DB) CreateProcess(ctx context.Context, p *store.ManagedProcess) error {
	windows, err := json.Marshal(p.Windows)
	if err != nil {
		return err
	}
	res, err := s.exec(ctx, `
		INSERT INTO managed_process(name, monitor_path, launch_path, reset_minutes, cycle_hours, windows, last_played)
		VALUES(?, ?, ?, ?, ?, ?, ?);`,
		p.Name, p.MonitorPath, p.LaunchPath, resetArg(p.ResetTime), cycleArg(p.CycleHours), string(windows), lastPlayedArg(p.LastPlayed))
	if err != nil {
		return err
	}
	p.ID, err = res.LastInsertId()
	return err
}

func (s *DB) UpdateProcess(ctx context.Context, p store.ManagedProcess) error {
	windows, err := json.Marshal(p.Windows)
	if err != nil {
		return err
	}
	res, err := s.exec(ctx, `
		UPDATE managed_process
		SET name=?, monitor_path=?, launch_path=?, reset_minutes=?, cycle_hours=?, windows=?, last_played=?
		WHERE id=?;`,
		p.Name, p.MonitorPath, p.LaunchPath, resetArg(p.ResetTime), cycleArg(p.CycleHours), string(windows), lastPlayedArg(p.LastPlayed), p.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *DB) DeleteProcess(ctx context.Context, id int64) error {
	res, err := s.exec(ctx, `DELETE FROM managed_process WHERE id=?;`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *DB) GetProcess(ctx context.Context, id int64) (store.ManagedProcess, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, monitor_path, launch_path, reset_minutes, cycle_hours, windows, last_played
		FROM managed_process WHERE id=?;`, id)
	p, err := scanProcess(row)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ManagedProcess{}, store.ErrNotFound
	}
	return p, err
}

func (s *DB) GetManagedProcesses(ctx context.Context) ([]store.ManagedProcess, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, monitor_path, launch_path, reset_minutes, cycle_hours, windows, last_played
		FROM managed_process ORDER BY id;`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := make([]store.ManagedProcess, 0)
	for rows.Next() {
		p, err := scanProcess(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *DB) GetGlobalSettings(ctx context.Context) (store.GlobalSettings, error) {
	var g store.GlobalSettings
	err := s.db.QueryRowContext(ctx, `
		SELECT sleep_start, sleep_end, sleep_advance_hours, cycle_advance_hours,
		       notify_launch, notify_mandatory, notify_cycle, notify_reset
		FROM settings WHERE id=1;`).Scan(
		&g.SleepStart, &g.SleepEnd, &g.SleepAdvanceHours, &g.CycleAdvanceHours,
		&g.NotifyLaunch, &g.NotifyMandatory, &g.NotifyCycle, &g.NotifyReset)
	if errors.Is(err, sql.ErrNoRows) {
		return store.DefaultSettings(), nil
	}
	return g, err
}

func (s *DB) UpdateGlobalSettings(ctx context.Context, g store.GlobalSettings) error {
	_, err := s.exec(ctx, `
		INSERT INTO settings(id, sleep_start, sleep_end, sleep_advance_hours, cycle_advance_hours,
		                     notify_launch, notify_mandatory, notify_cycle, notify_reset)
		VALUES(1, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			sleep_start=excluded.sleep_start,
			sleep_end=excluded.sleep_end,
			sleep_advance_hours=excluded.sleep_advance_hours,
			cycle_advance_hours=excluded.cycle_advance_hours,
			notify_launch=excluded.notify_launch,
			notify_mandatory=excluded.notify_mandatory,
			notify_cycle=excluded.notify_cycle,
			notify_reset=excluded.notify_reset;`,
		g.SleepStart, g.SleepEnd, g.SleepAdvanceHours, g.CycleAdvanceHours,
		g.NotifyLaunch, g.NotifyMandatory, g.NotifyCycle, g.NotifyReset)
	return err
}

func (s *DB) ListShortcuts(ctx context.Context) ([]store.WebShortcut, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, url, position FROM web_shortcut ORDER BY position, id;`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := make([]store.WebShortcut, 0)
	for rows.Next() {
		var w store.WebShortcut
		if err := rows.Scan(&w.ID, &w.Name, &w.URL, &w.Position); err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (s *DB) CreateShortcut(ctx context.Context, w *store.WebShortcut) error {
	res, err := s.exec(ctx,
		`INSERT INTO web_shortcut(name, url, position) VALUES(?, ?, ?);`,
		w.Name, w.URL, w.Position)
	if err != nil {
		return err
	}
	w.ID, err = res.LastInsertId()
	return err
}

func (s *DB) DeleteShortcut(ctx context.Context, id int64) error {
	res, err := s.exec(ctx, `DELETE FROM web_shortcut WHERE id=?;`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *DB) ListSessions(ctx context.Context, processID int64, limit int) ([]store.Session, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, process_id, process_name, started_at, ended_at, duration_ms
		FROM session WHERE process_id=? ORDER BY started_at DESC LIMIT ?;`,
		processID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanSessions(rows)
}

func (s *DB) OpenSessions(ctx context.Context) ([]store.Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, process_id, process_name, started_at, ended_at, duration_ms
		FROM session WHERE ended_at IS NULL ORDER BY started_at;`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanSessions(rows)
}

func (s *DB) SessionsOverlapping(ctx context.Context, processID int64, from, to time.Time) ([]store.Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, process_id, process_name, started_at, ended_at, duration_ms
		FROM session
		WHERE process_id=? AND started_at < ? AND (ended_at IS NULL OR ended_at > ?)
		ORDER BY started_at;`,
		processID, to.UTC(), from.UTC())
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanSessions(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProcess(r rowScanner) (store.ManagedProcess, error) {
	var (
		p          store.ManagedProcess
		reset      sql.NullInt64
		windows    string
		lastPlayed sql.NullTime
	)
	if err := r.Scan(&p.ID, &p.Name, &p.MonitorPath, &p.LaunchPath, &reset, &p.CycleHours, &windows, &lastPlayed); err != nil {
		return p, err
	}
	if reset.Valid {
		ct := store.ClockTime(reset.Int64)
		p.ResetTime = &ct
	}
	if lastPlayed.Valid {
		t := lastPlayed.Time
		p.LastPlayed = &t
	}
	if err := json.Unmarshal([]byte(windows), &p.Windows); err != nil {
		return p, fmt.Errorf("decode windows for process %d: %w", p.ID, err)
	}
	return p, nil
}

func scanSessions(rows *sql.Rows) ([]store.Session, error) {
	out := make([]store.Session, 0)
	for rows.Next() {
		var (
			sess  store.Session
			ended sql.NullTime
			durMS int64
		)
		if err := rows.Scan(&sess.ID, &sess.ProcessID, &sess.ProcessName, &sess.StartedAt, &ended, &durMS); err != nil {
			return nil, err
		}
		if ended.Valid {
			t := ended.Time
			sess.EndedAt = &t
		}
		sess.Duration = time.Duration(durMS) * time.Millisecond
		out = append(out, sess)
	}
	return out, rows.Err()
}

func resetArg(c *store.ClockTime) any {
	if c == nil {
		return nil
	}
	return int64(*c)
}

func cycleArg(h int) int {
	if h <= 0 {
		return store.DefaultCycleHours
	}
	return h
}

func lastPlayedArg(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
