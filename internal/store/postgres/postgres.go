package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/playwarden/playwarden/internal/store"
)

// DB implements store.Store on PostgreSQL via the pgx stdlib driver.
// Used for server deployments that keep several devices' play history in one
// place; WAL checkpointing is a no-op because postgres manages its own WAL.
type DB struct {
	db *sql.DB
}

// New opens a PostgreSQL store from a postgres:// DSN.
func New(dsn string) (*DB, error) {
	d, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	d.SetMaxOpenConns(10)
	d.SetMaxIdleConns(2)
	d.SetConnMaxLifetime(5 * time.Minute)
	if err := d.PingContext(context.Background()); err != nil {
		_ = d.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &DB{db: d}, nil
}

func (s *DB) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS managed_process(
			id BIGSERIAL PRIMARY KEY,
			name TEXT NOT NULL,
			monitor_path TEXT NOT NULL,
			launch_path TEXT NOT NULL DEFAULT '',
			reset_minutes INTEGER NULL,
			cycle_hours INTEGER NOT NULL DEFAULT 24,
			windows JSONB NOT NULL DEFAULT '[]',
			last_played TIMESTAMPTZ NULL
		);`,
		`CREATE TABLE IF NOT EXISTS session(
			id BIGSERIAL PRIMARY KEY,
			process_id BIGINT NOT NULL REFERENCES managed_process(id) ON DELETE CASCADE,
			process_name TEXT NOT NULL,
			started_at TIMESTAMPTZ NOT NULL,
			ended_at TIMESTAMPTZ NULL,
			duration_ms BIGINT NOT NULL DEFAULT 0
		);`,
		`CREATE INDEX IF NOT EXISTS idx_session_process ON session(process_id, started_at);`,
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
			id BIGSERIAL PRIMARY KEY,
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

// Checkpoint is a no-op: postgres checkpoints its own WAL.
func (s *DB) Checkpoint(_ context.Context, _ store.CheckpointMode) error { return nil }

func (s *DB) CreateSession(ctx context.Context, processID int64, processName string, start time.Time) (int64, error) {
	var id int64
	err := store.WithRetry(ctx, func() error {
		return s.db.QueryRowContext(ctx, `
			INSERT INTO session(process_id, process_name, started_at)
			VALUES($1, $2, $3) RETURNING id;`,
			processID, processName, start.UTC()).Scan(&id)
	})
	return id, err
}

func (s *DB) EndSession(ctx context.Context, sessionID int64, end time.Time) (time.Duration, error) {
	var started time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT started_at FROM session WHERE id=$1 AND ended_at IS NULL;`, sessionID).Scan(&started)
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
	err = store.WithRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			`UPDATE session SET ended_at=$1, duration_ms=$2 WHERE id=$3;`,
			end.UTC(), dur.Milliseconds(), sessionID)
		return err
	})
	if err != nil {
		return 0, err
	}
	return dur, nil
}

func (s *DB) UpdateLastPlayed(ctx context.Context, processID int64, ts time.Time) error {
	return store.WithRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx,
			`UPDATE managed_process SET last_played=$1 WHERE id=$2;`, ts.UTC(), processID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return store.ErrNotFound
		}
		return nil
	})
}

func (s *DB) CreateProcess(ctx context.Context, p *store.ManagedProcess) error {
	windows, err := json.Marshal(p.Windows)
	if err != nil {
		return err
	}
	return s.db.QueryRowContext(ctx, `
		INSERT INTO managed_process(name, monitor_path, launch_path, reset_minutes, cycle_hours, windows, last_played)
		VALUES($1, $2, $3, $4, $5, $6, $7) RETURNING id;`,
		p.Name, p.MonitorPath, p.LaunchPath, resetArg(p.ResetTime), cycleArg(p.CycleHours), string(windows), lastPlayedArg(p.LastPlayed)).Scan(&p.ID)
}

func (s *DB) UpdateProcess(ctx context.Context, p store.ManagedProcess) error {
	windows, err := json.Marshal(p.Windows)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE managed_process
		SET name=$1, monitor_path=$2, launch_path=$3, reset_minutes=$4, cycle_hours=$5, windows=$6, last_played=$7
		WHERE id=$8;`,
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
	res, err := s.db.ExecContext(ctx, `DELETE FROM managed_process WHERE id=$1;`, id)
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
		FROM managed_process WHERE id=$1;`, id)
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
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings(id, sleep_start, sleep_end, sleep_advance_hours, cycle_advance_hours,
		                     notify_launch, notify_mandatory, notify_cycle, notify_reset)
		VALUES(1, $1, $2, $3, $4, $5, $6, $7, $8)
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
	return s.db.QueryRowContext(ctx,
		`INSERT INTO web_shortcut(name, url, position) VALUES($1, $2, $3) RETURNING id;`,
		w.Name, w.URL, w.Position).Scan(&w.ID)
}

func (s *DB) DeleteShortcut(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM web_shortcut WHERE id=$1;`, id)
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
		FROM session WHERE process_id=$1 ORDER BY started_at DESC LIMIT $2;`,
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
		WHERE process_id=$1 AND started_at < $2 AND (ended_at IS NULL OR ended_at > $3)
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
		windows    []byte
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
	if err := json.Unmarshal(windows, &p.Windows); err != nil {
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
