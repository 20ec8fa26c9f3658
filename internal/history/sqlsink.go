package history

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// SQLSink archives events into a standalone sqlite file separate from the
// live database, so analytics never contend with tracker writes.
type SQLSink struct {
	db    *sql.DB
	table string
}

// NewSQLSink opens (or creates) the archive database at path.
func NewSQLSink(path, table string) (*SQLSink, error) {
	if table == "" {
		table = "session_history"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	_, _ = db.Exec("PRAGMA busy_timeout=3000;")
	q := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s(
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		type TEXT NOT NULL,
		occurred_at TIMESTAMP NOT NULL,
		process_id INTEGER NOT NULL,
		process_name TEXT NOT NULL,
		session_id INTEGER NOT NULL,
		started_at TIMESTAMP NOT NULL,
		ended_at TIMESTAMP NULL,
		duration_ms INTEGER NOT NULL
	);`, table)
	if _, err := db.Exec(q); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure history table: %w", err)
	}
	return &SQLSink{db: db, table: table}, nil
}

func (s *SQLSink) Send(ctx context.Context, e Event) error {
	q := fmt.Sprintf(`INSERT INTO %s(type, occurred_at, process_id, process_name, session_id, started_at, ended_at, duration_ms)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?);`, s.table)
	var ended any
	if e.EndedAt != nil {
		ended = e.EndedAt.UTC()
	}
	_, err := s.db.ExecContext(ctx, q,
		string(e.Type), e.OccurredAt.UTC(), e.ProcessID, e.ProcessName,
		e.SessionID, e.StartedAt.UTC(), ended, e.Duration.Milliseconds())
	return err
}

func (s *SQLSink) Close() error { return s.db.Close() }
