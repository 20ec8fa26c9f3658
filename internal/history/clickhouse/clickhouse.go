package clickhouse

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/playwarden/playwarden/internal/history"
)

// Sink exports session history to ClickHouse using the official Go client.
type Sink struct {
	conn  driver.Conn
	table string
}

// New connects to ClickHouse at addr and verifies the connection.
func New(addr, database, username, password, table string) (*Sink, error) {
	if database == "" {
		database = "default"
	}
	if table == "" {
		table = "session_history"
	}
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: database,
			Username: username,
			Password: password,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("connect clickhouse: %w", err)
	}
	if err := conn.Ping(context.Background()); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping clickhouse: %w", err)
	}
	return &Sink{conn: conn, table: table}, nil
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	query := fmt.Sprintf(`INSERT INTO %s (type, occurred_at, process_id, process_name, session_id, started_at, ended_at, duration_ms) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, s.table)
	var ended any
	if e.EndedAt != nil {
		ended = *e.EndedAt
	}
	if err := s.conn.Exec(ctx, query,
		string(e.Type), e.OccurredAt, e.ProcessID, e.ProcessName,
		e.SessionID, e.StartedAt, ended, e.Duration.Milliseconds()); err != nil {
		return fmt.Errorf("insert history event: %w", err)
	}
	return nil
}

func (s *Sink) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}
