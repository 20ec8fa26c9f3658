package history

import (
	"context"
	"time"
)

// EventType defines the kind of session lifecycle event.
type EventType string

const (
	EventOpen  EventType = "open"
	EventClose EventType = "close"
)

// Event is a session lifecycle event exported to external analytics systems.
type Event struct {
	Type        EventType     `json:"type"`
	OccurredAt  time.Time     `json:"occurred_at"`
	ProcessID   int64         `json:"process_id"`
	ProcessName string        `json:"process_name"`
	SessionID   int64         `json:"session_id"`
	StartedAt   time.Time     `json:"started_at"`
	EndedAt     *time.Time    `json:"ended_at,omitempty"`
	Duration    time.Duration `json:"duration"`
}

// Sink is a destination for history events (analytics/statistics systems).
// Implementations must be safe for concurrent use. Send failures are logged
// by the caller and never fatal to the tick loop.
type Sink interface {
	Send(ctx context.Context, e Event) error
}
