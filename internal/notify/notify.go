package notify

import (
	"context"
	"log/slog"
	"sync"
)

// Kind identifies a notification variant. The set is closed; the scheduler
// evaluates every kind through the same dispatch path.
type Kind string

const (
	KindLaunchOK     Kind = "launch_ok"
	KindLaunchFailed Kind = "launch_failed"
	KindMandatory    Kind = "mandatory_window"
	KindCycle        Kind = "cycle_deadline"
	KindDailyReset   Kind = "daily_reset"
)

// Sink delivers notifications to the user-facing layer (OS toast, tray, UI).
// Delivery is fire-and-forget from the producer's point of view: a returned
// error is logged by the caller and retried on a later tick, never mid-tick.
type Sink interface {
	Notify(ctx context.Context, kind Kind, processID int64, message string) error
}

// SlogSink writes notifications to the structured log. It is the default sink
// when no UI layer is attached.
type SlogSink struct {
	Log *slog.Logger
}

func (s SlogSink) Notify(_ context.Context, kind Kind, processID int64, message string) error {
	log := s.Log
	if log == nil {
		log = slog.Default()
	}
	log.Info("notification", "kind", string(kind), "process_id", processID, "message", message)
	return nil
}

// Recorded is one delivery captured by RecorderSink.
type Recorded struct {
	Kind      Kind
	ProcessID int64
	Message   string
}

// RecorderSink captures deliveries for tests. Fail makes every delivery
// return that error without recording.
type RecorderSink struct {
	mu   sync.Mutex
	got  []Recorded
	Fail error
}

func (r *RecorderSink) Notify(_ context.Context, kind Kind, processID int64, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Fail != nil {
		return r.Fail
	}
	r.got = append(r.got, Recorded{Kind: kind, ProcessID: processID, Message: message})
	return nil
}

// Deliveries returns a copy of everything recorded so far.
func (r *RecorderSink) Deliveries() []Recorded {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Recorded, len(r.got))
	copy(out, r.got)
	return out
}
