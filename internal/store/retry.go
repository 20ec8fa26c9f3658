package store

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Lock-retry budget for transient write failures: 3 retries with increasing
// backoff before the error is surfaced to the caller.
var retryBackoff = []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond}

// IsTransient reports whether err looks like a transient lock/busy condition
// worth retrying. Matches ErrLocked plus the driver-level busy strings the
// sqlite and postgres backends produce.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrLocked) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "sqlite_busy") ||
		strings.Contains(msg, "lock_timeout")
}

// WithRetry runs op, retrying transient lock failures per the port contract.
// Non-transient errors surface immediately; exhausting the budget surfaces
// the last error.
func WithRetry(ctx context.Context, op func() error) error {
	err := op()
	if err == nil || !IsTransient(err) {
		return err
	}
	for _, d := range retryBackoff {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(d):
		}
		if err = op(); err == nil || !IsTransient(err) {
			return err
		}
	}
	return err
}
