package store

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	sqlite "modernc.org/sqlite"
)

// Sentinel errors for the two store failure classes callers distinguish.
var (
	// ErrStoreBusy marks a transient busy/locked condition that exhausted
	// the retry budget.
	ErrStoreBusy = errors.New("store: database busy")
	// ErrStoreFatal marks a non-transient store failure; callers drop the
	// current batch and continue.
	ErrStoreFatal = errors.New("store: fatal database error")
)

const (
	// maxWriteAttempts bounds retries of a write serialised through the gate.
	maxWriteAttempts = 10
	// maxBackoff caps the per-attempt backoff delay.
	maxBackoff = 5 * time.Second
)

// sqlite primary result codes for transient contention.
const (
	sqliteBusy   = 5
	sqliteLocked = 6
)

// WriteGate is the process-wide mutual-exclusion primitive around write
// transactions. The backing store permits many readers but only one writer,
// so every write transaction acquires the gate for its duration; reads never
// do.
type WriteGate struct {
	mu sync.Mutex
}

// NewWriteGate returns a ready-to-use gate.
func NewWriteGate() *WriteGate {
	return &WriteGate{}
}

// Do acquires the gate, runs fn, and releases on all exit paths.
func (g *WriteGate) Do(fn func() error) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return fn()
}

// WithRetry runs fn under the gate, retrying up to maxWriteAttempts times on
// transient busy/locked errors with backoff min(5s, 100ms * attempt^2). The
// gate is re-acquired on each attempt so other writers can interleave. A
// still-busy error after the final attempt is wrapped in ErrStoreBusy.
func (g *WriteGate) WithRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 1; attempt <= maxWriteAttempts; attempt++ {
		err = g.Do(fn)
		if err == nil || !IsBusy(err) {
			return err
		}
		delay := backoffDelay(attempt)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return errors.Join(ErrStoreBusy, err)
}

// backoffDelay returns min(maxBackoff, 100ms * attempt^2).
func backoffDelay(attempt int) time.Duration {
	d := 100 * time.Millisecond * time.Duration(attempt*attempt)
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

// IsBusy reports whether err is a transient sqlite busy/locked condition
// worth retrying.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		code := se.Code() & 0xff
		return code == sqliteBusy || code == sqliteLocked
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "database table is locked")
}
