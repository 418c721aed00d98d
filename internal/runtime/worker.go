// Package runtime owns the per-instance scheduler workers: a concurrent map
// from instance id to worker with start/stop/restart and status queries, the
// probe-cycle loop each worker runs, and the boot-time auto-start component.
package runtime

import (
	"context"
	"sync"
	"time"
)

// WorkerState is the lifecycle state of one instance worker.
type WorkerState string

const (
	// StateRunning means the scheduler loop is live.
	StateRunning WorkerState = "Running"
	// StatePaused means the loop is stopped (by request or after a crash).
	StatePaused WorkerState = "Paused"
)

// Status is a point-in-time snapshot of a worker, served to the control API
// and consumed by the alert evaluator.
type Status struct {
	InstanceID string      `json:"instance_id"`
	State      WorkerState `json:"state"`
	ChangedUTC time.Time   `json:"changed_utc"`
	Message    string      `json:"message"`
}

// worker is the per-instance unit owning a cancellation handle and the
// scheduler goroutine. A stopped worker is retained for status queries and
// reused by Start.
type worker struct {
	instanceID string

	mu      sync.Mutex
	state   WorkerState
	changed time.Time
	message string
	cancel  context.CancelFunc
	done    chan struct{}
}

func newWorker(instanceID string) *worker {
	return &worker{
		instanceID: instanceID,
		state:      StatePaused,
		changed:    time.Now().UTC(),
		message:    "Created",
	}
}

// transition records a state change with a UTC timestamp and short message.
func (w *worker) transition(state WorkerState, message string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.state = state
	w.changed = time.Now().UTC()
	w.message = message
}

func (w *worker) status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return Status{
		InstanceID: w.instanceID,
		State:      w.state,
		ChangedUTC: w.changed,
		Message:    w.message,
	}
}

// alive reports whether the scheduler goroutine is still running.
func (w *worker) alive() bool {
	w.mu.Lock()
	done := w.done
	w.mu.Unlock()
	if done == nil {
		return false
	}
	select {
	case <-done:
		return false
	default:
		return true
	}
}
