package scheduler

import (
	"errors"
	"fmt"
)

var (
	// ErrQueueFull is returned by the enqueue methods when a bounded queue
	// has no room left.
	ErrQueueFull = errors.New("scheduler: queue is full")
	// ErrClosed is returned once Shutdown has been called.
	ErrClosed = errors.New("scheduler: shut down")
)

// genericFailure is the message sessions see when a run fails.
const genericFailure = "An unexpected error occurred while processing the graph"

// RunError reports a request that was aborted. NodeID is empty when the
// request failed before any node ran.
type RunError struct {
	SessionID string
	NodeID    string
	Err       error
}

func (e *RunError) Error() string {
	if e.NodeID == "" {
		return fmt.Sprintf("run for session '%s' failed: %v", e.SessionID, e.Err)
	}
	return fmt.Sprintf("run for session '%s' failed at node '%s': %v", e.SessionID, e.NodeID, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }
