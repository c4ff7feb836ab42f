// Package api
// Author: momentics
//
// Executor contract for the worker group that runs I/O completion callbacks.

package api

// Executor abstracts a fixed group of workers running completion callbacks.
type Executor interface {
	// Submit schedules task for execution. It blocks while the group is
	// saturated and fails once the group is closed.
	Submit(task func()) error

	// NumWorkers returns current number of active worker routines.
	NumWorkers() int

	// Close stops accepting tasks. Tasks already accepted still run.
	Close()

	// Closed reports whether Close has been called.
	Closed() bool
}
