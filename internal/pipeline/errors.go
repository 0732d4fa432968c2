package pipeline

import "errors"

var (
	// ErrStopped is returned by Gate.Wait once the gate has been closed
	ErrStopped = errors.New("pipeline stopped")
	// ErrTaskPanic marks a task that panicked instead of returning
	ErrTaskPanic = errors.New("task panicked")
	// ErrNoTask marks an applicable task with no registered implementation
	ErrNoTask = errors.New("no implementation registered for task")
)
