package workflow

import "errors"

var (
	// ErrAlreadyRunning is returned by Start when the loop is not stopped
	ErrAlreadyRunning = errors.New("provisioning loop already running")
	// ErrStopping is returned by Start while a stopped worker finishes its task
	ErrStopping = errors.New("provisioning loop is still stopping")
	// ErrNotRunning is returned by Pause when the loop is not running
	ErrNotRunning = errors.New("provisioning loop is not running")
	// ErrNotPaused is returned by Resume when the loop is not paused
	ErrNotPaused = errors.New("provisioning loop is not paused")
)
