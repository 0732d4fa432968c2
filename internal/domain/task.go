package domain

import (
	"fmt"
	"time"
)

// TaskID identifies a downstream provisioning system, e.g. "active_directory"
type TaskID string

// Well-known downstream systems
const (
	TaskPayroll         TaskID = "payroll"
	TaskActiveDirectory TaskID = "active_directory"
	TaskCobis           TaskID = "cobis"
	TaskSyscard         TaskID = "syscard"
	TaskExtremeWeb      TaskID = "extreme_web"
)

// String returns the identifier as a plain string
func (t TaskID) String() string {
	return string(t)
}

// TaskResult is the outcome of one task invocation within a pipeline run
type TaskResult struct {
	TaskID    TaskID
	Success   bool
	Message   string
	StartedAt time.Time
	Duration  time.Duration
}

// Marker returns the success/failure tag used in progress lines
func (r TaskResult) Marker() string {
	if r.Success {
		return "OK"
	}
	return "FAILED"
}

// String renders the result as a single progress line body
func (r TaskResult) String() string {
	return fmt.Sprintf("%s: [%s] %s", r.TaskID, r.Marker(), r.Message)
}

// AllSucceeded returns true if every result succeeded. An empty slice counts
// as success.
func AllSucceeded(results []TaskResult) bool {
	for _, r := range results {
		if !r.Success {
			return false
		}
	}
	return true
}
