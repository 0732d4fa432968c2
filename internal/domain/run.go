package domain

import "time"

// RunOutcome summarizes how a pipeline run ended
type RunOutcome string

const (
	OutcomeSucceeded   RunOutcome = "succeeded"
	OutcomeFailed      RunOutcome = "failed"
	OutcomeInterrupted RunOutcome = "interrupted"
	OutcomeSkipped     RunOutcome = "skipped"
)

// Run is the persisted record of one pipeline run for one user
type Run struct {
	ID          string
	UserID      string
	UserName    string
	Mode        RunMode
	Outcome     RunOutcome
	FinalStatus LifecycleStatus
	StartedAt   time.Time
	FinishedAt  *time.Time
	Results     []TaskResult
}

// Duration returns the wall time of the run, or time since start if running
func (r *Run) Duration() time.Duration {
	if r.FinishedAt != nil {
		return r.FinishedAt.Sub(r.StartedAt)
	}
	return time.Since(r.StartedAt)
}

// FailedTask returns the first failed task, if any
func (r *Run) FailedTask() (TaskID, bool) {
	for _, res := range r.Results {
		if !res.Success {
			return res.TaskID, true
		}
	}
	return "", false
}
