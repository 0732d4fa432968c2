package workflow

import (
	"time"

	"github.com/AlejoKrz/AutomatedUserCreation/internal/domain"
)

// State is the loop-level control state
type State int

const (
	StateStopped State = iota
	StateRunning
	StatePaused
)

// States lists every state, e.g. for metrics labels
var States = []State{StateStopped, StateRunning, StatePaused}

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	default:
		return "stopped"
	}
}

// CycleSummary describes one discover/process/reconcile cycle
type CycleSummary struct {
	StartedAt   time.Time
	FinishedAt  time.Time
	Fetched     int
	Succeeded   int
	Failed      int
	Interrupted int
	Skipped     int
	// FetchErr is set when approved users could not be fetched
	FetchErr error
	// Stopped is set when a stop request ended the cycle before all users ran
	Stopped bool
}

// Processed returns the number of users that were handled this cycle
func (c CycleSummary) Processed() int {
	return c.Succeeded + c.Failed + c.Interrupted + c.Skipped
}

// Snapshot is a point-in-time view of the loop for control surfaces
type Snapshot struct {
	State       State
	Mode        domain.RunMode
	Interval    time.Duration
	CurrentUser string
	LastCycle   *CycleSummary
}
