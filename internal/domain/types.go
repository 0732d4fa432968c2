package domain

import "strings"

// LifecycleStatus represents the state of a provisioning request in the record store
type LifecycleStatus string

const (
	StatusApproved      LifecycleStatus = "approved"
	StatusInProgress    LifecycleStatus = "in_progress"
	StatusFinished      LifecycleStatus = "finished"
	StatusErrorReverted LifecycleStatus = "error_reverted"
)

// ParseLifecycleStatus converts a stored status string to a LifecycleStatus.
// Unknown values yield an empty status and false.
func ParseLifecycleStatus(s string) (LifecycleStatus, bool) {
	switch LifecycleStatus(strings.ToLower(strings.TrimSpace(s))) {
	case StatusApproved:
		return StatusApproved, true
	case StatusInProgress:
		return StatusInProgress, true
	case StatusFinished:
		return StatusFinished, true
	case StatusErrorReverted:
		return StatusErrorReverted, true
	default:
		return "", false
	}
}

// IsTerminal returns true if no further automatic transition is expected
func (s LifecycleStatus) IsTerminal() bool {
	return s == StatusFinished || s == StatusErrorReverted
}

// RunMode controls how a fully successful pipeline is committed
type RunMode string

const (
	// ModeProduction commits Finished after a successful pipeline
	ModeProduction RunMode = "production"
	// ModeVerification reverts the record to Approved so it can be replayed
	ModeVerification RunMode = "verification"
)

// ParseRunMode validates a run mode string
func ParseRunMode(s string) (RunMode, error) {
	switch RunMode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeProduction, "":
		return ModeProduction, nil
	case ModeVerification:
		return ModeVerification, nil
	default:
		return "", &ConfigError{Field: "run_mode", Reason: "unknown run mode " + s}
	}
}
