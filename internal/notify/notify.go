// Package notify announces provisioning outcomes to operators.
package notify

import (
	"fmt"
	"time"

	"github.com/AlejoKrz/AutomatedUserCreation/internal/domain"
)

// NotificationType represents the type of notification
type NotificationType int

const (
	NotifyInfo NotificationType = iota
	NotifySuccess
	NotifyWarning
	NotifyError
)

// Notification represents a notification to be sent
type Notification struct {
	Title   string
	Message string
	Type    NotificationType
	UserID  string // Optional user reference
	RunID   string // Optional run reference
	Status  string // Lifecycle status the request was left in
	At      time.Time
	Fields  []Field
}

// Field is one labelled detail line, e.g. a task result
type Field struct {
	Label string
	Value string
}

// Notifier is the interface for sending notifications
type Notifier interface {
	Send(n Notification) error
}

// MultiNotifier sends to multiple notifiers
type MultiNotifier struct {
	notifiers []Notifier
}

// NewMultiNotifier creates a notifier that sends to all provided notifiers
func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	return &MultiNotifier{notifiers: notifiers}
}

// Send sends the notification to all notifiers
func (m *MultiNotifier) Send(n Notification) error {
	var lastErr error
	for _, notifier := range m.notifiers {
		if err := notifier.Send(n); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// NoopNotifier does nothing (for testing or disabled notifications)
type NoopNotifier struct{}

func (NoopNotifier) Send(n Notification) error { return nil }

// ForRun builds the notification announcing a finished pipeline run
func ForRun(run domain.Run) Notification {
	n := Notification{
		UserID: run.UserID,
		RunID:  run.ID,
		Status: string(run.FinalStatus),
	}
	if run.FinishedAt != nil {
		n.At = *run.FinishedAt
	}
	for _, r := range run.Results {
		n.Fields = append(n.Fields, Field{
			Label: r.TaskID.String(),
			Value: fmt.Sprintf("[%s] %s", r.Marker(), r.Message),
		})
	}

	switch run.Outcome {
	case domain.OutcomeSucceeded:
		n.Type = NotifySuccess
		n.Title = "User provisioned: " + run.UserName
		n.Message = fmt.Sprintf("%d task(s) completed, status %s", len(run.Results), run.FinalStatus)
	case domain.OutcomeInterrupted:
		n.Type = NotifyWarning
		n.Title = "Provisioning interrupted: " + run.UserName
		n.Message = fmt.Sprintf("stopped after %d task(s), status left %s", len(run.Results), run.FinalStatus)
	case domain.OutcomeSkipped:
		n.Type = NotifyWarning
		n.Title = "Provisioning skipped: " + run.UserName
		n.Message = "could not mark the request in progress"
	default:
		n.Type = NotifyError
		n.Title = "Provisioning failed: " + run.UserName
		if id, ok := run.FailedTask(); ok {
			msg := ""
			for _, r := range run.Results {
				if r.TaskID == id {
					msg = r.Message
				}
			}
			n.Message = fmt.Sprintf("%s failed: %s", id, msg)
		} else {
			n.Message = "pipeline did not complete"
		}
	}
	return n
}
