// Package selector decides which provisioning tasks apply to a user.
package selector

import (
	"strings"

	"github.com/AlejoKrz/AutomatedUserCreation/internal/domain"
)

// NotApplicable is the sentinel a record uses to opt out of a system
const NotApplicable = "N/A"

// Selector determines which tasks must run for a user
type Selector struct {
	mandatory map[domain.TaskID]bool
	fields    map[domain.TaskID]string // task -> user record field holding its role
}

// New creates a Selector. Inputs are copied.
func New(mandatory []domain.TaskID, fields map[domain.TaskID]string) *Selector {
	s := &Selector{
		mandatory: make(map[domain.TaskID]bool, len(mandatory)),
		fields:    make(map[domain.TaskID]string, len(fields)),
	}
	for _, id := range mandatory {
		s.mandatory[id] = true
	}
	for id, field := range fields {
		s.fields[id] = field
	}
	return s
}

// IsMandatory returns true if the task runs for every user
func (s *Selector) IsMandatory(task domain.TaskID) bool {
	return s.mandatory[task]
}

// FieldFor returns the user record field mapped to a task
func (s *Selector) FieldFor(task domain.TaskID) (string, bool) {
	f, ok := s.fields[task]
	return f, ok
}

// IsApplicable returns true if the task must run for the user.
//
// Mandatory tasks always apply. Conditional tasks apply only when their
// mapped field is present, non-blank and not "N/A" (any case).
func (s *Selector) IsApplicable(user domain.UserRecord, task domain.TaskID) bool {
	if s.mandatory[task] {
		return true
	}

	field, ok := s.fields[task]
	if !ok || field == "" {
		return false
	}

	value, ok := user.Field(field)
	if !ok {
		return false
	}

	value = strings.TrimSpace(value)
	if value == "" {
		return false
	}
	return !strings.EqualFold(value, NotApplicable)
}

// Applicable filters order down to the tasks that apply to user, keeping order
func (s *Selector) Applicable(user domain.UserRecord, order []domain.TaskID) []domain.TaskID {
	var out []domain.TaskID
	for _, id := range order {
		if s.IsApplicable(user, id) {
			out = append(out, id)
		}
	}
	return out
}
