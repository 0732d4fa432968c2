package domain

import (
	"strings"
)

// UserRecord is an immutable snapshot of one provisioning request as read
// from the record store. Fields holds every raw column by its store name.
type UserRecord struct {
	ID         string
	Title      string // national ID or primary identifier
	FirstNames string
	LastNames  string
	Status     LifecycleStatus
	Fields     map[string]string
}

// Field returns the raw value of a store column
func (u UserRecord) Field(name string) (string, bool) {
	if u.Fields == nil {
		return "", false
	}
	v, ok := u.Fields[name]
	return v, ok
}

// DisplayName returns "FirstNames LastNames", falling back to the ID
func (u UserRecord) DisplayName() string {
	name := strings.TrimSpace(strings.TrimSpace(u.FirstNames) + " " + strings.TrimSpace(u.LastNames))
	if name == "" {
		return u.ID
	}
	return name
}
