package tasks

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/AlejoKrz/AutomatedUserCreation/internal/config"
	"github.com/AlejoKrz/AutomatedUserCreation/internal/domain"
	"github.com/AlejoKrz/AutomatedUserCreation/internal/logsink"
	"github.com/AlejoKrz/AutomatedUserCreation/internal/pipeline"
)

// Func adapts a plain function into a task
type Func func(ctx context.Context, user domain.UserRecord) (string, error)

// Execute calls f
func (f Func) Execute(ctx context.Context, user domain.UserRecord) (string, error) {
	return f(ctx, user)
}

// Registry maps task IDs to their implementations
type Registry struct {
	tasks map[domain.TaskID]pipeline.Task
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{tasks: make(map[domain.TaskID]pipeline.Task)}
}

// FromConfig builds a registry with one Command per [tasks.<id>] entry.
// Command output lines go to sink.
func FromConfig(cfgs map[string]config.TaskConfig, sink logsink.Sink) *Registry {
	r := NewRegistry()
	for id, tc := range cfgs {
		r.Register(domain.TaskID(id), &Command{
			ID:      domain.TaskID(id),
			Path:    tc.Command,
			Args:    append([]string(nil), tc.Args...),
			Env:     tc.Env,
			Dir:     tc.Dir,
			Timeout: time.Duration(tc.TimeoutMinutes) * time.Minute,
			Sink:    sink,
		})
	}
	return r
}

// Register adds or replaces the implementation for id
func (r *Registry) Register(id domain.TaskID, task pipeline.Task) {
	r.tasks[id] = task
}

// Lookup implements pipeline.Resolver
func (r *Registry) Lookup(id domain.TaskID) (pipeline.Task, bool) {
	t, ok := r.tasks[id]
	return t, ok
}

// IDs returns the registered task IDs in sorted order
func (r *Registry) IDs() []domain.TaskID {
	ids := make([]domain.TaskID, 0, len(r.tasks))
	for id := range r.tasks {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Validate reports the first task in order without an implementation
func (r *Registry) Validate(order []domain.TaskID) error {
	for _, id := range order {
		if _, ok := r.tasks[id]; !ok {
			return &domain.ConfigError{
				Field:  fmt.Sprintf("tasks.%s", id),
				Reason: "no implementation registered",
			}
		}
	}
	return nil
}
