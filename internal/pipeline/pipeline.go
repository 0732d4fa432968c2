// Package pipeline runs the provisioning tasks for a single user in order,
// stopping at the first failure.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/AlejoKrz/AutomatedUserCreation/internal/domain"
	"github.com/AlejoKrz/AutomatedUserCreation/internal/logsink"
	"github.com/AlejoKrz/AutomatedUserCreation/internal/selector"
)

// Task provisions one user in one downstream system. The returned message
// is shown to operators; a non-nil error marks the task as failed.
type Task interface {
	Execute(ctx context.Context, user domain.UserRecord) (string, error)
}

// TaskFunc adapts a function to a Task
type TaskFunc func(ctx context.Context, user domain.UserRecord) (string, error)

// Execute calls f(ctx, user)
func (f TaskFunc) Execute(ctx context.Context, user domain.UserRecord) (string, error) {
	return f(ctx, user)
}

// Resolver looks up the implementation for a task
type Resolver interface {
	Lookup(id domain.TaskID) (Task, bool)
}

// Tasks is a map-backed Resolver
type Tasks map[domain.TaskID]Task

// Lookup returns the task registered under id
func (t Tasks) Lookup(id domain.TaskID) (Task, bool) {
	task, ok := t[id]
	return task, ok
}

// Config holds pipeline dependencies
type Config struct {
	Order    []domain.TaskID
	Selector *selector.Selector
	Tasks    Resolver
	Gate     *Gate
	Sink     logsink.Sink
	Now      func() time.Time
	// OnResult is called after every task result, e.g. for metrics
	OnResult func(domain.TaskResult)
}

// Pipeline executes the applicable tasks for a user
type Pipeline struct {
	order    []domain.TaskID
	selector *selector.Selector
	tasks    Resolver
	gate     *Gate
	sink     logsink.Sink
	now      func() time.Time
	onResult func(domain.TaskResult)
}

// New creates a Pipeline. Missing optional dependencies get no-op defaults.
func New(cfg Config) *Pipeline {
	p := &Pipeline{
		order:    append([]domain.TaskID(nil), cfg.Order...),
		selector: cfg.Selector,
		tasks:    cfg.Tasks,
		gate:     cfg.Gate,
		sink:     cfg.Sink,
		now:      cfg.Now,
		onResult: cfg.OnResult,
	}
	if p.selector == nil {
		p.selector = selector.New(nil, nil)
	}
	if p.tasks == nil {
		p.tasks = Tasks{}
	}
	if p.gate == nil {
		p.gate = NewGate()
	}
	if p.sink == nil {
		p.sink = logsink.Discard
	}
	if p.now == nil {
		p.now = time.Now
	}
	return p
}

// Gate returns the pause gate checked between tasks
func (p *Pipeline) Gate() *Gate {
	return p.gate
}

// Order returns a copy of the configured task order
func (p *Pipeline) Order() []domain.TaskID {
	return append([]domain.TaskID(nil), p.order...)
}

// Report is the outcome of one pipeline run
type Report struct {
	// Applicable lists the tasks selected for the user, in order
	Applicable []domain.TaskID
	// Results is a prefix of Applicable; it ends at the first failure
	Results []domain.TaskResult
	// Interrupted is set when the run was stopped at a gate check
	Interrupted bool
}

// Failed returns the failing result, if any
func (r Report) Failed() (domain.TaskResult, bool) {
	for _, res := range r.Results {
		if !res.Success {
			return res, true
		}
	}
	return domain.TaskResult{}, false
}

// Complete reports whether every applicable task ran and succeeded
func (r Report) Complete() bool {
	return !r.Interrupted &&
		len(r.Results) == len(r.Applicable) &&
		domain.AllSucceeded(r.Results)
}

// Outcome classifies the run for history and metrics
func (r Report) Outcome() domain.RunOutcome {
	switch {
	case r.Complete():
		return domain.OutcomeSucceeded
	case r.Interrupted:
		return domain.OutcomeInterrupted
	default:
		return domain.OutcomeFailed
	}
}

// Run executes the applicable tasks for user in the configured order.
// It never panics and never returns an error: task failures are results.
func (p *Pipeline) Run(ctx context.Context, user domain.UserRecord) Report {
	report := Report{Applicable: p.selector.Applicable(user, p.order)}

	for _, id := range report.Applicable {
		if err := p.gate.Wait(ctx); err != nil {
			report.Interrupted = true
			p.sink.Line(fmt.Sprintf("  - Stopped before %s for %s", id, user.DisplayName()))
			return report
		}

		res := p.execute(ctx, id, user)
		report.Results = append(report.Results, res)
		p.sink.Line("  - " + res.String())
		if p.onResult != nil {
			p.onResult(res)
		}

		if !res.Success {
			return report
		}
	}
	return report
}

func (p *Pipeline) execute(ctx context.Context, id domain.TaskID, user domain.UserRecord) domain.TaskResult {
	started := p.now()
	res := domain.TaskResult{TaskID: id, StartedAt: started}

	task, ok := p.tasks.Lookup(id)
	var msg string
	var err error
	if !ok || task == nil {
		err = ErrNoTask
	} else {
		msg, err = invoke(ctx, task, user)
	}

	res.Duration = p.now().Sub(started)
	if err != nil {
		res.Message = err.Error()
		return res
	}

	res.Success = true
	res.Message = strings.TrimSpace(msg)
	if res.Message == "" {
		res.Message = "completed"
	}
	return res
}

// invoke is the boundary where a task panic becomes a failure
func invoke(ctx context.Context, task Task, user domain.UserRecord) (msg string, err error) {
	defer func() {
		if r := recover(); r != nil {
			msg = ""
			err = fmt.Errorf("%w: %v", ErrTaskPanic, r)
		}
	}()
	return task.Execute(ctx, user)
}
