// Package workflow drives the recurring discover, process and reconcile
// cycle over approved onboarding requests.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/AlejoKrz/AutomatedUserCreation/internal/domain"
	"github.com/AlejoKrz/AutomatedUserCreation/internal/logsink"
	"github.com/AlejoKrz/AutomatedUserCreation/internal/metrics"
	"github.com/AlejoKrz/AutomatedUserCreation/internal/notify"
	"github.com/AlejoKrz/AutomatedUserCreation/internal/pipeline"
	"github.com/AlejoKrz/AutomatedUserCreation/internal/retry"
)

// Default configuration values
const (
	DefaultInterval     = time.Minute
	DefaultFetchBackoff = 5 * time.Second
)

// RecordStore is the system of record holding onboarding requests
type RecordStore interface {
	// FetchApproved returns users currently Approved, in store order
	FetchApproved(ctx context.Context) ([]domain.UserRecord, error)
	// UpdateStatus sets the lifecycle status of one record
	UpdateStatus(ctx context.Context, id string, status domain.LifecycleStatus) error
}

// Recorder persists finished runs for history views
type Recorder interface {
	RecordRun(ctx context.Context, run domain.Run) error
}

// Config holds loop dependencies and settings
type Config struct {
	Store    RecordStore
	Pipeline *pipeline.Pipeline
	Mode     domain.RunMode

	Interval     time.Duration // pause between cycles (default: 1m)
	FetchBackoff time.Duration // pause after a failed fetch (default: 5s)

	Sink     logsink.Sink
	Logger   *zap.Logger
	Metrics  *metrics.Metrics
	Recorder Recorder
	Notifier notify.Notifier
	Now      func() time.Time

	// StatusRetry tunes the backoff used around UpdateStatus
	StatusRetry []retry.Option

	// OnStateChange and OnCycle are invoked synchronously; keep them cheap
	OnStateChange func(State)
	OnCycle       func(CycleSummary)
}

// Loop is the single-worker provisioning loop
type Loop struct {
	store    RecordStore
	pipeline *pipeline.Pipeline
	gate     *pipeline.Gate
	mode     domain.RunMode
	backoff  time.Duration

	sink     logsink.Sink
	logger   *zap.Logger
	metrics  *metrics.Metrics
	recorder Recorder
	notifier notify.Notifier
	now      func() time.Time
	retry    []retry.Option

	onStateChange func(State)
	onCycle       func(CycleSummary)

	mu       sync.Mutex
	state    State
	interval time.Duration
	stopCh   chan struct{}
	alive    bool
	current  string
	last     *CycleSummary
	wg       sync.WaitGroup
}

// New creates a stopped Loop
func New(cfg Config) *Loop {
	l := &Loop{
		store:         cfg.Store,
		pipeline:      cfg.Pipeline,
		mode:          cfg.Mode,
		interval:      cfg.Interval,
		backoff:       cfg.FetchBackoff,
		sink:          cfg.Sink,
		logger:        cfg.Logger,
		metrics:       cfg.Metrics,
		recorder:      cfg.Recorder,
		notifier:      cfg.Notifier,
		now:           cfg.Now,
		retry:         cfg.StatusRetry,
		onStateChange: cfg.OnStateChange,
		onCycle:       cfg.OnCycle,
	}
	if l.pipeline == nil {
		l.pipeline = pipeline.New(pipeline.Config{})
	}
	l.gate = l.pipeline.Gate()
	if l.mode == "" {
		l.mode = domain.ModeProduction
	}
	if l.interval <= 0 {
		l.interval = DefaultInterval
	}
	if l.backoff <= 0 {
		l.backoff = DefaultFetchBackoff
	}
	if l.sink == nil {
		l.sink = logsink.Discard
	}
	if l.logger == nil {
		l.logger = zap.NewNop()
	}
	if l.notifier == nil {
		l.notifier = notify.NoopNotifier{}
	}
	if l.now == nil {
		l.now = time.Now
	}
	l.metrics.SetState(StateStopped.String(), stateNames())
	return l
}

// Mode returns the run mode the loop commits with
func (l *Loop) Mode() domain.RunMode {
	return l.mode
}

// State returns the current control state
func (l *Loop) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Snapshot returns a view of the loop for control surfaces
func (l *Loop) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := Snapshot{
		State:       l.state,
		Mode:        l.mode,
		Interval:    l.interval,
		CurrentUser: l.current,
	}
	if l.last != nil {
		last := *l.last
		s.LastCycle = &last
	}
	return s
}

// SetInterval changes the pause between cycles; it applies from the next sleep
func (l *Loop) SetInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	l.mu.Lock()
	changed := l.interval != d
	l.interval = d
	l.mu.Unlock()

	if changed {
		l.sink.Line(fmt.Sprintf("Polling interval set to %s", d))
	}
}

// Start launches the worker goroutine. The worker runs until Stop is
// called or ctx is cancelled. Cancelling ctx behaves like Stop: a task in
// flight runs to completion and the user is left in progress.
func (l *Loop) Start(ctx context.Context) error {
	l.mu.Lock()
	if l.state != StateStopped {
		l.mu.Unlock()
		return ErrAlreadyRunning
	}
	if l.alive {
		l.mu.Unlock()
		return ErrStopping
	}

	stop := make(chan struct{})
	l.stopCh = stop
	l.alive = true
	l.gate.Reopen()
	l.setStateLocked(StateRunning)
	l.wg.Add(1)
	l.mu.Unlock()
	l.emitState(StateRunning)

	l.logger.Info("provisioning loop started", zap.String("mode", string(l.mode)))
	l.sink.Line(fmt.Sprintf("Provisioning loop started (%s mode)", l.mode))

	stopped := make(chan struct{})
	release := context.AfterFunc(ctx, func() {
		defer close(stopped)
		l.stop(stop)
	})

	go func() {
		defer l.wg.Done()
		defer func() {
			if !release() {
				<-stopped
			}
		}()
		l.run(ctx, stop)
	}()
	return nil
}

// Stop requests the worker to end. It takes effect at the next sleep,
// pause check or user boundary; a task already executing is not interrupted.
func (l *Loop) Stop() {
	l.stop(nil)
}

// stop ends the run owning ch, or the current run when ch is nil
func (l *Loop) stop(ch chan struct{}) {
	l.mu.Lock()
	if l.state == StateStopped || (ch != nil && ch != l.stopCh) {
		l.mu.Unlock()
		return
	}
	close(l.stopCh)
	l.gate.Close()
	l.setStateLocked(StateStopped)
	l.mu.Unlock()
	l.emitState(StateStopped)

	l.logger.Info("provisioning loop stop requested")
	l.sink.Line("Stop requested; finishing current step")
}

// Pause blocks the worker before its next task
func (l *Loop) Pause() error {
	l.mu.Lock()
	if l.state != StateRunning {
		l.mu.Unlock()
		return ErrNotRunning
	}
	l.gate.Pause()
	l.setStateLocked(StatePaused)
	l.mu.Unlock()
	l.emitState(StatePaused)

	l.sink.Line("Execution paused.")
	return nil
}

// Resume releases a paused worker
func (l *Loop) Resume() error {
	l.mu.Lock()
	if l.state != StatePaused {
		l.mu.Unlock()
		return ErrNotPaused
	}
	l.gate.Resume()
	l.setStateLocked(StateRunning)
	l.mu.Unlock()
	l.emitState(StateRunning)

	l.sink.Line("Execution resumed.")
	return nil
}

// Wait blocks until the worker goroutine has exited
func (l *Loop) Wait() {
	l.wg.Wait()
}

// RunCycle runs exactly one cycle on the caller's goroutine. It refuses to
// run while the background worker is alive. Cancelling ctx stops the cycle
// at the next task or user boundary.
func (l *Loop) RunCycle(ctx context.Context) (CycleSummary, error) {
	l.mu.Lock()
	if l.state != StateStopped || l.alive {
		l.mu.Unlock()
		return CycleSummary{}, ErrAlreadyRunning
	}
	l.alive = true
	l.gate.Reopen()
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		l.alive = false
		l.mu.Unlock()
	}()

	closed := make(chan struct{})
	release := context.AfterFunc(ctx, func() {
		defer close(closed)
		l.gate.Close()
	})
	defer func() {
		if !release() {
			<-closed
		}
	}()

	return l.cycle(ctx, nil), nil
}

func (l *Loop) run(ctx context.Context, stop <-chan struct{}) {
	defer l.workerExited()

	for {
		if stopRequested(ctx, stop) {
			return
		}

		summary := l.cycle(ctx, stop)

		wait := l.currentInterval()
		if summary.FetchErr != nil {
			wait = min(l.backoff, wait)
			l.sink.Line(fmt.Sprintf("Retrying in %s...", wait))
		} else if !summary.Stopped {
			l.sink.Line(fmt.Sprintf("Waiting %s...", wait))
		}

		if !sleep(ctx, stop, wait) {
			return
		}
	}
}

func (l *Loop) workerExited() {
	l.mu.Lock()
	l.alive = false
	l.current = ""
	changed := false
	if l.state != StateStopped {
		// parent context ended without Stop
		close(l.stopCh)
		l.gate.Close()
		changed = l.setStateLocked(StateStopped)
	}
	l.mu.Unlock()
	if changed {
		l.emitState(StateStopped)
	}

	l.logger.Info("provisioning loop stopped")
	l.sink.Line("Provisioning loop stopped")
}

func (l *Loop) cycle(ctx context.Context, stop <-chan struct{}) CycleSummary {
	s := CycleSummary{StartedAt: l.now()}
	l.metrics.CycleStarted()
	l.sink.Line("Searching for approved users...")

	users, err := l.store.FetchApproved(ctx)
	if err != nil {
		s.FetchErr = err
		s.FinishedAt = l.now()
		l.metrics.FetchFailed()
		l.logger.Warn("fetch approved users failed", zap.Error(err))
		l.sink.Line(fmt.Sprintf("Error fetching approved users: %v", err))
		l.finishCycle(s)
		return s
	}

	s.Fetched = len(users)
	if len(users) == 0 {
		l.sink.Line("No approved users found")
	}

	for _, user := range users {
		if stopRequested(ctx, stop) {
			s.Stopped = true
			break
		}

		// tasks and status writes outlive ctx; the gate ends the run early
		run := l.safeProcessUser(context.WithoutCancel(ctx), user)
		switch run.Outcome {
		case domain.OutcomeSucceeded:
			s.Succeeded++
		case domain.OutcomeInterrupted:
			s.Interrupted++
		case domain.OutcomeSkipped:
			s.Skipped++
		default:
			s.Failed++
		}
	}

	s.FinishedAt = l.now()
	l.logger.Info("cycle finished",
		zap.Int("fetched", s.Fetched),
		zap.Int("succeeded", s.Succeeded),
		zap.Int("failed", s.Failed),
		zap.Int("interrupted", s.Interrupted),
		zap.Int("skipped", s.Skipped),
	)
	l.finishCycle(s)
	return s
}

func (l *Loop) finishCycle(s CycleSummary) {
	l.mu.Lock()
	l.last = &s
	l.mu.Unlock()

	if l.onCycle != nil {
		l.onCycle(s)
	}
}

func (l *Loop) safeProcessUser(ctx context.Context, user domain.UserRecord) (run domain.Run) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("panic while processing user", zap.String("user_id", user.ID), zap.Any("panic", r))
			l.sink.Line(fmt.Sprintf("Unexpected error while processing %s: %v", user.DisplayName(), r))
			run = domain.Run{UserID: user.ID, UserName: user.DisplayName(), Mode: l.mode, Outcome: domain.OutcomeFailed}
		}
	}()
	return l.processUser(ctx, user)
}

// processUser runs one user's pipeline and reconciles its status. It never
// panics: task panics are recovered by the pipeline and store errors are
// logged and recorded.
func (l *Loop) processUser(ctx context.Context, user domain.UserRecord) domain.Run {
	name := user.DisplayName()
	run := domain.Run{
		ID:          uuid.NewString(),
		UserID:      user.ID,
		UserName:    name,
		Mode:        l.mode,
		FinalStatus: user.Status,
		StartedAt:   l.now(),
	}
	log := l.logger.With(zap.String("user_id", user.ID), zap.String("run_id", run.ID))

	l.setCurrent(name)
	defer l.setCurrent("")

	l.sink.Line("Processing user: " + name)

	if err := l.updateStatus(ctx, user.ID, domain.StatusInProgress); err != nil {
		log.Error("mark in progress failed, skipping user", zap.Error(err))
		l.sink.Line(fmt.Sprintf("Could not mark %s in progress, skipping: %v", name, err))
		run.Outcome = domain.OutcomeSkipped
		l.finishRun(ctx, log, &run)
		return run
	}
	run.FinalStatus = domain.StatusInProgress

	report := l.pipeline.Run(ctx, user)
	run.Results = report.Results
	run.Outcome = report.Outcome()

	switch {
	case report.Complete():
		target := domain.StatusFinished
		if l.mode == domain.ModeVerification {
			target = domain.StatusApproved
		}
		if err := l.updateStatus(ctx, user.ID, target); err != nil {
			log.Error("final status update failed", zap.String("status", string(target)), zap.Error(err))
			l.sink.Line(fmt.Sprintf("Could not set %s to %s: %v", name, target, err))
			break
		}
		run.FinalStatus = target
		if l.mode == domain.ModeVerification {
			l.sink.Line(fmt.Sprintf("[verification] Status not set to finished for %s; reverted to approved", name))
		} else {
			l.sink.Line(fmt.Sprintf("Provisioning finished for %s", name))
		}
	case report.Interrupted:
		l.sink.Line(fmt.Sprintf("Stopped while processing %s; status left in progress", name))
	default:
		failed, _ := report.Failed()
		log.Warn("pipeline failed", zap.String("task", failed.TaskID.String()), zap.String("message", failed.Message))
		l.sink.Line(fmt.Sprintf("Provisioning failed for %s at %s; status left in progress", name, failed.TaskID))
	}

	l.finishRun(ctx, log, &run)
	return run
}

func (l *Loop) finishRun(ctx context.Context, log *zap.Logger, run *domain.Run) {
	finished := l.now()
	run.FinishedAt = &finished
	l.metrics.UserProcessed(string(run.Outcome), finished.Sub(run.StartedAt))

	if l.recorder != nil {
		if err := l.recorder.RecordRun(context.WithoutCancel(ctx), *run); err != nil {
			log.Warn("record run failed", zap.Error(err))
		}
	}
	if err := l.notifier.Send(notify.ForRun(*run)); err != nil {
		log.Warn("notification failed", zap.Error(err))
	}
}

// updateStatus retries transient store failures with backoff
func (l *Loop) updateStatus(ctx context.Context, id string, status domain.LifecycleStatus) error {
	opts := append([]retry.Option{
		retry.WithOnRetry(func(attempt int, err error, wait time.Duration) {
			l.logger.Warn("status update failed, retrying",
				zap.String("user_id", id),
				zap.String("status", string(status)),
				zap.Int("attempt", attempt),
				zap.Duration("wait", wait),
				zap.Error(err),
			)
		}),
	}, l.retry...)

	err := retry.WithExponentialBackoff(ctx, func() error {
		err := l.store.UpdateStatus(ctx, id, status)
		if err != nil && !errors.Is(err, domain.ErrTransientIO) {
			return retry.Fatal(err)
		}
		return err
	}, opts...)
	if err != nil {
		l.metrics.StatusUpdateFailed(string(status))
	}
	return err
}

func (l *Loop) setCurrent(name string) {
	l.mu.Lock()
	l.current = name
	l.mu.Unlock()
}

func (l *Loop) currentInterval() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.interval
}

// setStateLocked must be called with l.mu held. It reports whether the
// state changed; callers pass the new state to emitState after unlocking.
func (l *Loop) setStateLocked(s State) bool {
	if l.state == s {
		return false
	}
	l.state = s
	return true
}

func (l *Loop) emitState(s State) {
	l.metrics.SetState(s.String(), stateNames())
	if l.onStateChange != nil {
		l.onStateChange(s)
	}
}

func stateNames() []string {
	names := make([]string, len(States))
	for i, s := range States {
		names[i] = s.String()
	}
	return names
}

func stopRequested(ctx context.Context, stop <-chan struct{}) bool {
	select {
	case <-stop:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

// sleep waits for d and reports false if stop or ctx ended the wait early
func sleep(ctx context.Context, stop <-chan struct{}, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-stop:
		return false
	case <-ctx.Done():
		return false
	}
}
