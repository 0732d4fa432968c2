package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AlejoKrz/AutomatedUserCreation/internal/domain"
	"github.com/AlejoKrz/AutomatedUserCreation/internal/logsink"
	"github.com/AlejoKrz/AutomatedUserCreation/internal/metrics"
	"github.com/AlejoKrz/AutomatedUserCreation/internal/pipeline"
	"github.com/AlejoKrz/AutomatedUserCreation/internal/retry"
	"github.com/AlejoKrz/AutomatedUserCreation/internal/selector"
)

const (
	taskA domain.TaskID = "a"
	taskB domain.TaskID = "b"
	taskC domain.TaskID = "c"
)

var order = []domain.TaskID{taskA, taskB, taskC}

type statusUpdate struct {
	ID     string
	Status domain.LifecycleStatus
}

// fakeStore returns users whose status is approved, in insertion order
type fakeStore struct {
	mu        sync.Mutex
	users     []domain.UserRecord
	status    map[string]domain.LifecycleStatus
	updates   []statusUpdate
	fetchErrs []error
	fetches   int
	updateErr func(id string, status domain.LifecycleStatus) error
}

func newFakeStore(users ...domain.UserRecord) *fakeStore {
	s := &fakeStore{status: make(map[string]domain.LifecycleStatus)}
	for _, u := range users {
		u.Status = domain.StatusApproved
		s.users = append(s.users, u)
		s.status[u.ID] = domain.StatusApproved
	}
	return s
}

func (s *fakeStore) FetchApproved(context.Context) ([]domain.UserRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetches++
	if len(s.fetchErrs) > 0 {
		err := s.fetchErrs[0]
		s.fetchErrs = s.fetchErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	var out []domain.UserRecord
	for _, u := range s.users {
		if s.status[u.ID] == domain.StatusApproved {
			out = append(out, u)
		}
	}
	return out, nil
}

func (s *fakeStore) UpdateStatus(_ context.Context, id string, status domain.LifecycleStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateErr != nil {
		if err := s.updateErr(id, status); err != nil {
			return err
		}
	}
	s.updates = append(s.updates, statusUpdate{ID: id, Status: status})
	s.status[id] = status
	return nil
}

func (s *fakeStore) statusOf(id string) domain.LifecycleStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status[id]
}

func (s *fakeStore) updatesCopy() []statusUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]statusUpdate(nil), s.updates...)
}

type taskCalls struct {
	mu    sync.Mutex
	calls []string
}

func (c *taskCalls) add(s string) {
	c.mu.Lock()
	c.calls = append(c.calls, s)
	c.mu.Unlock()
}

func (c *taskCalls) get() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

func (c *taskCalls) task(id domain.TaskID, err error) pipeline.Task {
	return pipeline.TaskFunc(func(_ context.Context, u domain.UserRecord) (string, error) {
		c.add(u.ID + ":" + string(id))
		return "ok", err
	})
}

type memRecorder struct {
	mu   sync.Mutex
	runs []domain.Run
}

func (r *memRecorder) RecordRun(_ context.Context, run domain.Run) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, run)
	return nil
}

type harness struct {
	store    *fakeStore
	calls    *taskCalls
	ring     *logsink.Ring
	recorder *memRecorder
	cycles   chan CycleSummary
	loop     *Loop
}

type harnessOpts struct {
	mode     domain.RunMode
	tasks    pipeline.Tasks
	interval time.Duration
	backoff  time.Duration
}

func newHarness(t *testing.T, store *fakeStore, opts harnessOpts) *harness {
	t.Helper()
	h := &harness{
		store:    store,
		calls:    &taskCalls{},
		ring:     logsink.NewRing(200),
		recorder: &memRecorder{},
		cycles:   make(chan CycleSummary, 16),
	}
	tasks := opts.tasks
	if tasks == nil {
		tasks = pipeline.Tasks{
			taskA: h.calls.task(taskA, nil),
			taskB: h.calls.task(taskB, nil),
			taskC: h.calls.task(taskC, nil),
		}
	}
	if opts.interval == 0 {
		opts.interval = time.Hour
	}
	if opts.backoff == 0 {
		opts.backoff = 10 * time.Millisecond
	}

	p := pipeline.New(pipeline.Config{
		Order: order,
		Selector: selector.New([]domain.TaskID{taskA}, map[domain.TaskID]string{
			taskB: "role_b",
			taskC: "role_c",
		}),
		Tasks: tasks,
		Sink:  h.ring,
	})
	h.loop = New(Config{
		Store:        store,
		Pipeline:     p,
		Mode:         opts.mode,
		Interval:     opts.interval,
		FetchBackoff: opts.backoff,
		Sink:         h.ring,
		Metrics:      metrics.New(),
		Recorder:     h.recorder,
		StatusRetry:  []retry.Option{retry.WithInitialDelay(time.Millisecond), retry.WithMaxDelay(time.Millisecond)},
		OnCycle: func(s CycleSummary) {
			select {
			case h.cycles <- s:
			default:
			}
		},
	})
	return h
}

func (h *harness) waitCycle(t *testing.T) CycleSummary {
	t.Helper()
	select {
	case s := <-h.cycles:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a cycle")
		return CycleSummary{}
	}
}

func (h *harness) logContains(substr string) bool {
	for _, l := range h.ring.Lines() {
		if strings.Contains(l, substr) {
			return true
		}
	}
	return false
}

func user(id, roleB, roleC string) domain.UserRecord {
	return domain.UserRecord{ID: id, FirstNames: "User", LastNames: id, Fields: map[string]string{
		"role_b": roleB,
		"role_c": roleC,
	}}
}

func TestRunCycle_SequentialOrderAndFinish(t *testing.T) {
	t.Parallel()
	store := newFakeStore(user("1", "x", "y"), user("2", "x", "y"))
	h := newHarness(t, store, harnessOpts{})

	summary, err := h.loop.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"1:a", "1:b", "1:c", "2:a", "2:b", "2:c"}, h.calls.get())
	assert.Equal(t, []statusUpdate{
		{"1", domain.StatusInProgress}, {"1", domain.StatusFinished},
		{"2", domain.StatusInProgress}, {"2", domain.StatusFinished},
	}, store.updatesCopy())
	assert.Equal(t, 2, summary.Fetched)
	assert.Equal(t, 2, summary.Succeeded)
	assert.Equal(t, 2, summary.Processed())

	require.Len(t, h.recorder.runs, 2)
	assert.Equal(t, domain.OutcomeSucceeded, h.recorder.runs[0].Outcome)
	assert.Equal(t, domain.StatusFinished, h.recorder.runs[0].FinalStatus)
	assert.NotEmpty(t, h.recorder.runs[0].ID)
	assert.NotNil(t, h.recorder.runs[0].FinishedAt)
}

func TestRunCycle_EarlyStopLeavesInProgress(t *testing.T) {
	t.Parallel()
	store := newFakeStore(user("1", "x", "y"), user("2", "x", "y"))
	h := newHarness(t, store, harnessOpts{})
	h.loop.pipeline = pipeline.New(pipeline.Config{
		Order:    order,
		Selector: selector.New([]domain.TaskID{taskA}, map[domain.TaskID]string{taskB: "role_b", taskC: "role_c"}),
		Tasks: pipeline.Tasks{
			taskA: h.calls.task(taskA, nil),
			taskB: pipeline.TaskFunc(func(_ context.Context, u domain.UserRecord) (string, error) {
				h.calls.add(u.ID + ":b")
				if u.ID == "1" {
					return "", errors.New("account locked")
				}
				return "ok", nil
			}),
			taskC: h.calls.task(taskC, nil),
		},
		Sink: h.ring,
	})
	h.loop.gate = h.loop.pipeline.Gate()

	summary, err := h.loop.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"1:a", "1:b", "2:a", "2:b", "2:c"}, h.calls.get())
	assert.Equal(t, domain.StatusInProgress, store.statusOf("1"))
	assert.Equal(t, domain.StatusFinished, store.statusOf("2"))
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 1, summary.Succeeded)

	run := h.recorder.runs[0]
	require.Len(t, run.Results, 2)
	assert.True(t, run.Results[0].Success)
	assert.False(t, run.Results[1].Success)
	assert.Equal(t, domain.StatusInProgress, run.FinalStatus)
	assert.True(t, h.logContains("  - b: [FAILED] account locked"))
}

func TestRunCycle_SelectiveSkip(t *testing.T) {
	t.Parallel()
	store := newFakeStore(user("1", "n/a", "Operator"))
	h := newHarness(t, store, harnessOpts{})

	_, err := h.loop.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"1:a", "1:c"}, h.calls.get())
	assert.Equal(t, domain.StatusFinished, store.statusOf("1"))
	require.Len(t, h.recorder.runs[0].Results, 2)
}

func TestRunCycle_EmptyIsNoop(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	h := newHarness(t, store, harnessOpts{})

	summary, err := h.loop.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Empty(t, h.calls.get())
	assert.Empty(t, store.updatesCopy())
	assert.Equal(t, 0, summary.Fetched)
	assert.True(t, h.logContains("No approved users found"))
}

func TestRunCycle_VerificationRevertsToApproved(t *testing.T) {
	t.Parallel()
	store := newFakeStore(user("1", "x", ""))
	h := newHarness(t, store, harnessOpts{mode: domain.ModeVerification})

	_, err := h.loop.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []statusUpdate{{"1", domain.StatusInProgress}, {"1", domain.StatusApproved}}, store.updatesCopy())
	assert.True(t, h.logContains("[verification]"))
	assert.Equal(t, domain.StatusApproved, h.recorder.runs[0].FinalStatus)

	// replayable: the same record is picked up again
	_, err = h.loop.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"1:a", "1:b", "1:a", "1:b"}, h.calls.get())
}

func TestRunCycle_VerificationFailureStaysInProgress(t *testing.T) {
	t.Parallel()
	store := newFakeStore(user("1", "x", ""))
	calls := &taskCalls{}
	h := newHarness(t, store, harnessOpts{
		mode: domain.ModeVerification,
		tasks: pipeline.Tasks{
			taskA: calls.task(taskA, nil),
			taskB: calls.task(taskB, errors.New("mailbox quota")),
		},
	})

	summary, err := h.loop.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []statusUpdate{{"1", domain.StatusInProgress}}, store.updatesCopy())
	assert.Equal(t, domain.StatusInProgress, store.statusOf("1"))
	assert.Equal(t, 1, summary.Failed)
	assert.False(t, h.logContains("[verification]"))

	run := h.recorder.runs[0]
	assert.Equal(t, domain.OutcomeFailed, run.Outcome)
	assert.Equal(t, domain.StatusInProgress, run.FinalStatus)

	// not replayed: the record is no longer approved
	summary, err = h.loop.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Fetched)
	assert.Equal(t, []string{"1:a", "1:b"}, calls.get())
}

func TestRunCycle_CancelLetsRunningTaskFinish(t *testing.T) {
	t.Parallel()
	store := newFakeStore(user("1", "x", ""), user("2", "", ""))
	calls := &taskCalls{}
	ctx, cancel := context.WithCancel(context.Background())
	taskErr := make(chan error, 1)
	var h *harness
	h = newHarness(t, store, harnessOpts{
		tasks: pipeline.Tasks{
			taskA: pipeline.TaskFunc(func(tctx context.Context, u domain.UserRecord) (string, error) {
				calls.add(u.ID + ":a")
				cancel()
				assert.Eventually(t, h.loop.gate.Closed, time.Second, 5*time.Millisecond)
				taskErr <- tctx.Err()
				return "done", nil
			}),
			taskB: calls.task(taskB, nil),
		},
	})

	summary, err := h.loop.RunCycle(ctx)
	require.NoError(t, err)

	assert.NoError(t, <-taskErr)
	assert.Equal(t, []string{"1:a"}, calls.get())
	assert.Equal(t, 1, summary.Interrupted)
	assert.True(t, summary.Stopped)
	assert.Equal(t, domain.StatusInProgress, store.statusOf("1"))
	assert.Equal(t, domain.StatusApproved, store.statusOf("2"))

	run := h.recorder.runs[0]
	assert.Equal(t, domain.OutcomeInterrupted, run.Outcome)
	require.Len(t, run.Results, 1)
	assert.True(t, run.Results[0].Success)
}

func TestRunCycle_InProgressUpdateFailureSkipsUser(t *testing.T) {
	t.Parallel()
	store := newFakeStore(user("1", "", ""), user("2", "", ""))
	store.updateErr = func(id string, status domain.LifecycleStatus) error {
		if id == "1" {
			return errors.New("field is read-only")
		}
		return nil
	}
	h := newHarness(t, store, harnessOpts{})

	summary, err := h.loop.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"2:a"}, h.calls.get())
	assert.Equal(t, domain.StatusApproved, store.statusOf("1"))
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, domain.OutcomeSkipped, h.recorder.runs[0].Outcome)
}

func TestRunCycle_TransientUpdateIsRetried(t *testing.T) {
	t.Parallel()
	store := newFakeStore(user("1", "", ""))
	failures := 0
	store.updateErr = func(_ string, status domain.LifecycleStatus) error {
		if status == domain.StatusFinished && failures < 2 {
			failures++
			return domain.Transient("update status", errors.New("503"))
		}
		return nil
	}
	h := newHarness(t, store, harnessOpts{})

	_, err := h.loop.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, failures)
	assert.Equal(t, domain.StatusFinished, store.statusOf("1"))
}

func TestRunCycle_TaskPanicDoesNotEscape(t *testing.T) {
	t.Parallel()
	store := newFakeStore(user("1", "", ""), user("2", "", ""))
	h := newHarness(t, store, harnessOpts{})
	calls := h.calls
	h.loop.pipeline = pipeline.New(pipeline.Config{
		Order:    order,
		Selector: selector.New([]domain.TaskID{taskA}, nil),
		Tasks: pipeline.Tasks{taskA: pipeline.TaskFunc(func(_ context.Context, u domain.UserRecord) (string, error) {
			calls.add(u.ID + ":a")
			if u.ID == "1" {
				var m map[string]int
				m["boom"]++
			}
			return "", nil
		})},
	})
	h.loop.gate = h.loop.pipeline.Gate()

	var summary CycleSummary
	require.NotPanics(t, func() {
		summary, _ = h.loop.RunCycle(context.Background())
	})

	assert.Equal(t, []string{"1:a", "2:a"}, calls.get())
	assert.Equal(t, domain.StatusInProgress, store.statusOf("1"))
	assert.Equal(t, domain.StatusFinished, store.statusOf("2"))
	assert.Equal(t, 1, summary.Failed)
}

func TestLoop_FetchErrorBacksOffAndRetries(t *testing.T) {
	t.Parallel()
	store := newFakeStore(user("1", "", ""))
	store.fetchErrs = []error{domain.Transient("fetch approved", errors.New("connection reset"))}
	h := newHarness(t, store, harnessOpts{backoff: 10 * time.Millisecond})

	require.NoError(t, h.loop.Start(context.Background()))
	t.Cleanup(func() {
		h.loop.Stop()
		h.loop.Wait()
	})

	first := h.waitCycle(t)
	require.Error(t, first.FetchErr)
	assert.ErrorIs(t, first.FetchErr, domain.ErrTransientIO)
	assert.Equal(t, StateRunning, h.loop.State())

	second := h.waitCycle(t)
	require.NoError(t, second.FetchErr)
	assert.Equal(t, 1, second.Succeeded)
	assert.Equal(t, domain.StatusFinished, store.statusOf("1"))
	assert.True(t, h.logContains("Error fetching approved users"))
	assert.True(t, h.logContains("Retrying in 10ms..."))
}

func TestLoop_StopInterruptsSleepPromptly(t *testing.T) {
	t.Parallel()
	h := newHarness(t, newFakeStore(), harnessOpts{interval: time.Hour})

	require.NoError(t, h.loop.Start(context.Background()))
	h.waitCycle(t)

	start := time.Now()
	h.loop.Stop()
	h.loop.Wait()

	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, StateStopped, h.loop.State())
	assert.True(t, h.logContains("Provisioning loop stopped"))
}

func TestLoop_ControlStateMachine(t *testing.T) {
	t.Parallel()
	h := newHarness(t, newFakeStore(), harnessOpts{})
	var states []State
	var mu sync.Mutex
	h.loop.onStateChange = func(s State) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	}

	assert.ErrorIs(t, h.loop.Pause(), ErrNotRunning)
	assert.ErrorIs(t, h.loop.Resume(), ErrNotPaused)

	ctx := context.Background()
	require.NoError(t, h.loop.Start(ctx))
	assert.ErrorIs(t, h.loop.Start(ctx), ErrAlreadyRunning)
	_, err := h.loop.RunCycle(ctx)
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	assert.ErrorIs(t, h.loop.Resume(), ErrNotPaused)
	require.NoError(t, h.loop.Pause())
	assert.Equal(t, StatePaused, h.loop.State())
	assert.ErrorIs(t, h.loop.Pause(), ErrNotRunning)
	require.NoError(t, h.loop.Resume())
	assert.Equal(t, StateRunning, h.loop.State())

	h.loop.Stop()
	h.loop.Stop()
	h.loop.Wait()
	assert.Equal(t, StateStopped, h.loop.State())

	// restartable after the worker exits
	require.NoError(t, h.loop.Start(ctx))
	h.loop.Stop()
	h.loop.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []State{StateRunning, StatePaused, StateRunning, StateStopped, StateRunning, StateStopped}, states)
}

func TestLoop_PauseHoldsNextTask(t *testing.T) {
	t.Parallel()
	store := newFakeStore(user("1", "x", ""))
	h := newHarness(t, store, harnessOpts{})
	paused := make(chan struct{})
	calls := h.calls

	h.loop.pipeline = pipeline.New(pipeline.Config{
		Order:    order,
		Selector: selector.New([]domain.TaskID{taskA}, map[domain.TaskID]string{taskB: "role_b"}),
		Tasks: pipeline.Tasks{
			taskA: pipeline.TaskFunc(func(_ context.Context, u domain.UserRecord) (string, error) {
				calls.add(u.ID + ":a")
				assert.NoError(t, h.loop.Pause())
				close(paused)
				return "", nil
			}),
			taskB: calls.task(taskB, nil),
		},
	})
	h.loop.gate = h.loop.pipeline.Gate()

	require.NoError(t, h.loop.Start(context.Background()))
	t.Cleanup(func() {
		h.loop.Stop()
		h.loop.Wait()
	})

	<-paused
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, []string{"1:a"}, calls.get())
	assert.Equal(t, domain.StatusInProgress, store.statusOf("1"))

	require.NoError(t, h.loop.Resume())
	h.waitCycle(t)
	assert.Equal(t, []string{"1:a", "1:b"}, calls.get())
	assert.Equal(t, domain.StatusFinished, store.statusOf("1"))
}

func TestLoop_StopWhilePausedInterrupts(t *testing.T) {
	t.Parallel()
	store := newFakeStore(user("1", "x", ""), user("2", "", ""))
	h := newHarness(t, store, harnessOpts{})
	paused := make(chan struct{})
	calls := h.calls

	h.loop.pipeline = pipeline.New(pipeline.Config{
		Order:    order,
		Selector: selector.New([]domain.TaskID{taskA}, map[domain.TaskID]string{taskB: "role_b"}),
		Tasks: pipeline.Tasks{
			taskA: pipeline.TaskFunc(func(_ context.Context, u domain.UserRecord) (string, error) {
				calls.add(u.ID + ":a")
				if u.ID == "1" {
					assert.NoError(t, h.loop.Pause())
					close(paused)
				}
				return "", nil
			}),
			taskB: calls.task(taskB, nil),
		},
	})
	h.loop.gate = h.loop.pipeline.Gate()

	require.NoError(t, h.loop.Start(context.Background()))
	<-paused
	h.loop.Stop()
	h.loop.Wait()

	summary := h.waitCycle(t)
	assert.Equal(t, []string{"1:a"}, calls.get())
	assert.Equal(t, domain.StatusInProgress, store.statusOf("1"))
	assert.Equal(t, domain.StatusApproved, store.statusOf("2"))
	assert.Equal(t, 1, summary.Interrupted)
	assert.True(t, summary.Stopped)
	assert.Equal(t, domain.OutcomeInterrupted, h.recorder.runs[0].Outcome)
}

func TestLoop_StopBetweenUsers(t *testing.T) {
	t.Parallel()
	store := newFakeStore(user("1", "", ""), user("2", "", ""))
	h := newHarness(t, store, harnessOpts{})
	calls := h.calls

	h.loop.pipeline = pipeline.New(pipeline.Config{
		Order:    order,
		Selector: selector.New([]domain.TaskID{taskA}, nil),
		Tasks: pipeline.Tasks{taskA: pipeline.TaskFunc(func(_ context.Context, u domain.UserRecord) (string, error) {
			calls.add(u.ID + ":a")
			h.loop.Stop()
			return "still finished", nil
		})},
	})
	h.loop.gate = h.loop.pipeline.Gate()

	require.NoError(t, h.loop.Start(context.Background()))
	h.loop.Wait()

	assert.Equal(t, []string{"1:a"}, calls.get())
	assert.Equal(t, domain.StatusFinished, store.statusOf("1"))
	assert.Equal(t, domain.StatusApproved, store.statusOf("2"))
}

func TestLoop_ContextCancelStops(t *testing.T) {
	t.Parallel()
	h := newHarness(t, newFakeStore(), harnessOpts{})
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, h.loop.Start(ctx))
	h.waitCycle(t)
	cancel()
	h.loop.Wait()

	assert.Equal(t, StateStopped, h.loop.State())
	require.NoError(t, h.loop.Start(context.Background()))
	h.loop.Stop()
	h.loop.Wait()
}

func TestLoop_ContextCancelLetsRunningTaskFinish(t *testing.T) {
	t.Parallel()
	store := newFakeStore(user("1", "x", ""), user("2", "", ""))
	calls := &taskCalls{}
	started := make(chan struct{})
	release := make(chan struct{})
	taskErr := make(chan error, 1)
	h := newHarness(t, store, harnessOpts{
		tasks: pipeline.Tasks{
			taskA: pipeline.TaskFunc(func(tctx context.Context, u domain.UserRecord) (string, error) {
				calls.add(u.ID + ":a")
				close(started)
				<-release
				taskErr <- tctx.Err()
				return "done", nil
			}),
			taskB: calls.task(taskB, nil),
		},
	})
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, h.loop.Start(ctx))
	<-started
	cancel()
	require.Eventually(t, func() bool { return h.loop.State() == StateStopped }, time.Second, 5*time.Millisecond)
	close(release)
	h.loop.Wait()

	assert.NoError(t, <-taskErr)
	assert.Equal(t, []string{"1:a"}, calls.get())
	assert.Equal(t, domain.StatusInProgress, store.statusOf("1"))
	assert.Equal(t, domain.StatusApproved, store.statusOf("2"))

	require.Len(t, h.recorder.runs, 1)
	run := h.recorder.runs[0]
	assert.Equal(t, domain.OutcomeInterrupted, run.Outcome)
	require.Len(t, run.Results, 1)
	assert.True(t, run.Results[0].Success)
	assert.Equal(t, "done", run.Results[0].Message)
}

func TestLoop_FetchBackoffNeverExceedsInterval(t *testing.T) {
	t.Parallel()
	store := newFakeStore(user("1", "", ""))
	store.fetchErrs = []error{domain.Transient("fetch approved", errors.New("connection reset"))}
	h := newHarness(t, store, harnessOpts{interval: time.Hour, backoff: time.Hour})
	h.loop.SetInterval(20 * time.Millisecond)

	require.NoError(t, h.loop.Start(context.Background()))
	t.Cleanup(func() {
		h.loop.Stop()
		h.loop.Wait()
	})

	first := h.waitCycle(t)
	require.Error(t, first.FetchErr)
	second := h.waitCycle(t)
	require.NoError(t, second.FetchErr)
	assert.True(t, h.logContains("Retrying in 20ms..."))
}

func TestLoop_SnapshotAndInterval(t *testing.T) {
	t.Parallel()
	h := newHarness(t, newFakeStore(user("1", "", "")), harnessOpts{interval: time.Minute})

	snap := h.loop.Snapshot()
	assert.Equal(t, StateStopped, snap.State)
	assert.Equal(t, domain.ModeProduction, snap.Mode)
	assert.Nil(t, snap.LastCycle)

	h.loop.SetInterval(2 * time.Minute)
	h.loop.SetInterval(0)
	_, err := h.loop.RunCycle(context.Background())
	require.NoError(t, err)

	snap = h.loop.Snapshot()
	assert.Equal(t, 2*time.Minute, snap.Interval)
	require.NotNil(t, snap.LastCycle)
	assert.Equal(t, 1, snap.LastCycle.Succeeded)
	assert.True(t, h.logContains(fmt.Sprintf("Polling interval set to %s", 2*time.Minute)))
}

func TestState_String(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "stopped", StateStopped.String())
	assert.Equal(t, "running", StateRunning.String())
	assert.Equal(t, "paused", StatePaused.String())
}
