package report

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/AlejoKrz/AutomatedUserCreation/internal/notify"
)

// DefaultWindow is how far back a scheduled digest looks
const DefaultWindow = 24 * time.Hour

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ParseCron parses a 5-field cron expression
func ParseCron(expr string) (cron.Schedule, error) {
	return parser.Parse(expr)
}

// Config configures a Scheduler
type Config struct {
	Cron       string
	Source     Source
	Notifier   notify.Notifier
	Window     time.Duration
	StuckAfter time.Duration
	Logger     *zap.Logger
	Now        func() time.Time
}

// Scheduler sends a digest on a cron schedule
type Scheduler struct {
	cfg   Config
	sched cron.Schedule

	mu       sync.Mutex
	lastSent time.Time
	lastErr  error
}

// NewScheduler validates the cron expression and applies defaults
func NewScheduler(cfg Config) (*Scheduler, error) {
	sched, err := ParseCron(cfg.Cron)
	if err != nil {
		return nil, fmt.Errorf("report cron %q: %w", cfg.Cron, err)
	}
	if cfg.Source == nil {
		return nil, fmt.Errorf("report: no run history source")
	}
	if cfg.Notifier == nil {
		cfg.Notifier = notify.NoopNotifier{}
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.StuckAfter <= 0 {
		cfg.StuckAfter = 2 * time.Hour
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Scheduler{cfg: cfg, sched: sched}, nil
}

// NextRun returns the next scheduled send after t
func (s *Scheduler) NextRun(t time.Time) time.Time {
	return s.sched.Next(t)
}

// LastSent returns when the last digest went out and the error, if any
func (s *Scheduler) LastSent() (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSent, s.lastErr
}

// SendNow builds and sends one digest immediately
func (s *Scheduler) SendNow(ctx context.Context) (Digest, error) {
	now := s.cfg.Now()
	d, err := Build(ctx, s.cfg.Source, now, s.cfg.Window, s.cfg.StuckAfter)
	if err == nil {
		err = s.cfg.Notifier.Send(d.Notification())
	}

	s.mu.Lock()
	s.lastSent, s.lastErr = now, err
	s.mu.Unlock()

	if err != nil {
		s.cfg.Logger.Warn("digest not sent", zap.Error(err))
		return d, err
	}
	s.cfg.Logger.Info("digest sent",
		zap.Int("runs", d.Stats.Total),
		zap.Int("failed", d.Stats.Failed),
		zap.Int("stuck", len(d.Stuck)))
	return d, nil
}

// Run schedules digests until ctx is cancelled, then waits for an
// in-flight send to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	c := cron.New(cron.WithParser(parser))
	c.Schedule(s.sched, cron.FuncJob(func() {
		_, _ = s.SendNow(ctx)
	}))
	c.Start()
	s.cfg.Logger.Info("digest scheduled",
		zap.String("cron", s.cfg.Cron),
		zap.Time("next", s.NextRun(s.cfg.Now())))

	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}
