package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/AlejoKrz/AutomatedUserCreation/internal/config"
	"github.com/AlejoKrz/AutomatedUserCreation/internal/domain"
	"github.com/AlejoKrz/AutomatedUserCreation/internal/logging"
	"github.com/AlejoKrz/AutomatedUserCreation/internal/logsink"
	"github.com/AlejoKrz/AutomatedUserCreation/internal/metrics"
	"github.com/AlejoKrz/AutomatedUserCreation/internal/notify"
	"github.com/AlejoKrz/AutomatedUserCreation/internal/pipeline"
	"github.com/AlejoKrz/AutomatedUserCreation/internal/selector"
	"github.com/AlejoKrz/AutomatedUserCreation/internal/sharepoint"
	"github.com/AlejoKrz/AutomatedUserCreation/internal/store"
	"github.com/AlejoKrz/AutomatedUserCreation/internal/tasks"
	"github.com/AlejoKrz/AutomatedUserCreation/internal/workflow"
)

// ringSize is how many progress lines UIs can scroll back through
const ringSize = 1000

// appOptions tunes how the runtime is assembled for a command
type appOptions struct {
	// Console writes progress lines to stdout
	Console io.Writer
	// Quiet disables zap's stderr output (TUI mode)
	Quiet bool

	OnStateChange func(workflow.State)
	OnCycle       func(workflow.CycleSummary)
}

// app is the assembled provisioning runtime
type app struct {
	cfg      *config.Config
	resolved *config.Resolved
	logger   *zap.Logger
	metrics  *metrics.Metrics
	store    *store.Store
	source   workflow.RecordStore
	notifier notify.Notifier
	ring     *logsink.Ring
	sink     logsink.Sink
	registry *tasks.Registry
	loop     *workflow.Loop

	closeLog func() error
}

func newApp(cfg *config.Config, opts appOptions) (*app, error) {
	resolved, err := cfg.Resolve()
	if err != nil {
		return nil, err
	}

	logCfg := logging.ConfigFromEnv().Merge(logging.Config{
		Level:     cfg.Logging.Level,
		File:      cfg.Logging.File,
		MaxSizeMB: cfg.Logging.MaxSizeMB,
		Keep:      cfg.Logging.Keep,
	})
	logCfg.NoConsole = opts.Quiet
	logger, closeLog, err := logging.Init(logCfg)
	if err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}

	a := &app{
		cfg:      cfg,
		resolved: resolved,
		logger:   logger,
		metrics:  metrics.New(),
		ring:     logsink.NewRing(ringSize),
		closeLog: closeLog,
	}

	// UI and console lines carry a timestamp; zap adds its own
	ui := logsink.Multi{a.ring}
	if opts.Console != nil {
		w := opts.Console
		ui = append(ui, logsink.Func(func(text string) { fmt.Fprintln(w, text) }))
	}
	a.sink = logsink.Multi{
		logsink.Stamped{Sink: ui},
		logsink.ZapSink{Logger: logger.Named("progress")},
	}

	a.store, err = openStore(cfg.General.DatabasePath)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.source, err = buildSource(cfg, a.store)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.notifier = buildNotifier(cfg.Notifications)

	a.registry = tasks.FromConfig(cfg.Tasks, a.sink)
	if err := a.registry.Validate(resolved.Order); err != nil {
		a.Close()
		return nil, err
	}

	p := pipeline.New(pipeline.Config{
		Order:    resolved.Order,
		Selector: selector.New(resolved.Mandatory, resolved.Fields),
		Tasks:    a.registry,
		Sink:     a.sink,
		OnResult: func(r domain.TaskResult) {
			a.metrics.TaskFinished(string(r.TaskID), r.Success)
		},
	})

	a.loop = workflow.New(workflow.Config{
		Store:         a.source,
		Pipeline:      p,
		Mode:          resolved.Mode,
		Interval:      resolved.Interval,
		FetchBackoff:  resolved.FetchBackoff,
		Sink:          a.sink,
		Logger:        logger.Named("loop"),
		Metrics:       a.metrics,
		Recorder:      a.store,
		Notifier:      a.notifier,
		OnStateChange: opts.OnStateChange,
		OnCycle:       opts.OnCycle,
	})

	logger.Debug("provisioner assembled",
		zap.String("source", cfg.General.Source),
		zap.String("mode", string(resolved.Mode)),
		zap.Stringers("order", resolved.Order),
		zap.Duration("interval", resolved.Interval))
	return a, nil
}

// Close releases the database and flushes logs. Stop the loop first.
func (a *app) Close() {
	if a.store != nil {
		a.store.Close()
	}
	if a.closeLog != nil {
		a.closeLog()
	}
}

// stopAndWait asks the loop to stop and waits for the worker to exit
func (a *app) stopAndWait() {
	a.loop.Stop()
	a.loop.Wait()
}

func openStore(path string) (*store.Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	s, err := store.New(path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return s, nil
}

func buildSource(cfg *config.Config, local *store.Store) (workflow.RecordStore, error) {
	switch cfg.General.Source {
	case config.SourceSQLite:
		return local, nil
	case config.SourceSharePoint:
		sp := cfg.SharePoint
		client, err := sharepoint.New(sharepoint.Config{
			TenantID:        sp.TenantID,
			ClientID:        sp.ClientID,
			ClientSecret:    sp.ClientSecret,
			SiteID:          sp.SiteID,
			ListID:          sp.ListID,
			GraphURL:        sp.GraphURL,
			TokenURL:        sp.TokenURL,
			Timeout:         time.Duration(sp.TimeoutSeconds) * time.Second,
			StatusField:     sp.StatusField,
			TitleField:      sp.TitleField,
			FirstNamesField: sp.FirstNamesField,
			LastNamesField:  sp.LastNamesField,
			SelectFields:    sp.SelectFields,
			Labels: sharepoint.Labels{
				Approved:      sp.Labels.Approved,
				InProgress:    sp.Labels.InProgress,
				Finished:      sp.Labels.Finished,
				ErrorReverted: sp.Labels.ErrorReverted,
			},
		})
		if err != nil {
			return nil, err
		}
		return client, nil
	default:
		return nil, &domain.ConfigError{Field: "general.source", Reason: fmt.Sprintf("unknown source %q", cfg.General.Source)}
	}
}

func buildNotifier(cfg config.NotificationsConfig) notify.Notifier {
	var notifiers []notify.Notifier
	if cfg.Desktop {
		notifiers = append(notifiers, notify.NewDesktopNotifier(true))
	}
	if cfg.SlackWebhook != "" {
		notifiers = append(notifiers, notify.NewSlackNotifier(cfg.SlackWebhook))
	}
	if len(notifiers) == 0 {
		return notify.NoopNotifier{}
	}
	return notify.NewMultiNotifier(notifiers...)
}
