package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/AlejoKrz/AutomatedUserCreation/internal/config"
	"github.com/AlejoKrz/AutomatedUserCreation/internal/report"
	"github.com/AlejoKrz/AutomatedUserCreation/internal/workflow"
	"github.com/AlejoKrz/AutomatedUserCreation/tui"
	"github.com/AlejoKrz/AutomatedUserCreation/web/api"
)

var (
	servePort    int
	serveNoStart bool
	checkFetch   bool
	initForce    bool
)

func init() {
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the provisioning loop until interrupted",
		RunE:  runLoop,
	}
	rootCmd.AddCommand(runCmd)

	onceCmd := &cobra.Command{
		Use:   "once",
		Short: "Run a single provisioning cycle and exit",
		RunE:  runOnce,
	}
	rootCmd.AddCommand(onceCmd)

	tuiCmd := &cobra.Command{
		Use:   "tui",
		Short: "Launch the interactive control panel",
		RunE:  runTUI,
	}
	rootCmd.AddCommand(tuiCmd)

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the loop with the web control API and scheduled digest",
		RunE:  runServe,
	}
	serveCmd.Flags().IntVar(&servePort, "port", 0, "port to listen on (overrides config)")
	serveCmd.Flags().BoolVar(&serveNoStart, "no-start", false, "wait for a start request instead of starting the loop")
	rootCmd.AddCommand(serveCmd)

	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Validate configuration and task wiring",
		RunE:  runCheck,
	}
	checkCmd.Flags().BoolVar(&checkFetch, "fetch", false, "also query the record source for approved users")
	rootCmd.AddCommand(checkCmd)

	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}
	configInitCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default configuration file",
		RunE:  runConfigInit,
	}
	configInitCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing file")
	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(configCmd)

	digestCmd := &cobra.Command{
		Use:   "digest",
		Short: "Send the provisioning digest now",
		RunE:  runDigest,
	}
	rootCmd.AddCommand(digestCmd)
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runLoop(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cfg, appOptions{Console: os.Stdout})
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signalContext()
	defer cancel()

	if err := a.loop.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	a.stopAndWait()
	return nil
}

func runOnce(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cfg, appOptions{Console: os.Stdout})
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signalContext()
	defer cancel()

	summary, err := a.loop.RunCycle(ctx)
	if err != nil {
		return err
	}
	if summary.FetchErr != nil {
		return fmt.Errorf("fetch approved users: %w", summary.FetchErr)
	}

	fmt.Printf("Processed %d of %d users: %d provisioned, %d failed, %d interrupted, %d skipped\n",
		summary.Processed(), summary.Fetched, summary.Succeeded, summary.Failed, summary.Interrupted, summary.Skipped)
	if summary.Failed > 0 {
		return fmt.Errorf("%d users failed", summary.Failed)
	}
	return nil
}

func runTUI(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cfg, appOptions{Quiet: true})
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signalContext()
	defer cancel()

	model := tui.NewModel(tui.ModelConfig{
		Context:    ctx,
		Controller: a.loop,
		Logs:       a.ring,
		History:    a.store,
	})

	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	_, err = p.Run()

	if a.loop.State() != workflow.StateStopped {
		fmt.Println("Waiting for the current task to finish...")
	}
	a.stopAndWait()

	if errors.Is(err, tea.ErrProgramKilled) {
		return nil
	}
	return err
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// The server is created after the loop; the hooks run only once it exists
	var server *api.Server
	a, err := newApp(cfg, appOptions{
		Console: os.Stdout,
		OnStateChange: func(s workflow.State) {
			if server != nil {
				server.StateChanged(s)
			}
		},
		OnCycle: func(c workflow.CycleSummary) {
			if server != nil {
				server.CycleFinished(c)
			}
		},
	})
	if err != nil {
		return err
	}
	defer a.Close()

	port := servePort
	if port == 0 {
		port = cfg.Web.Port
	}
	addr := fmt.Sprintf("%s:%d", cfg.Web.Host, port)
	server = api.NewServer(api.Config{
		Addr:    addr,
		Loop:    a.loop,
		History: a.store,
		Logs:    a.ring,
		Metrics: a.metrics.Handler(),
		Logger:  a.logger.Named("api"),
	})

	ctx, cancel := signalContext()
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return server.Run(ctx)
	})

	if cfg.Report.Enabled {
		sched, err := report.NewScheduler(report.Config{
			Cron:       cfg.Report.Cron,
			Source:     a.store,
			Notifier:   a.notifier,
			StuckAfter: time.Duration(cfg.Report.StuckAfterMinutes) * time.Minute,
			Logger:     a.logger.Named("report"),
		})
		if err != nil {
			return err
		}
		g.Go(func() error {
			return sched.Run(ctx)
		})
	}

	if w, err := config.NewWatcher(resolvedConfigPath(), a.applyReload); err != nil {
		a.logger.Warn("config hot reload disabled", zap.Error(err))
	} else {
		g.Go(func() error {
			return w.Run(ctx)
		})
	}

	if !serveNoStart {
		if err := a.loop.Start(ctx); err != nil {
			return err
		}
	}

	fmt.Printf("Control API at http://%s\n", addr)
	err = g.Wait()
	a.stopAndWait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// applyReload applies the settings that can change while the loop runs.
// Everything else needs a restart.
func (a *app) applyReload(cfg *config.Config, err error) {
	if err != nil {
		a.logger.Warn("config reload rejected", zap.Error(err))
		return
	}
	interval := time.Duration(cfg.General.IntervalMinutes) * time.Minute
	if interval != a.resolved.Interval {
		a.loop.SetInterval(interval)
		a.resolved.Interval = interval
	}
	a.logger.Info("config reloaded", zap.Duration("interval", interval))
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cfg, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	r := a.resolved
	fmt.Printf("Config:   %s\n", resolvedConfigPath())
	fmt.Printf("Source:   %s\n", cfg.General.Source)
	fmt.Printf("Mode:     %s\n", r.Mode)
	fmt.Printf("Interval: %s (fetch backoff %s)\n", r.Interval, r.FetchBackoff)
	fmt.Println("Tasks:")
	for _, id := range r.Order {
		kind := "conditional on " + r.Fields[id]
		if containsTask(r.Mandatory, id) {
			kind = "mandatory"
		}
		t := cfg.Tasks[string(id)]
		fmt.Printf("  %-17s %-28s %s\n", id, kind, t.Command)
	}

	if checkFetch {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		users, err := a.source.FetchApproved(ctx)
		if err != nil {
			return fmt.Errorf("fetch approved users: %w", err)
		}
		fmt.Printf("Approved users waiting: %d\n", len(users))
	}

	fmt.Println("OK")
	return nil
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := resolvedConfigPath()
	if _, err := os.Stat(path); err == nil && !initForce {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}
	if err := config.Default().Save(path); err != nil {
		return err
	}
	fmt.Printf("Wrote %s\n", path)
	return nil
}

func runDigest(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cfg, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	sched, err := report.NewScheduler(report.Config{
		Cron:       cfg.Report.Cron,
		Source:     a.store,
		Notifier:   a.notifier,
		StuckAfter: time.Duration(cfg.Report.StuckAfterMinutes) * time.Minute,
		Logger:     a.logger.Named("report"),
	})
	if err != nil {
		return err
	}
	d, err := sched.SendNow(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Println(d.Notification().Message)
	return nil
}
