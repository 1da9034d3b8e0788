package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"time"

	"leaderkey/internal/capture"
	"leaderkey/internal/config"
	"leaderkey/internal/engine"
	"leaderkey/internal/health"
	"leaderkey/internal/keymap"
	"leaderkey/internal/logging"
	"leaderkey/internal/metrics"
	"leaderkey/internal/permission"
	"leaderkey/internal/provider"
	"leaderkey/internal/queue"
	"leaderkey/internal/runner"
)

// daemon owns the wired components of a running launcher.
type daemon struct {
	log     *logging.Logger
	metrics *metrics.Pipeline
	crash   *logging.CrashHandler

	handoff  *queue.Handoff
	capture  *capture.Manager
	trees    *provider.Provider
	runner   *runner.Dispatcher
	engine   *engine.Engine
	prompter *permission.Prompter
	checker  *health.Checker
	sup      *health.Supervisor

	batchSize int
	textfile  string
	interval  time.Duration
}

func cmdRun() {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "", "configuration file")
	simulate := fs.Bool("simulate", false, "read key presses from stdin instead of the keyboard")
	if len(os.Args) > 2 {
		fs.Parse(os.Args[2:])
	}

	watcher, err := config.NewConfigWatcher(configFile(*configPath))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	cfg := watcher.Config()

	logCfg, err := cfg.LoggingConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error in logging config: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(logCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening log: %v\n", err)
		os.Exit(1)
	}
	logging.SetDefault(logger)
	defer logger.Close()

	for _, w := range watcher.Warnings() {
		logger.Warn("config warning", "field", w.Field, "message", w.Message)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		logger.Error("create directories", "error", err)
		os.Exit(1)
	}

	var backend capture.Backend = capture.NewPlatformBackend()
	var sim *capture.SimulatedBackend
	if *simulate {
		sim = capture.NewSimulatedBackend()
		backend = sim
	}

	d, err := newDaemon(cfg, logger, backend, *simulate)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	watcher.OnChange(d.applyConfig)
	if err := watcher.Start(); err != nil {
		logger.Warn("config hot reload disabled", "error", err)
	}
	defer watcher.Stop()

	if sim != nil {
		go feedSimulated(ctx, sim, os.Stdin, logger)
	}

	sigs := make(chan os.Signal, 4)
	signal.Notify(sigs, shutdownSignals...)
	signal.Notify(sigs, reloadSignal, resetSignal)
	defer signal.Stop(sigs)

	done := make(chan error, 1)
	go func() { done <- d.run(ctx) }()

	logger.Info("leaderkey running", "version", version, "config", watcher.Path(), "trees", cfg.Trees.Dir)
	for {
		select {
		case sig := <-sigs:
			switch sig {
			case reloadSignal:
				logger.Info("reloading configuration")
				if err := watcher.Reload(); err != nil {
					logger.Error("reload failed", "error", err)
				}
			case resetSignal:
				logger.Info("force reset requested")
				if err := d.sup.ForceReset(); err != nil {
					logger.Error("force reset", "error", err)
				}
			default:
				logger.Info("shutting down", "signal", sig)
				cancel()
				if err := <-done; err != nil {
					logger.Error("shutdown", "error", err)
					os.Exit(1)
				}
				return
			}
		case err := <-watcher.Errors():
			logger.Error("config watch", "error", err)
		case err := <-done:
			if err != nil {
				logger.Error("daemon stopped", "error", err)
				os.Exit(1)
			}
			return
		}
	}
}

// simulatedPlatform grants permission without prompting.
type simulatedPlatform struct{}

func (simulatedPlatform) Trusted() bool { return true }
func (simulatedPlatform) Prompt()       {}

func newDaemon(cfg *config.Config, logger *logging.Logger, backend capture.Backend, simulate bool) (*daemon, error) {
	settings, err := cfg.EngineSettings()
	if err != nil {
		return nil, err
	}

	d := &daemon{
		log:       logger.WithComponent("daemon"),
		metrics:   metrics.Global(),
		batchSize: cfg.Queue.BatchSize,
		textfile:  cfg.Metrics.Textfile,
		interval:  cfg.MetricsInterval(),
	}
	d.crash = logging.NewCrashHandler(logging.CrashHandlerConfig{
		Dir:     logging.DefaultCrashDir(),
		Version: version,
		Logger:  logger,
		OnCrash: func(logging.CrashReport) { d.metrics.RecoveredPanics.Inc() },
	})

	d.handoff = queue.NewHandoff(cfg.Queue.Capacity, cfg.QueueWait())
	d.capture = capture.NewManager(capture.Options{
		Backend:  backend,
		Producer: d.handoff,
		Logger:   logger,
		Metrics:  d.metrics,
	})

	d.trees, err = provider.New(provider.Options{
		Dir:      cfg.Trees.Dir,
		Debounce: cfg.TreeDebounce(),
		Logger:   logger,
		Metrics:  d.metrics,
		OnChange: d.treeChanged,
	})
	if err != nil {
		return nil, err
	}

	d.runner = runner.New(runner.Options{
		QueueSize: runner.DefaultQueueSize,
		Logger:    logger,
		Metrics:   d.metrics,
	})

	layout := keymap.SystemLayout()
	platform := permission.System()
	if simulate {
		layout = keymap.ANSILayout{}
		platform = simulatedPlatform{}
	}

	d.engine = engine.New(engine.Options{
		Settings:     settings,
		Provider:     d.trees,
		Presenter:    d.runner,
		Reposter:     d.capture,
		Gate:         d.capture.Gate(),
		Layout:       layout,
		Logger:       logger,
		Metrics:      d.metrics,
		Crash:        d.crash,
		OnForceReset: d.restartCapture,
	})

	d.prompter = permission.New(permission.Options{
		Platform: platform,
		Interval: cfg.PromptInterval(),
		Logger:   logger,
		Metrics:  d.metrics,
	})

	hcfg := cfg.HealthConfig()
	d.checker = health.NewChecker()
	d.checker.RegisterFunc("capture", true, health.CaptureCheck(d.capture))
	d.checker.RegisterFunc("memory", false, health.MemoryCheck(health.HeapFootprint, hcfg.Tiers))
	d.checker.RegisterFunc("trees", false, health.CustomCheck(func() error {
		_, err := d.trees.Tree(engine.VariantGlobal)
		return err
	}))
	d.checker.RegisterFunc("permission", true, health.CustomCheck(func() error {
		if !d.prompter.Trusted() {
			return capture.ErrPermissionDenied
		}
		return nil
	}))

	d.sup = health.NewSupervisor(health.Options{
		Config:           hcfg,
		Capture:          d.capture,
		Sequence:         d.engine,
		Checker:          d.checker,
		Logger:           logger,
		Metrics:          d.metrics,
		Crash:            d.crash,
		Cleanup:          d.cleanup,
		PermissionDenied: d.permissionDenied,
	})
	return d, nil
}

// run starts every loop and blocks until ctx is cancelled.
func (d *daemon) run(ctx context.Context) error {
	if err := d.trees.Watch(); err != nil {
		d.log.Warn("tree watching disabled", "error", err)
	}
	defer d.trees.Close()

	if !d.prompter.Trusted() {
		d.prompter.Request()
	}
	if err := d.capture.Start(); err != nil {
		if !errors.Is(err, capture.ErrPermissionDenied) {
			return fmt.Errorf("start capture: %w", err)
		}
		// the supervisor keeps retrying and prompting until access is granted
		d.log.Warn("waiting for accessibility permission", "error", err)
	}
	defer d.capture.Stop()

	var wg sync.WaitGroup
	loops := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"engine", func(ctx context.Context) error { return d.engine.Run(ctx, d.handoff, d.batchSize) }},
		{"runner", d.runner.Run},
		{"supervisor", d.sup.Run},
		{"metrics", d.writeMetrics},
	}
	for _, l := range loops {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				d.log.Error("loop stopped", "loop", l.name, "error", err)
			}
		}()
	}

	<-ctx.Done()
	wg.Wait()

	stats := d.sup.Statistics()
	d.log.Info("stopped",
		"probes", stats.Probes,
		"recoveries", stats.RecoverySuccesses,
		"force_resets", stats.ForceResets,
		"panics", d.crash.Count())
	return nil
}

func (d *daemon) restartCapture() {
	if err := d.sup.CompleteForceReset(); err != nil {
		d.log.Error("capture restart after force reset", "error", err)
	}
}

func (d *daemon) treeChanged(id string) {
	d.engine.Invalidate(id)
}

func (d *daemon) cleanup(tier health.Tier) {
	d.engine.InvalidateAll()
	if tier >= health.TierAggressive {
		d.trees.InvalidateAll()
	}
}

func (d *daemon) permissionDenied() {
	if d.prompter.Request() {
		d.log.Info("asked for accessibility permission")
	}
}

// applyConfig takes the parts of a reloaded configuration that can change
// at runtime. Queue sizes and the trees directory need a restart.
func (d *daemon) applyConfig(old, cur *config.Config) {
	settings, err := cur.EngineSettings()
	if err != nil {
		d.log.Error("reloaded config rejected", "error", err)
		return
	}
	d.engine.UpdateSettings(settings)
	d.metrics.ConfigReloads.Inc()

	if lc, err := cur.LoggingConfig(); err == nil {
		d.log.SetLevel(lc.Level)
	}
	if old.Trees.Dir != cur.Trees.Dir || old.Queue != cur.Queue {
		d.log.Warn("trees dir and queue changes take effect after restart")
	}
	d.log.Info("configuration applied", "activations", len(settings.Activations))
}

// writeMetrics refreshes the textfile until ctx is done.
func (d *daemon) writeMetrics(ctx context.Context) error {
	if d.textfile == "" {
		return nil
	}
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return d.flushMetrics()
		case <-ticker.C:
			if err := d.flushMetrics(); err != nil {
				d.log.Warn("write metrics", "error", err)
			}
		}
	}
}

func (d *daemon) flushMetrics() error {
	d.metrics.QueueDepth.Set(int64(d.handoff.Len()))
	d.metrics.UpdateUptime()
	return d.metrics.Registry().WriteTextfile(d.textfile)
}
