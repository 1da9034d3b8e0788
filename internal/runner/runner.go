// Package runner executes the instructions the sequence engine emits.
//
// Dispatcher sits on the engine's Presenter boundary. Presentation
// instructions go to a Surface; DispatchAction instructions are queued and
// executed on a worker goroutine so the engine never waits on a process.
package runner

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync/atomic"
	"time"

	"leaderkey/internal/engine"
	"leaderkey/internal/event"
	"leaderkey/internal/logging"
	"leaderkey/internal/metrics"
	"leaderkey/internal/tree"
)

// DefaultQueueSize bounds the pending actions.
const DefaultQueueSize = 64

// DefaultTimeout bounds one external command.
const DefaultTimeout = 30 * time.Second

// ErrQueueFull is reported when an action was dropped.
var ErrQueueFull = errors.New("runner: action queue full")

// Surface is the presentation layer.
type Surface interface {
	Show(g *tree.Group)
	Hide()
	Shake()
	OpenSettings()
}

// Executor starts external commands.
type Executor interface {
	Run(ctx context.Context, name string, args ...string) error
}

// ExecFunc adapts a function to Executor.
type ExecFunc func(ctx context.Context, name string, args ...string) error

func (f ExecFunc) Run(ctx context.Context, name string, args ...string) error {
	return f(ctx, name, args...)
}

type osExecutor struct{}

func (osExecutor) Run(ctx context.Context, name string, args ...string) error {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		if msg := strings.TrimSpace(string(out)); msg != "" {
			return fmt.Errorf("%s: %w: %s", name, err, msg)
		}
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// Options configures a Dispatcher.
type Options struct {
	Surface   Surface
	Executor  Executor
	QueueSize int
	Timeout   time.Duration
	Logger    *logging.Logger
	Metrics   *metrics.Pipeline
}

// Dispatcher implements engine.Presenter.
type Dispatcher struct {
	surface Surface
	exec    Executor
	timeout time.Duration
	log     *logging.Logger
	metrics *metrics.Pipeline

	jobs    chan tree.Action
	visible atomic.Bool
	dropped atomic.Uint64
}

var _ engine.Presenter = (*Dispatcher)(nil)

// New creates a Dispatcher. Run must be started for actions to execute.
func New(opts Options) *Dispatcher {
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}
	if opts.Surface == nil {
		opts.Surface = LogSurface{Logger: opts.Logger.WithComponent("surface")}
	}
	if opts.Executor == nil {
		opts.Executor = osExecutor{}
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Discard()
	}
	return &Dispatcher{
		surface: opts.Surface,
		exec:    opts.Executor,
		timeout: opts.Timeout,
		log:     opts.Logger.WithComponent("runner"),
		metrics: opts.Metrics,
		jobs:    make(chan tree.Action, opts.QueueSize),
	}
}

// Present implements engine.Presenter. It never blocks.
func (d *Dispatcher) Present(in engine.Instruction) {
	switch in.Kind {
	case engine.EnterGroup:
		d.visible.Store(true)
		d.surface.Show(in.Group)
	case engine.DispatchAction:
		if in.Action != nil {
			d.enqueue(*in.Action)
		}
	case engine.Shake:
		d.surface.Shake()
	case engine.Hide, engine.ForceReset:
		d.visible.Store(false)
		d.surface.Hide()
	case engine.OpenSettingsAndHide:
		d.visible.Store(false)
		d.surface.Hide()
		d.surface.OpenSettings()
	}
}

// Visible implements engine.Presenter.
func (d *Dispatcher) Visible() bool {
	return d.visible.Load()
}

// SetVisible records surface visibility changed from outside the engine,
// for example a window closed by the user.
func (d *Dispatcher) SetVisible(v bool) {
	d.visible.Store(v)
}

func (d *Dispatcher) enqueue(a tree.Action) {
	select {
	case d.jobs <- a:
	default:
		d.dropped.Add(1)
		d.metrics.ActionFailures.Inc()
		d.log.Warn("dropping action", "action", a.DisplayName(), "error", ErrQueueFull)
	}
}

// Dropped returns how many actions were dropped on a full queue.
func (d *Dispatcher) Dropped() uint64 {
	return d.dropped.Load()
}

// Run executes queued actions until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case a := <-d.jobs:
			if err := d.Execute(ctx, a); err != nil {
				d.metrics.ActionFailures.Inc()
				d.log.Error("action failed", "action", a.DisplayName(), "kind", a.Kind, "error", err)
			}
		}
	}
}

// Execute runs one action synchronously.
func (d *Dispatcher) Execute(ctx context.Context, a tree.Action) error {
	if a.Kind == tree.KindRunMacro {
		return d.runMacro(ctx, a)
	}
	name, args, err := Command(a)
	if err != nil {
		return err
	}
	if name == "" {
		return nil
	}
	runCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	d.log.Debug("exec", "action", a.DisplayName(), "cmd", name)
	return d.exec.Run(runCtx, name, args...)
}

func (d *Dispatcher) runMacro(ctx context.Context, a tree.Action) error {
	var errs []error
	for i, step := range a.Macro {
		if !step.Enabled {
			continue
		}
		if step.Delay > 0 {
			t := time.NewTimer(step.Delay)
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
		}
		if err := d.Execute(ctx, step.Action); err != nil {
			errs = append(errs, fmt.Errorf("step %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// Command maps an action to the external command that performs it. An
// empty name means there is nothing to run.
func Command(a tree.Action) (string, []string, error) {
	switch a.Kind {
	case tree.KindLaunchApplication:
		return openApplication(a.Value, a.Activates)
	case tree.KindOpenURL, tree.KindOpenFolder:
		return openTarget(a.Value, a.Activates || a.Kind == tree.KindOpenFolder)
	case tree.KindRunCommand:
		return "/bin/sh", []string{"-c", a.Value}, nil
	case tree.KindTypeText:
		return typeText(a.Value)
	case tree.KindSendShortcut:
		sc, err := event.ParseShortcut(a.Value)
		if err != nil {
			return "", nil, fmt.Errorf("shortcut action: %w", err)
		}
		return sendShortcut(sc)
	case tree.KindToggleStickyMode:
		return "", nil, nil
	}
	return "", nil, fmt.Errorf("runner: unsupported action kind %s", a.Kind)
}

// appleScriptString quotes s as an AppleScript string literal.
func appleScriptString(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return `"` + r.Replace(s) + `"`
}
