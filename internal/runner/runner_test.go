package runner

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leaderkey/internal/engine"
	"leaderkey/internal/logging"
	"leaderkey/internal/metrics"
	"leaderkey/internal/tree"
)

type call struct {
	name string
	args []string
}

type recordingExec struct {
	mu    sync.Mutex
	calls []call
	err   error
}

func (r *recordingExec) Run(_ context.Context, name string, args ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call{name, args})
	return r.err
}

func (r *recordingExec) snapshot() []call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]call(nil), r.calls...)
}

type recordingSurface struct {
	events []string
}

func (s *recordingSurface) Show(g *tree.Group) { s.events = append(s.events, "show:"+g.DisplayName()) }
func (s *recordingSurface) Hide()              { s.events = append(s.events, "hide") }
func (s *recordingSurface) Shake()             { s.events = append(s.events, "shake") }
func (s *recordingSurface) OpenSettings()      { s.events = append(s.events, "settings") }

func newDispatcher(exec Executor, surface Surface, queue int) (*Dispatcher, *metrics.Pipeline) {
	m := metrics.Discard()
	return New(Options{
		Surface:   surface,
		Executor:  exec,
		QueueSize: queue,
		Logger:    logging.Discard(),
		Metrics:   m,
	}), m
}

func TestPresentDrivesSurface(t *testing.T) {
	surface := &recordingSurface{}
	d, _ := newDispatcher(&recordingExec{}, surface, 0)

	d.Present(engine.Instruction{Kind: engine.EnterGroup, Group: &tree.Group{Label: "Root"}})
	assert.True(t, d.Visible())
	d.Present(engine.Instruction{Kind: engine.Shake})
	assert.True(t, d.Visible())
	d.Present(engine.Instruction{Kind: engine.OpenSettingsAndHide})
	assert.False(t, d.Visible())
	d.Present(engine.Instruction{Kind: engine.EnterGroup, Group: &tree.Group{Key: "o"}})
	d.Present(engine.Instruction{Kind: engine.ForceReset})
	assert.False(t, d.Visible())

	assert.Equal(t, []string{"show:Root", "shake", "hide", "settings", "show:o", "hide"}, surface.events)

	d.SetVisible(true)
	assert.True(t, d.Visible())
}

func TestDispatchRunsOnWorker(t *testing.T) {
	exec := &recordingExec{}
	d, _ := newDispatcher(exec, &recordingSurface{}, 0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	d.Present(engine.Instruction{Kind: engine.DispatchAction, Action: &tree.Action{Key: "c", Kind: tree.KindRunCommand, Value: "echo hi"}})

	require.Eventually(t, func() bool { return len(exec.snapshot()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, call{"/bin/sh", []string{"-c", "echo hi"}}, exec.snapshot()[0])

	cancel()
	assert.NoError(t, <-done)
}

func TestFailedActionCounted(t *testing.T) {
	exec := &recordingExec{err: errors.New("exit status 1")}
	d, m := newDispatcher(exec, &recordingSurface{}, 0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	d.Present(engine.Instruction{Kind: engine.DispatchAction, Action: &tree.Action{Kind: tree.KindRunCommand, Value: "false"}})
	require.Eventually(t, func() bool { return m.ActionFailures.Value() == 1 }, time.Second, time.Millisecond)
}

func TestFullQueueDrops(t *testing.T) {
	d, m := newDispatcher(&recordingExec{}, &recordingSurface{}, 1)
	a := &tree.Action{Kind: tree.KindRunCommand, Value: "true"}

	d.Present(engine.Instruction{Kind: engine.DispatchAction, Action: a})
	d.Present(engine.Instruction{Kind: engine.DispatchAction, Action: a})
	assert.Equal(t, uint64(1), d.Dropped())
	assert.Equal(t, uint64(1), m.ActionFailures.Value())
}

func TestMacro(t *testing.T) {
	exec := &recordingExec{}
	d, _ := newDispatcher(exec, &recordingSurface{}, 0)

	macro := tree.Action{Kind: tree.KindRunMacro, Macro: []tree.MacroStep{
		{Action: tree.Action{Kind: tree.KindRunCommand, Value: "one"}, Enabled: true},
		{Action: tree.Action{Kind: tree.KindRunCommand, Value: "skipped"}},
		{Action: tree.Action{Kind: tree.KindRunCommand, Value: "two"}, Delay: 5 * time.Millisecond, Enabled: true},
	}}
	start := time.Now()
	require.NoError(t, d.Execute(context.Background(), macro))
	assert.GreaterOrEqual(t, time.Since(start), 5*time.Millisecond)

	calls := exec.snapshot()
	require.Len(t, calls, 2)
	assert.Equal(t, "one", calls[0].args[1])
	assert.Equal(t, "two", calls[1].args[1])
}

func TestMacroCollectsErrors(t *testing.T) {
	exec := &recordingExec{err: errors.New("boom")}
	d, _ := newDispatcher(exec, &recordingSurface{}, 0)

	macro := tree.Action{Kind: tree.KindRunMacro, Macro: []tree.MacroStep{
		{Action: tree.Action{Kind: tree.KindRunCommand, Value: "a"}, Enabled: true},
		{Action: tree.Action{Kind: tree.KindRunCommand, Value: "b"}, Enabled: true},
	}}
	err := d.Execute(context.Background(), macro)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "step 0")
	assert.Contains(t, err.Error(), "step 1")
	assert.Len(t, exec.snapshot(), 2)
}

func TestMacroCancelled(t *testing.T) {
	d, _ := newDispatcher(&recordingExec{}, &recordingSurface{}, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	macro := tree.Action{Kind: tree.KindRunMacro, Macro: []tree.MacroStep{
		{Action: tree.Action{Kind: tree.KindRunCommand, Value: "a"}, Delay: time.Hour, Enabled: true},
	}}
	assert.ErrorIs(t, d.Execute(ctx, macro), context.Canceled)
}

func TestCommand(t *testing.T) {
	name, args, err := Command(tree.Action{Kind: tree.KindRunCommand, Value: "ls -la"})
	require.NoError(t, err)
	assert.Equal(t, "/bin/sh", name)
	assert.Equal(t, []string{"-c", "ls -la"}, args)

	name, _, err = Command(tree.Action{Kind: tree.KindToggleStickyMode})
	require.NoError(t, err)
	assert.Empty(t, name)

	_, _, err = Command(tree.Action{Kind: tree.Kind(99)})
	assert.Error(t, err)

	_, _, err = Command(tree.Action{Kind: tree.KindSendShortcut, Value: "cmd+nope"})
	assert.Error(t, err)

	name, args, err = Command(tree.Action{Kind: tree.KindOpenURL, Value: "https://example.com", Activates: true})
	require.NoError(t, err)
	assert.NotEmpty(t, name)
	assert.Equal(t, "https://example.com", args[len(args)-1])
}

func TestAppleScriptString(t *testing.T) {
	assert.Equal(t, `"plain"`, appleScriptString("plain"))
	assert.Equal(t, `"say \"hi\" \\ bye"`, appleScriptString(`say "hi" \ bye`))
}
