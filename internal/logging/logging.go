// Package logging provides structured logging with slog for leaderkey:
// text or JSON output, per-component tags, sequence ids, redaction of typed
// text, and a rotating log file. crash.go recovers panics in long-running
// goroutines.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
)

// Level is a slog level.
type Level = slog.Level

const (
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
)

// Format selects the slog handler.
type Format int

const (
	FormatText Format = iota
	FormatJSON
)

// ParseFormat parses "text" or "json". Empty means text.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "", "text":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	}
	return FormatText, fmt.Errorf("unknown log format: %s", s)
}

// Config describes where and how a Logger writes.
type Config struct {
	Level  Level
	Format Format
	// Output is stdout, stderr, file, both (stderr and file) or discard.
	Output   string
	FilePath string

	// Rotation: megabytes per file, days and files kept, gzip of backups.
	MaxSize    int64
	MaxAge     int
	MaxBackups int
	Compress   bool

	AddSource bool
	// Component is attached to every record as "component".
	Component string
	// Writer overrides Output when set.
	Writer io.Writer
}

// DefaultConfig returns a default logging configuration.
func DefaultConfig() *Config {
	return &Config{
		Level:      LevelInfo,
		Format:     FormatText,
		Output:     "stderr",
		FilePath:   defaultLogPath(),
		MaxSize:    10,
		MaxAge:     14,
		MaxBackups: 3,
		Compress:   true,
		Component:  "leaderkey",
	}
}

// defaultLogPath is ~/Library/Logs/leaderkey on macOS and the XDG state
// directory elsewhere.
func defaultLogPath() string {
	home, _ := os.UserHomeDir()
	if runtime.GOOS == "darwin" {
		return filepath.Join(home, "Library", "Logs", "leaderkey", "leaderkey.log")
	}
	state := os.Getenv("XDG_STATE_HOME")
	if state == "" {
		state = filepath.Join(home, ".local", "state")
	}
	return filepath.Join(state, "leaderkey", "leaderkey.log")
}

// Logger wraps slog.Logger with a shared level, an optional rotating file
// and a sequence counter. Loggers derived with WithComponent or WithSequence
// share all three.
type Logger struct {
	*slog.Logger
	config *Config
	shared *shared
}

type shared struct {
	level   slog.LevelVar
	seq     atomic.Uint64
	mu      sync.Mutex
	rotator *FileRotator
}

var defaultLogger atomic.Pointer[Logger]

// Default returns the process-wide logger, creating one from DefaultConfig
// on first use.
func Default() *Logger {
	if l := defaultLogger.Load(); l != nil {
		return l
	}
	l, err := New(DefaultConfig())
	if err != nil {
		l = Discard()
	}
	defaultLogger.CompareAndSwap(nil, l)
	return defaultLogger.Load()
}

// SetDefault replaces the process-wide logger and slog's default.
func SetDefault(l *Logger) {
	defaultLogger.Store(l)
	slog.SetDefault(l.Logger)
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	l, _ := New(&Config{Output: "discard", Level: LevelError})
	return l
}

// New creates a Logger. A nil cfg means DefaultConfig.
func New(cfg *Config) (*Logger, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	l := &Logger{config: cfg, shared: &shared{}}
	l.shared.level.Set(cfg.Level)

	w, err := l.openOutput()
	if err != nil {
		return nil, fmt.Errorf("open log output: %w", err)
	}

	opts := &slog.HandlerOptions{
		Level:       &l.shared.level,
		AddSource:   cfg.AddSource,
		ReplaceAttr: redact,
	}
	var handler slog.Handler = slog.NewTextHandler(w, opts)
	if cfg.Format == FormatJSON {
		handler = slog.NewJSONHandler(w, opts)
	}
	if cfg.Component != "" {
		handler = handler.WithAttrs([]slog.Attr{slog.String("component", cfg.Component)})
	}
	l.Logger = slog.New(handler)
	return l, nil
}

func (l *Logger) openOutput() (io.Writer, error) {
	if l.config.Writer != nil {
		return l.config.Writer, nil
	}
	output := strings.ToLower(l.config.Output)
	switch output {
	case "stdout":
		return os.Stdout, nil
	case "discard":
		return io.Discard, nil
	case "file", "both":
	default:
		return os.Stderr, nil
	}

	rotator, err := NewFileRotator(l.config)
	if err != nil {
		return nil, err
	}
	l.shared.rotator = rotator
	if output == "both" {
		return io.MultiWriter(os.Stderr, rotator), nil
	}
	return rotator, nil
}

// Attribute keys whose values never reach the log. Typed text is the
// obvious one for a keyboard daemon.
var redactedKeys = []string{"password", "secret", "token", "credential", "typed_text"}

func shouldRedact(key string) bool {
	key = strings.ToLower(key)
	for _, k := range redactedKeys {
		if strings.Contains(key, k) {
			return true
		}
	}
	return false
}

func redact(_ []string, a slog.Attr) slog.Attr {
	if shouldRedact(a.Key) {
		a.Value = slog.StringValue("[REDACTED]")
	}
	return a
}

func (l *Logger) derive(s *slog.Logger) *Logger {
	return &Logger{Logger: s, config: l.config, shared: l.shared}
}

// WithComponent returns a logger tagged with a component name.
func (l *Logger) WithComponent(name string) *Logger {
	return l.derive(l.Logger.With(slog.String("component", name)))
}

// NextSequence returns a new sequence id, unique across derived loggers.
func (l *Logger) NextSequence() uint64 {
	return l.shared.seq.Add(1)
}

// WithSequence returns a logger tagged with a sequence id.
func (l *Logger) WithSequence(id uint64) *Logger {
	return l.derive(l.Logger.With(slog.Uint64("seq", id)))
}

// SetLevel changes the minimum level for this logger and every logger
// derived from it.
func (l *Logger) SetLevel(level Level) {
	l.shared.level.Set(level)
}

// Close closes the log file, if any.
func (l *Logger) Close() error {
	l.shared.mu.Lock()
	defer l.shared.mu.Unlock()
	if l.shared.rotator == nil {
		return nil
	}
	return l.shared.rotator.Close()
}

// Sync flushes the log file, if any.
func (l *Logger) Sync() error {
	l.shared.mu.Lock()
	defer l.shared.mu.Unlock()
	if l.shared.rotator == nil {
		return nil
	}
	return l.shared.rotator.Sync()
}

// ParseLevel parses debug, info, warn or error. Empty means info.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	}
	return LevelInfo, fmt.Errorf("unknown log level: %s", s)
}
