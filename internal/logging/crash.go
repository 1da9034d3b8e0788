package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

// CrashReport describes a recovered panic.
type CrashReport struct {
	Timestamp    time.Time      `json:"timestamp"`
	Version      string         `json:"version"`
	GOOS         string         `json:"goos"`
	GOARCH       string         `json:"goarch"`
	NumGoroutine int            `json:"num_goroutine"`
	HeapAlloc    uint64         `json:"heap_alloc"`
	Subsystem    string         `json:"subsystem"`
	PanicValue   string         `json:"panic_value"`
	StackTrace   string         `json:"stack_trace"`
	Context      map[string]any `json:"context,omitempty"`
}

// CrashHandlerConfig configures the crash handler.
type CrashHandlerConfig struct {
	// Dir is where crash reports are written. Empty disables dumps.
	Dir string

	// Version is the application version.
	Version string

	// Logger receives one error line per crash.
	Logger *Logger

	// OnCrash is called after a crash is recorded.
	OnCrash func(CrashReport)
}

// CrashHandler recovers panics in long-running goroutines, writes a JSON
// report and lets the caller decide whether to keep going.
type CrashHandler struct {
	mu      sync.Mutex
	dir     string
	version string
	log     *Logger
	onCrash func(CrashReport)
	count   atomic.Uint64
}

// DefaultCrashDir returns the platform-specific crash report directory.
func DefaultCrashDir() string {
	switch runtime.GOOS {
	case "darwin":
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, "Library", "Logs", "DiagnosticReports", "leaderkey")
	default:
		stateHome := os.Getenv("XDG_STATE_HOME")
		if stateHome == "" {
			homeDir, _ := os.UserHomeDir()
			stateHome = filepath.Join(homeDir, ".local", "state")
		}
		return filepath.Join(stateHome, "leaderkey", "crashes")
	}
}

// NewCrashHandler creates a CrashHandler.
func NewCrashHandler(cfg CrashHandlerConfig) *CrashHandler {
	if cfg.Logger == nil {
		cfg.Logger = Default()
	}
	return &CrashHandler{
		dir:     cfg.Dir,
		version: cfg.Version,
		log:     cfg.Logger,
		onCrash: cfg.OnCrash,
	}
}

// Guard runs fn and recovers a panic from it. It reports whether a panic
// was recovered.
func (h *CrashHandler) Guard(subsystem string, ctx map[string]any, fn func()) (recovered bool) {
	defer func() {
		if r := recover(); r != nil {
			h.HandlePanic(subsystem, r, ctx)
			recovered = true
		}
	}()
	fn()
	return false
}

// HandlePanic records a recovered panic value.
func (h *CrashHandler) HandlePanic(subsystem string, value any, ctx map[string]any) CrashReport {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	report := CrashReport{
		Timestamp:    time.Now().UTC(),
		Version:      h.version,
		GOOS:         runtime.GOOS,
		GOARCH:       runtime.GOARCH,
		NumGoroutine: runtime.NumGoroutine(),
		HeapAlloc:    mem.HeapAlloc,
		Subsystem:    subsystem,
		PanicValue:   fmt.Sprintf("%v", value),
		StackTrace:   string(debug.Stack()),
		Context:      ctx,
	}
	h.count.Add(1)

	path, err := h.write(report)
	attrs := []any{"subsystem", subsystem, "panic", report.PanicValue}
	if err != nil {
		attrs = append(attrs, "dump_error", err)
	} else if path != "" {
		attrs = append(attrs, "dump", path)
	}
	h.log.Error("recovered panic", attrs...)

	if h.onCrash != nil {
		h.onCrash(report)
	}
	return report
}

// Count returns how many panics were recovered.
func (h *CrashHandler) Count() uint64 {
	return h.count.Load()
}

func (h *CrashHandler) write(report CrashReport) (string, error) {
	if h.dir == "" {
		return "", nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := os.MkdirAll(h.dir, 0750); err != nil {
		return "", fmt.Errorf("create crash dir: %w", err)
	}
	name := fmt.Sprintf("crash-%s-%s-%d.json",
		report.Subsystem,
		report.Timestamp.Format("20060102-150405"),
		h.count.Load())
	path := filepath.Join(h.dir, name)

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal crash report: %w", err)
	}
	if err := os.WriteFile(path, data, 0640); err != nil {
		return "", fmt.Errorf("write crash report: %w", err)
	}
	return path, nil
}

// Reports reads every crash report in the crash directory.
func (h *CrashHandler) Reports() ([]CrashReport, error) {
	if h.dir == "" {
		return nil, nil
	}
	files, err := filepath.Glob(filepath.Join(h.dir, "crash-*.json"))
	if err != nil {
		return nil, err
	}

	reports := make([]CrashReport, 0, len(files))
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			continue
		}
		var report CrashReport
		if err := json.Unmarshal(data, &report); err != nil {
			continue
		}
		reports = append(reports, report)
	}
	return reports, nil
}

// Prune removes crash reports older than maxAge.
func (h *CrashHandler) Prune(maxAge time.Duration) error {
	if h.dir == "" {
		return nil
	}
	files, err := filepath.Glob(filepath.Join(h.dir, "crash-*.json"))
	if err != nil {
		return err
	}
	cutoff := time.Now().Add(-maxAge)
	for _, file := range files {
		info, err := os.Stat(file)
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			os.Remove(file)
		}
	}
	return nil
}
