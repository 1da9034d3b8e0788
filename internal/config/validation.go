package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"leaderkey/internal/engine"
	"leaderkey/internal/event"
)

// ErrInvalidConfig is returned when validation fails.
var ErrInvalidConfig = errors.New("invalid configuration")

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Is lets errors.Is match ErrInvalidConfig.
func (e ValidationErrors) Is(target error) bool {
	return target == ErrInvalidConfig && e.HasErrors()
}

// ValidateConfig performs comprehensive validation of the configuration.
func ValidateConfig(c *Config) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var errs ValidationErrors

	if c.Version < 1 || c.Version > Version {
		errs = append(errs, ValidationError{
			Field:   "version",
			Message: fmt.Sprintf("unsupported version %d (current: %d)", c.Version, Version),
		})
	}

	errs = append(errs, validateShortcuts(c)...)
	errs = append(errs, validateSequence(&c.Sequence)...)
	errs = append(errs, validateLayout(&c.Layout)...)
	errs = append(errs, validateQueue(&c.Queue)...)
	errs = append(errs, validateHealth(&c.Health)...)
	errs = append(errs, validatePermission(&c.Permission)...)
	errs = append(errs, validateTrees(&c.Trees)...)
	errs = append(errs, validateLogging(&c.Logging)...)
	if c.Metrics.Textfile != "" && c.Metrics.IntervalSec < 1 {
		errs = append(errs, ValidationError{Field: "metrics.interval_sec", Message: "must be at least 1 second"})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateShortcuts(c *Config) ValidationErrors {
	var errs ValidationErrors

	if len(c.Activations) == 0 {
		errs = append(errs, *RequiredFieldError("activation"))
	}

	seen := make(map[event.Shortcut]string)
	for i, a := range c.Activations {
		field := fmt.Sprintf("activation[%d]", i)
		sc, err := event.ParseShortcut(a.Shortcut)
		switch {
		case err != nil:
			errs = append(errs, ValidationError{Field: field + ".shortcut", Message: err.Error()})
		case !sc.Valid():
			errs = append(errs, *RequiredFieldError(field + ".shortcut"))
		default:
			if prev, dup := seen[sc]; dup {
				errs = append(errs, ValidationError{
					Field:   field + ".shortcut",
					Message: fmt.Sprintf("%s is already bound by %s", sc, prev),
				})
			}
			seen[sc] = field
		}
		if _, err := engine.ParseVariant(a.Variant); err != nil {
			errs = append(errs, ValidationError{Field: field + ".variant", Message: err.Error()})
		}
	}

	reset, err := event.ParseShortcut(c.ForceReset)
	if err != nil {
		errs = append(errs, ValidationError{Field: "force_reset", Message: err.Error()})
	} else if prev, dup := seen[reset]; dup && reset.Valid() {
		errs = append(errs, ValidationError{
			Field:   "force_reset",
			Message: fmt.Sprintf("%s is already bound by %s", reset, prev),
		})
	}

	if _, err := event.ParseShortcut(c.OpenSettings); err != nil {
		errs = append(errs, ValidationError{Field: "open_settings", Message: err.Error()})
	}

	if _, err := engine.ParseReactivatePolicy(c.Reactivate); err != nil {
		errs = append(errs, ValidationError{Field: "reactivate", Message: err.Error()})
	}

	return errs
}

func validateSequence(s *SequenceConfig) ValidationErrors {
	if s.StickyModifier == "" {
		return nil
	}
	if _, ok := event.ParseModifier(s.StickyModifier); !ok {
		return ValidationErrors{{
			Field:   "sequence.sticky_modifier",
			Message: fmt.Sprintf("unknown modifier %q", s.StickyModifier),
		}}
	}
	return nil
}

func validateLayout(l *LayoutConfig) ValidationErrors {
	var errs ValidationErrors

	if l.Forced && len(l.Table) == 0 {
		errs = append(errs, ValidationError{
			Field:   "layout.table",
			Message: "forced layout without a table falls back to ANSI",
		})
	}
	for k, v := range l.Table {
		if _, err := strconv.ParseUint(k, 10, 16); err != nil {
			errs = append(errs, ValidationError{
				Field:   "layout.table." + k,
				Message: "key must be a decimal key code",
			})
		}
		if v == "" {
			errs = append(errs, ValidationError{
				Field:   "layout.table." + k,
				Message: "character cannot be empty",
			})
		}
	}
	return errs
}

func validateQueue(q *QueueConfig) ValidationErrors {
	var errs ValidationErrors

	if q.Capacity < 16 || q.Capacity > 1<<16 {
		errs = append(errs, *RangeError("queue.capacity", 16, 1<<16))
	}
	if q.BatchSize < 1 || q.BatchSize > q.Capacity {
		errs = append(errs, *RangeError("queue.batch_size", 1, q.Capacity))
	}
	if q.WaitTimeoutMs < 1 || q.WaitTimeoutMs > 1000 {
		errs = append(errs, *RangeError("queue.wait_timeout_ms", 1, 1000))
	}
	return errs
}

func validateHealth(h *HealthConfig) ValidationErrors {
	var errs ValidationErrors

	intervals := []struct {
		field string
		value int
	}{
		{"health.base_interval_ms", h.BaseIntervalMs},
		{"health.critical_interval_ms", h.CriticalIntervalMs},
		{"health.active_interval_ms", h.ActiveIntervalMs},
		{"health.low_power_interval_ms", h.LowPowerIntervalMs},
	}
	for _, iv := range intervals {
		if iv.value < 10 || iv.value > 60000 {
			errs = append(errs, *RangeError(iv.field, 10, 60000))
		}
	}

	if h.CriticalIntervalMs > h.BaseIntervalMs {
		errs = append(errs, ValidationError{
			Field:   "health.critical_interval_ms",
			Message: "critical interval must not exceed the base interval",
		})
	}

	seconds := []struct {
		field string
		value int
	}{
		{"health.idle_after_sec", h.IdleAfterSec},
		{"health.consistency_interval_sec", h.ConsistencyIntervalSec},
		{"health.watchdog_interval_sec", h.WatchdogIntervalSec},
		{"health.inactivity_sec", h.InactivitySec},
	}
	for _, s := range seconds {
		if s.value < 1 {
			errs = append(errs, ValidationError{Field: s.field, Message: "must be at least 1 second"})
		}
	}

	if h.ProactiveMB < 0 || h.AggressiveMB < 0 || h.EmergencyMB < 0 {
		errs = append(errs, ValidationError{Field: "health", Message: "memory tiers cannot be negative"})
	}
	if h.ProactiveMB > 0 && h.AggressiveMB > 0 && h.AggressiveMB < h.ProactiveMB {
		errs = append(errs, ValidationError{
			Field:   "health.aggressive_mb",
			Message: "aggressive tier must not be below the proactive tier",
		})
	}
	if h.AggressiveMB > 0 && h.EmergencyMB > 0 && h.EmergencyMB < h.AggressiveMB {
		errs = append(errs, ValidationError{
			Field:   "health.emergency_mb",
			Message: "emergency tier must not be below the aggressive tier",
		})
	}

	return errs
}

func validatePermission(p *PermissionConfig) ValidationErrors {
	if p.PromptIntervalSec < 1 {
		return ValidationErrors{{Field: "permission.prompt_interval_sec", Message: "must be at least 1 second"}}
	}
	return nil
}

func validateTrees(t *TreesConfig) ValidationErrors {
	var errs ValidationErrors
	if t.Dir == "" {
		errs = append(errs, *RequiredFieldError("trees.dir"))
	}
	if t.DebounceMs < 0 {
		errs = append(errs, ValidationError{Field: "trees.debounce_ms", Message: "cannot be negative"})
	}
	return errs
}

func validateLogging(l *LoggingConfig) ValidationErrors {
	var errs ValidationErrors

	switch l.Level {
	case "debug", "info", "warn", "error":
		// Valid levels
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("invalid log level: %s (valid: debug, info, warn, error)", l.Level),
		})
	}

	switch l.Format {
	case "text", "json":
		// Valid formats
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("invalid log format: %s (valid: text, json)", l.Format),
		})
	}

	switch l.Output {
	case "stdout", "stderr", "discard":
	case "file", "both":
		if l.FilePath == "" {
			errs = append(errs, ValidationError{
				Field:   "logging.file_path",
				Message: "file path is required when output is 'file' or 'both'",
			})
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.output",
			Message: fmt.Sprintf("invalid log output: %s (valid: stdout, stderr, file, both, discard)", l.Output),
		})
	}

	if l.MaxSizeMB < 1 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_size_mb",
			Message: "max size must be at least 1 MB",
		})
	}

	if l.MaxBackups < 0 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_backups",
			Message: "max backups cannot be negative",
		})
	}

	if l.MaxAgeDays < 0 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_age_days",
			Message: "max age cannot be negative",
		})
	}

	return errs
}

// IsWarning returns true if this is a non-fatal validation issue.
func (e *ValidationError) IsWarning() bool {
	warningFields := []string{
		"layout.table", // an empty forced table still works
	}
	for _, f := range warningFields {
		if e.Field == f {
			return true
		}
	}
	return false
}

// Warnings returns only warning-level validation errors.
func (e ValidationErrors) Warnings() ValidationErrors {
	var warnings ValidationErrors
	for _, err := range e {
		if err.IsWarning() {
			warnings = append(warnings, err)
		}
	}
	return warnings
}

// Errors returns only error-level validation errors.
func (e ValidationErrors) Errors() ValidationErrors {
	var errs ValidationErrors
	for _, err := range e {
		if !err.IsWarning() {
			errs = append(errs, err)
		}
	}
	return errs
}

// HasErrors returns true if there are any non-warning errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e.Errors()) > 0
}

// RequiredFieldError creates a validation error for a required field.
func RequiredFieldError(field string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: "required field is missing",
	}
}

// RangeError creates a validation error for an out-of-range value.
func RangeError(field string, min, max any) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: fmt.Sprintf("value must be between %v and %v", min, max),
	}
}
