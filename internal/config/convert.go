package config

import (
	"fmt"
	"strconv"
	"time"

	"leaderkey/internal/engine"
	"leaderkey/internal/event"
	"leaderkey/internal/health"
	"leaderkey/internal/logging"
)

// EngineSettings converts the shortcut and sequence sections.
func (c *Config) EngineSettings() (engine.Settings, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var s engine.Settings
	for i, a := range c.Activations {
		sc, err := event.ParseShortcut(a.Shortcut)
		if err != nil {
			return s, fmt.Errorf("activation[%d]: %w", i, err)
		}
		v, err := engine.ParseVariant(a.Variant)
		if err != nil {
			return s, fmt.Errorf("activation[%d]: %w", i, err)
		}
		name := a.Name
		if name == "" {
			name = v.String()
		}
		s.Activations = append(s.Activations, engine.Activation{Name: name, Shortcut: sc, Variant: v})
	}

	var err error
	if s.ForceReset, err = event.ParseShortcut(c.ForceReset); err != nil {
		return s, fmt.Errorf("force_reset: %w", err)
	}
	if s.OpenSettings, err = event.ParseShortcut(c.OpenSettings); err != nil {
		return s, fmt.Errorf("open_settings: %w", err)
	}
	if s.Reactivate, err = engine.ParseReactivatePolicy(c.Reactivate); err != nil {
		return s, err
	}

	if c.Sequence.StickyModifier != "" {
		m, ok := event.ParseModifier(c.Sequence.StickyModifier)
		if !ok {
			return s, fmt.Errorf("sequence.sticky_modifier: unknown modifier %q", c.Sequence.StickyModifier)
		}
		s.StickyModifier = m
	}
	s.ResetOnModifierRelease = c.Sequence.ResetOnModifierRelease

	s.ForcedLayout = c.Layout.Forced
	if len(c.Layout.Table) > 0 {
		s.LayoutTable = make(map[uint16]string, len(c.Layout.Table))
		for k, v := range c.Layout.Table {
			code, err := strconv.ParseUint(k, 10, 16)
			if err != nil {
				return s, fmt.Errorf("layout.table: key %q: %w", k, err)
			}
			s.LayoutTable[uint16(code)] = v
		}
	}
	return s, nil
}

// HealthConfig converts the health section.
func (c *Config) HealthConfig() health.Config {
	c.mu.RLock()
	defer c.mu.RUnlock()

	h := c.Health
	return health.Config{
		BaseInterval:        ms(h.BaseIntervalMs),
		CriticalInterval:    ms(h.CriticalIntervalMs),
		ActiveInterval:      ms(h.ActiveIntervalMs),
		LowPowerInterval:    ms(h.LowPowerIntervalMs),
		IdleAfter:           sec(h.IdleAfterSec),
		ConsistencyInterval: sec(h.ConsistencyIntervalSec),
		WatchdogInterval:    sec(h.WatchdogIntervalSec),
		InactivityLimit:     sec(h.InactivitySec),
		Tiers: health.MemoryTiers{
			Proactive:  uint64(h.ProactiveMB) << 20,
			Aggressive: uint64(h.AggressiveMB) << 20,
			Emergency:  uint64(h.EmergencyMB) << 20,
		},
	}
}

// LoggingConfig converts the logging section.
func (c *Config) LoggingConfig() (*logging.Config, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	level, err := logging.ParseLevel(c.Logging.Level)
	if err != nil {
		return nil, err
	}
	format, err := logging.ParseFormat(c.Logging.Format)
	if err != nil {
		return nil, err
	}
	lc := logging.DefaultConfig()
	lc.Level = level
	lc.Format = format
	lc.Output = c.Logging.Output
	if c.Logging.FilePath != "" {
		lc.FilePath = c.Logging.FilePath
	}
	lc.MaxSize = int64(c.Logging.MaxSizeMB)
	lc.MaxBackups = c.Logging.MaxBackups
	lc.MaxAge = c.Logging.MaxAgeDays
	lc.Compress = c.Logging.Compress
	return lc, nil
}

// QueueWait returns the consumer's bounded park time.
func (c *Config) QueueWait() time.Duration {
	return ms(c.Queue.WaitTimeoutMs)
}

// PromptInterval returns the accessibility prompt spacing.
func (c *Config) PromptInterval() time.Duration {
	return sec(c.Permission.PromptIntervalSec)
}

// TreeDebounce returns the action-tree reload debounce.
func (c *Config) TreeDebounce() time.Duration {
	return ms(c.Trees.DebounceMs)
}

// MetricsInterval returns the textfile refresh period.
func (c *Config) MetricsInterval() time.Duration {
	return sec(c.Metrics.IntervalSec)
}

func ms(v int) time.Duration  { return time.Duration(v) * time.Millisecond }
func sec(v int) time.Duration { return time.Duration(v) * time.Second }
