package health

import (
	"runtime"
	"runtime/debug"
)

// Tier is the memory cleanup level.
type Tier int

const (
	TierNone Tier = iota
	TierProactive
	TierAggressive
	TierEmergency
)

func (t Tier) String() string {
	switch t {
	case TierProactive:
		return "proactive"
	case TierAggressive:
		return "aggressive"
	case TierEmergency:
		return "emergency"
	default:
		return "normal"
	}
}

// MemoryTiers are the footprint thresholds, in bytes, at which each cleanup
// tier starts.
type MemoryTiers struct {
	Proactive  uint64
	Aggressive uint64
	Emergency  uint64
}

// DefaultMemoryTiers returns the 50/75/100 MB thresholds.
func DefaultMemoryTiers() MemoryTiers {
	return MemoryTiers{
		Proactive:  50 << 20,
		Aggressive: 75 << 20,
		Emergency:  100 << 20,
	}
}

// Classify returns the tier for a footprint. A zero threshold never fires.
func (m MemoryTiers) Classify(bytes uint64) Tier {
	switch {
	case m.Emergency > 0 && bytes >= m.Emergency:
		return TierEmergency
	case m.Aggressive > 0 && bytes >= m.Aggressive:
		return TierAggressive
	case m.Proactive > 0 && bytes >= m.Proactive:
		return TierProactive
	}
	return TierNone
}

// releaseMemory performs the runtime side of a cleanup tier. Cache
// invalidation is left to the caller's hook.
func releaseMemory(t Tier) {
	switch t {
	case TierProactive, TierAggressive:
		runtime.GC()
	case TierEmergency:
		debug.FreeOSMemory()
	}
}
