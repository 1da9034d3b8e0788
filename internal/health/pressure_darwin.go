//go:build darwin

package health

import "golang.org/x/sys/unix"

// Values of kern.memorystatus_vm_pressure_level.
const (
	vmPressureWarn     = 2
	vmPressureCritical = 4
)

// thermalCritical is the xcpm level at which the CPU is being throttled.
const thermalCritical = 2

func samplePressure() Pressure {
	var p Pressure
	if level, err := unix.SysctlUint32("kern.memorystatus_vm_pressure_level"); err == nil {
		p.Critical = level >= vmPressureCritical
		p.LowPower = level == vmPressureWarn
	}
	// Not present on Apple silicon.
	if level, err := unix.SysctlUint32("machdep.xcpm.cpu_thermal_level"); err == nil && level >= thermalCritical {
		p.Critical = true
	}
	return p
}
