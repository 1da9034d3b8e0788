//go:build linux

package health

import "golang.org/x/sys/unix"

func samplePressure() Pressure {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return Pressure{}
	}
	unit := uint64(info.Unit)
	if unit == 0 {
		unit = 1
	}
	total := uint64(info.Totalram) * unit
	free := (uint64(info.Freeram) + uint64(info.Bufferram)) * unit
	if total == 0 {
		return Pressure{}
	}
	return Pressure{
		Critical: free*20 < total, // under 5% free
		LowPower: free*10 < total,
	}
}
