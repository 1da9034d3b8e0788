package health

// Pressure is a snapshot of system conditions that change how often the
// capture probe runs.
type Pressure struct {
	// Critical is set under thermal or memory pressure severe enough that
	// the OS is likely to starve or disable event taps.
	Critical bool
	// LowPower is set when the system asks processes to back off.
	LowPower bool
}

// Sampler reads the current Pressure.
type Sampler interface {
	Sample() Pressure
}

// SamplerFunc adapts a function to Sampler.
type SamplerFunc func() Pressure

func (f SamplerFunc) Sample() Pressure { return f() }

// SystemSampler returns the platform sampler.
func SystemSampler() Sampler {
	return SamplerFunc(samplePressure)
}
