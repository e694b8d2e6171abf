// Package cpu derives per-core utilization from the kernel's cumulative
// tick counters. The real implementation reads /proc/stat; the fake allows
// exercising the control loop without a kernel.
package cpu

// Sampler produces one utilization vector per control tick, ordered by
// the configured core list, each value in [0,100].
type Sampler interface {
	// Sample reads the counters and returns the utilization derived from
	// the delta against the previous call. The first call has no baseline
	// and reports zero for every core.
	Sample() ([]float64, error)

	// Probe verifies the load source is readable and that every
	// configured core is present, without disturbing sampling state.
	Probe() error
}
