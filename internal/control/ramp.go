package control

import (
	"math"

	"codeberg.org/mutker/undervoltd/internal/curve"
)

// RampStep sizes one tick's worth of movement toward the target. The step
// scales with the remaining distance so the whole transition spans roughly
// rampMS regardless of how far apart the values are, with a floor of 1 mV
// so progress never stalls.
func RampStep(current, target curve.Millivolt, intervalMS, rampMS int) curve.Millivolt {
	dist := target - current
	if dist < 0 {
		dist = -dist
	}

	if dist == 0 {
		return 0
	}

	if rampMS <= 0 {
		return dist
	}

	step := curve.Millivolt(math.Round(float64(dist) * float64(intervalMS) / float64(rampMS)))
	if step < 1 {
		step = 1
	}

	return step
}

// advance moves current toward target by at most step, never overshooting.
func advance(current, target, step curve.Millivolt) curve.Millivolt {
	switch {
	case current < target:
		next := current + step
		if next > target {
			return target
		}

		return next
	case current > target:
		next := current - step
		if next < target {
			return target
		}

		return next
	default:
		return current
	}
}
