// Package curve maps per-core CPU load to target voltage offsets. All
// functions are pure; the control loop owns every piece of mutable state.
package curve

import (
	"math"
	"sort"
)

// Millivolt is a voltage offset in mV. Undervolt offsets are zero or
// negative; more negative means more aggressive.
type Millivolt int

// Offsets outside this range are rejected at configuration time.
const (
	MinOffset Millivolt = -100
	MaxOffset Millivolt = 0
)

// Point is a single load-to-offset coordinate of a custom curve.
type Point struct {
	Load  float64
	Value Millivolt
}

// CoreCurve holds the immutable per-core curve parameters.
//
// Min is the aggressive offset applied at low load, Max the safer offset
// approached at full load. Min <= Max is not required; threshold marks the
// load percentage where the transition between them begins. Points, when
// at least two are present, replaces the threshold rule with a
// piecewise-linear curve (custom strategy).
type CoreCurve struct {
	Core      int
	Min       Millivolt
	Max       Millivolt
	Threshold float64
	Points    []Point
}

// Target computes the raw target offset for the given load percentage.
// Loads outside [0,100] are clamped first; the function is total for any
// valid curve.
func (c CoreCurve) Target(load float64) Millivolt {
	load = clampLoad(load)

	if len(c.Points) >= 2 {
		return interpolatePoints(c.Points, load)
	}

	if load <= c.Threshold {
		return c.Min
	}
	if load >= 100 {
		return c.Max
	}

	progress := (load - c.Threshold) / (100 - c.Threshold)

	return c.Min + Millivolt(math.Round(float64(c.Max-c.Min)*progress))
}

// Envelope returns the numeric bounds of every offset this curve can
// produce, low (most negative) first.
func (c CoreCurve) Envelope() (Millivolt, Millivolt) {
	if len(c.Points) >= 2 {
		lo, hi := c.Points[0].Value, c.Points[0].Value
		for _, p := range c.Points[1:] {
			if p.Value < lo {
				lo = p.Value
			}
			if p.Value > hi {
				hi = p.Value
			}
		}

		return lo, hi
	}

	if c.Min <= c.Max {
		return c.Min, c.Max
	}

	return c.Max, c.Min
}

// Clamp bounds v into the curve's envelope.
func (c CoreCurve) Clamp(v Millivolt) Millivolt {
	lo, hi := c.Envelope()
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}

	return v
}

// SortPoints orders points by ascending load.
func SortPoints(points []Point) {
	sort.Slice(points, func(i, j int) bool {
		return points[i].Load < points[j].Load
	})
}

func interpolatePoints(points []Point, load float64) Millivolt {
	if load <= points[0].Load {
		return points[0].Value
	}
	last := points[len(points)-1]
	if load >= last.Load {
		return last.Value
	}

	for i := 1; i < len(points); i++ {
		if load > points[i].Load {
			continue
		}
		prev := points[i-1]
		span := points[i].Load - prev.Load
		progress := (load - prev.Load) / span

		return prev.Value + Millivolt(math.Round(float64(points[i].Value-prev.Value)*progress))
	}

	return last.Value
}

func clampLoad(load float64) float64 {
	if load < 0 {
		return 0
	}
	if load > 100 {
		return 100
	}

	return load
}
