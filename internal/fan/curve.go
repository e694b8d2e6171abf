// Package fan drives the hwmon PWM fan of handheld AMD devices from a
// temperature curve with hysteresis and hard safety overrides. It runs
// beside the voltage control loop and shares its hardware serialization.
package fan

import (
	"fmt"
	"sort"

	"codeberg.org/mutker/undervoltd/internal/errors"
)

// CurvePoint maps a temperature to a fan duty percentage.
type CurvePoint struct {
	TempC int
	Duty  int
}

// Curve is a validated temperature to duty mapping. Points are kept sorted
// by ascending temperature.
type Curve struct {
	points []CurvePoint
}

// NewCurve builds a curve from at least two points. Temperatures must be
// unique; duties must lie in [0, 100].
func NewCurve(points []CurvePoint) (Curve, error) {
	errFactory := errors.New()

	if len(points) < 2 {
		return Curve{}, errFactory.WithData(ErrInvalidCurve, "at least 2 points required")
	}

	sorted := make([]CurvePoint, len(points))
	copy(sorted, points)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].TempC < sorted[j].TempC })

	for i, p := range sorted {
		if p.Duty < 0 || p.Duty > 100 {
			return Curve{}, errFactory.WithData(ErrInvalidCurve,
				fmt.Sprintf("duty %d%% at %d C outside [0, 100]", p.Duty, p.TempC))
		}

		if i > 0 && p.TempC == sorted[i-1].TempC {
			return Curve{}, errFactory.WithData(ErrInvalidCurve,
				fmt.Sprintf("duplicate temperature %d C", p.TempC))
		}
	}

	return Curve{points: sorted}, nil
}

// Points returns the sorted curve points.
func (c Curve) Points() []CurvePoint {
	out := make([]CurvePoint, len(c.points))
	copy(out, c.points)

	return out
}

// DutyAt maps a temperature to a duty percentage: flat below the first
// point, flat above the last, linear between brackets.
func (c Curve) DutyAt(tempC int) int {
	if len(c.points) == 0 {
		return 0
	}

	first := c.points[0]
	if tempC <= first.TempC {
		return first.Duty
	}

	last := c.points[len(c.points)-1]
	if tempC >= last.TempC {
		return last.Duty
	}

	for i := 0; i < len(c.points)-1; i++ {
		p1, p2 := c.points[i], c.points[i+1]
		if tempC < p1.TempC || tempC > p2.TempC {
			continue
		}

		span := p2.TempC - p1.TempC

		return p1.Duty + (p2.Duty-p1.Duty)*(tempC-p1.TempC)/span
	}

	return last.Duty
}

// DutyToPWM converts a duty percentage to the 0-255 PWM scale hwmon uses.
func DutyToPWM(duty int) int {
	if duty < 0 {
		duty = 0
	}
	if duty > 100 {
		duty = 100
	}

	return duty * 255 / 100
}

// PWMToDuty converts a raw PWM value back to a duty percentage.
func PWMToDuty(pwm int) int {
	if pwm < 0 {
		pwm = 0
	}
	if pwm > 255 {
		pwm = 255
	}

	return pwm * 100 / 255
}
