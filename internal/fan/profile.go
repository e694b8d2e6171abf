package fan

import "codeberg.org/mutker/undervoltd/internal/errors"

// Profile names a preset acoustic curve usable in place of explicit
// curve points.
type Profile string

const (
	ProfileSilent     Profile = "silent"
	ProfileBalanced   Profile = "balanced"
	ProfileMaxCooling Profile = "max-cooling"
)

var profileCurves = map[Profile][]CurvePoint{
	ProfileSilent: {
		{TempC: 40, Duty: 0},
		{TempC: 60, Duty: 20},
		{TempC: 75, Duty: 40},
		{TempC: 85, Duty: 60},
		{TempC: 90, Duty: 100},
	},
	ProfileBalanced: {
		{TempC: 30, Duty: 30},
		{TempC: 50, Duty: 50},
		{TempC: 70, Duty: 90},
		{TempC: 80, Duty: 100},
	},
	ProfileMaxCooling: {
		{TempC: 40, Duty: 50},
		{TempC: 60, Duty: 100},
	},
}

// ParseProfile validates a profile name.
func ParseProfile(s string) (Profile, error) {
	p := Profile(s)
	if _, ok := profileCurves[p]; !ok {
		errFactory := errors.New()
		return "", errFactory.WithData(ErrUnknownProfile, s)
	}

	return p, nil
}

// Curve returns the preset curve for the profile.
func (p Profile) Curve() Curve {
	points, ok := profileCurves[p]
	if !ok {
		return Curve{}
	}

	c, err := NewCurve(points)
	if err != nil {
		return Curve{}
	}

	return c
}
