package curve

import "codeberg.org/mutker/undervoltd/internal/errors"

// Kind selects how fast applied values chase their targets. Every kind
// shares the same load-to-target mapping; they differ only in ramp time,
// except Custom, which additionally switches cores with manual points to
// piecewise interpolation.
type Kind string

const (
	Conservative Kind = "conservative"
	Balanced     Kind = "balanced"
	Aggressive   Kind = "aggressive"
	Custom       Kind = "custom"
)

// Default ramp time constants in milliseconds.
const (
	conservativeRampMS = 5000
	balancedRampMS     = 2000
	aggressiveRampMS   = 500
	customRampMS       = 2000
)

// ParseKind validates and normalizes a strategy name.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if !k.Valid() {
		errFactory := errors.New()
		return "", errFactory.WithData(ErrUnknownStrategy, s)
	}

	return k, nil
}

// Valid reports whether k names a known strategy.
func (k Kind) Valid() bool {
	switch k {
	case Conservative, Balanced, Aggressive, Custom:
		return true
	default:
		return false
	}
}

func (k Kind) String() string {
	return string(k)
}

// DefaultRampMS returns the ramp time constant bound to the strategy.
// Custom's value is a baseline the configuration may override.
func (k Kind) DefaultRampMS() int {
	switch k {
	case Conservative:
		return conservativeRampMS
	case Aggressive:
		return aggressiveRampMS
	case Custom:
		return customRampMS
	default:
		return balancedRampMS
	}
}
