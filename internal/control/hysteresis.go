package control

import "codeberg.org/mutker/undervoltd/internal/curve"

// Hysteresis is the anti-oscillation dead-band. The band is measured in
// millivolts against the last committed target, so small load wobbles
// straddling a curve threshold cannot flip the target back and forth.
type Hysteresis struct {
	band float64
}

func NewHysteresis(band float64) Hysteresis {
	return Hysteresis{band: band}
}

// ShouldCommit reports whether raw has moved far enough from the last
// committed target to become the new target.
func (h Hysteresis) ShouldCommit(raw, lastCommitted curve.Millivolt) bool {
	diff := float64(raw - lastCommitted)
	if diff < 0 {
		diff = -diff
	}

	return diff >= h.band
}
