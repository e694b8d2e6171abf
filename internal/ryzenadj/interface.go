// Package ryzenadj drives per-core curve-optimizer offsets through the
// privileged ryzenadj executable. The process is the only supported way to
// touch the voltage registers, so every invocation is serialized and
// carries a bounded timeout.
package ryzenadj

import (
	"context"

	"codeberg.org/mutker/undervoltd/internal/curve"
)

// Applier issues voltage-offset commands for single cores and the
// whole-package zero reset used by every shutdown path.
type Applier interface {
	// Apply sets one core's offset. A non-zero exit, spawn failure or
	// timeout leaves the previous hardware state assumed unchanged.
	Apply(ctx context.Context, core int, value curve.Millivolt) error

	// ResetAll zeroes every given core in a single invocation.
	ResetAll(ctx context.Context, cores []int) error

	// Path reports the resolved executable path.
	Path() string
}
