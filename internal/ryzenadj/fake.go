package ryzenadj

import (
	"context"
	"sync"

	"codeberg.org/mutker/undervoltd/internal/curve"
	"codeberg.org/mutker/undervoltd/internal/errors"
)

// AppliedValue records one Apply invocation observed by the fake.
type AppliedValue struct {
	Core  int
	Value curve.Millivolt
}

// FakeApplier is a test double recording invocations and injecting
// scripted failures. Safe for concurrent use.
type FakeApplier struct {
	mu sync.Mutex

	// Applied collects every successful Apply in order.
	Applied []AppliedValue

	// Resets collects the core sets passed to ResetAll.
	Resets [][]int

	// ApplyErr, if set, fails every Apply until cleared.
	ApplyErr error

	// FailFirst fails the first n Apply calls, then succeeds.
	FailFirst int

	// ResetErr, if set, fails ResetAll.
	ResetErr error

	applyCalls int
}

func NewFakeApplier() *FakeApplier {
	return &FakeApplier{}
}

func (f *FakeApplier) Path() string {
	return "fake-ryzenadj"
}

func (f *FakeApplier) Apply(_ context.Context, core int, value curve.Millivolt) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.applyCalls++

	if f.ApplyErr != nil {
		return f.ApplyErr
	}
	if f.applyCalls <= f.FailFirst {
		errFactory := errors.New()
		return errFactory.New(ErrApplyFailed)
	}

	f.Applied = append(f.Applied, AppliedValue{Core: core, Value: value})

	return nil
}

func (f *FakeApplier) ResetAll(_ context.Context, cores []int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	set := make([]int, len(cores))
	copy(set, cores)
	f.Resets = append(f.Resets, set)

	return f.ResetErr
}

// ApplyCalls reports the total number of Apply invocations, including
// failed ones.
func (f *FakeApplier) ApplyCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.applyCalls
}

// LastApplied returns the most recent value applied to core, or 0.
func (f *FakeApplier) LastApplied(core int) curve.Millivolt {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i := len(f.Applied) - 1; i >= 0; i-- {
		if f.Applied[i].Core == core {
			return f.Applied[i].Value
		}
	}

	return 0
}
