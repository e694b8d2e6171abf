package cpu

// FakeSampler is a test double returning scripted utilization vectors.
// Each Sample call consumes the next vector; when the script is exhausted
// the last vector repeats.
type FakeSampler struct {
	Vectors [][]float64

	// SampleErr, if set, is returned by every Sample call until cleared.
	SampleErr error

	// ProbeErr, if set, is returned by Probe.
	ProbeErr error

	// Calls counts Sample invocations, including failed ones.
	Calls int

	index int
}

// NewFakeSampler creates a FakeSampler with the given script.
func NewFakeSampler(vectors ...[]float64) *FakeSampler {
	return &FakeSampler{Vectors: vectors}
}

func (f *FakeSampler) Probe() error {
	return f.ProbeErr
}

func (f *FakeSampler) Sample() ([]float64, error) {
	f.Calls++

	if f.SampleErr != nil {
		return nil, f.SampleErr
	}
	if len(f.Vectors) == 0 {
		return nil, nil
	}

	v := f.Vectors[f.index]
	if f.index < len(f.Vectors)-1 {
		f.index++
	}

	out := make([]float64, len(v))
	copy(out, v)

	return out, nil
}
