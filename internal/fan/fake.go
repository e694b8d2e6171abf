package fan

import "sync"

// FakeDevice is a scriptable in-memory Device for tests.
type FakeDevice struct {
	mu sync.Mutex

	// Temp is the temperature returned by TempC.
	Temp int

	// TempErr, if set, fails TempC.
	TempErr error

	// PWMErr, if set, fails SetPWM.
	PWMErr error

	// ModeErr, if set, fails SetMode.
	ModeErr error

	// Rpm is reported by RPM when HasRPM is true.
	Rpm    int
	HasRPM bool

	// PWMWrites records every successful SetPWM value in order.
	PWMWrites []int

	// ModeWrites records every successful SetMode value in order.
	ModeWrites []int

	pwm      int
	mode     int
	released bool
}

func NewFakeDevice() *FakeDevice {
	return &FakeDevice{mode: ControlFirmware}
}

func (f *FakeDevice) Name() string {
	return "fake-hwmon"
}

func (f *FakeDevice) TempC() (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.TempErr != nil {
		return 0, f.TempErr
	}

	return f.Temp, nil
}

func (f *FakeDevice) SetTemp(tempC int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.Temp = tempC
}

func (f *FakeDevice) PWM() (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.pwm, nil
}

func (f *FakeDevice) SetPWM(pwm int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.PWMErr != nil {
		return f.PWMErr
	}

	f.pwm = pwm
	f.PWMWrites = append(f.PWMWrites, pwm)

	return nil
}

func (f *FakeDevice) SetMode(mode int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.ModeErr != nil {
		return f.ModeErr
	}

	f.mode = mode
	f.ModeWrites = append(f.ModeWrites, mode)

	return nil
}

func (f *FakeDevice) RPM() (int, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.HasRPM {
		return 0, false
	}

	return f.Rpm, true
}

func (f *FakeDevice) Release() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.mode == ControlManual {
		f.mode = ControlFirmware
	}
	f.released = true

	return nil
}

// Mode reports the current control mode.
func (f *FakeDevice) Mode() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.mode
}

// Released reports whether Release was called.
func (f *FakeDevice) Released() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.released
}

// LastPWM reports the most recent successful SetPWM value, or -1 when no
// write happened yet.
func (f *FakeDevice) LastPWM() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.PWMWrites) == 0 {
		return -1
	}

	return f.PWMWrites[len(f.PWMWrites)-1]
}
