package fan

import (
	"context"
	"sync"
	"time"

	"codeberg.org/mutker/undervoltd/internal/errors"
	"codeberg.org/mutker/undervoltd/internal/logger"
	"codeberg.org/mutker/undervoltd/internal/status"
)

// Mode selects how the controller treats the fan.
type Mode string

const (
	// ModeDefault leaves the firmware in charge; the loop only reads the
	// temperature for status and telemetry.
	ModeDefault Mode = "default"

	// ModeCustom drives the fan from the configured curve.
	ModeCustom Mode = "custom"

	// ModeFixed holds one duty regardless of temperature.
	ModeFixed Mode = "fixed"
)

// ParseMode validates a fan mode name.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeDefault, ModeCustom, ModeFixed:
		return Mode(s), nil
	default:
		errFactory := errors.New()
		return "", errFactory.WithData(ErrUnknownMode, s)
	}
}

// Safety thresholds in °C. These bind harder than any configuration.
const (
	criticalTempC   = 90
	highTempC       = 85
	zeroRPMMaxTempC = 45
)

const (
	// minSpinDuty keeps the rotor barely moving when duty 0 is not safe.
	minSpinDuty = 12

	// minPWMChange suppresses sysfs writes for changes below ~1%.
	minPWMChange = 3

	historySize = 5

	DefaultInterval   = 500 * time.Millisecond
	DefaultHysteresis = 2
)

// Config is the resolved fan tuning.
type Config struct {
	Mode        Mode
	Curve       Curve
	FixedDuty   int
	HysteresisC int
	ZeroRPM     bool
	Interval    time.Duration
}

// Controller owns the fan update cycle. Hardware access goes through the
// shared mutex so PWM writes never interleave with voltage applies.
type Controller struct {
	cfg      Config
	dev      Device
	hw       *sync.Mutex
	reporter *status.Reporter

	mu       sync.Mutex
	history  []int
	stable   int
	decided  bool
	lastDuty int
	lastPWM  int
	wrote    bool
	state    *status.FanStatus
}

// NewController wires a controller to a device. reporter may be nil when
// no status stream is attached.
func NewController(cfg Config, dev Device, hw *sync.Mutex, reporter *status.Reporter) *Controller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.HysteresisC <= 0 {
		cfg.HysteresisC = DefaultHysteresis
	}

	return &Controller{
		cfg:      cfg,
		dev:      dev,
		hw:       hw,
		reporter: reporter,
	}
}

// Start takes manual control of the fan for the driving modes. Default
// mode touches nothing.
func (c *Controller) Start() error {
	if c.cfg.Mode == ModeDefault {
		return nil
	}

	c.hw.Lock()
	defer c.hw.Unlock()

	return c.dev.SetMode(ControlManual)
}

// Run updates the fan on its own cadence until ctx is cancelled, then
// releases control back to the firmware.
func (c *Controller) Run(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Update()
		}
	}
}

// Update executes one control cycle: read the temperature, smooth it,
// hold it through hysteresis, map it to a duty and write the PWM when the
// change is worth a sysfs write. All device I/O failures are recoverable.
func (c *Controller) Update() {
	c.hw.Lock()
	defer c.hw.Unlock()

	raw, err := c.dev.TempC()
	if err != nil {
		c.reportError(err)

		return
	}

	if c.cfg.Mode == ModeDefault {
		c.observeOnly(raw)

		return
	}

	c.mu.Lock()
	effective := c.stableTemp(raw)

	duty := c.cfg.FixedDuty
	if c.cfg.Mode == ModeCustom {
		duty = c.cfg.Curve.DutyAt(effective)
	}

	duty, overrideActive := c.applySafety(duty, raw)
	pwm := DutyToPWM(duty)

	write := !c.wrote || overrideActive || pwm == 0 || pwm == 255 || diff(pwm, c.lastPWM) >= minPWMChange
	c.mu.Unlock()

	if write {
		if err := c.dev.SetPWM(pwm); err != nil {
			c.reportError(err)
			c.snapshot(raw, overrideActive)

			return
		}

		c.mu.Lock()
		c.lastDuty = duty
		c.lastPWM = pwm
		c.wrote = true
		c.mu.Unlock()
	}

	c.snapshot(raw, overrideActive)
}

// State returns the latest observed fan state, nil before the first
// completed update.
func (c *Controller) State() *status.FanStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == nil {
		return nil
	}

	copied := *c.state

	return &copied
}

// Release returns fan control to the firmware.
func (c *Controller) Release() error {
	c.hw.Lock()
	defer c.hw.Unlock()

	return c.dev.Release()
}

// stableTemp feeds the moving average and applies the °C hysteresis band.
// Callers must hold c.mu.
func (c *Controller) stableTemp(raw int) int {
	c.history = append(c.history, raw)
	if len(c.history) > historySize {
		c.history = c.history[len(c.history)-historySize:]
	}

	sum := 0
	for _, t := range c.history {
		sum += t
	}
	avg := sum / len(c.history)

	if !c.decided || diff(avg, c.stable) > c.cfg.HysteresisC {
		c.stable = avg
		c.decided = true
	}

	return c.stable
}

// applySafety enforces the thermal overrides on the raw temperature, after
// curve and hysteresis logic. Spin floor enforcement is not flagged as an
// override since it only guards the zero-RPM case.
func (c *Controller) applySafety(duty, rawTemp int) (int, bool) {
	switch {
	case rawTemp >= criticalTempC:
		return 100, true
	case rawTemp >= highTempC:
		if duty < 80 {
			duty = 80
		}

		return duty, true
	case duty == 0 && !(c.cfg.ZeroRPM && rawTemp < zeroRPMMaxTempC):
		return minSpinDuty, false
	default:
		return duty, false
	}
}

// observeOnly refreshes the state snapshot without commanding anything.
func (c *Controller) observeOnly(raw int) {
	pwm, err := c.dev.PWM()
	if err != nil {
		c.reportError(err)

		return
	}

	rpm, _ := c.dev.RPM()

	c.mu.Lock()
	c.state = &status.FanStatus{
		TempC:       raw,
		DutyPercent: PWMToDuty(pwm),
		PWM:         pwm,
		Mode:        string(c.cfg.Mode),
		RPM:         rpm,
	}
	c.mu.Unlock()
}

func (c *Controller) snapshot(raw int, overrideActive bool) {
	rpm, _ := c.dev.RPM()

	c.mu.Lock()
	c.state = &status.FanStatus{
		TempC:          raw,
		DutyPercent:    c.lastDuty,
		PWM:            c.lastPWM,
		Mode:           string(c.cfg.Mode),
		RPM:            rpm,
		SafetyOverride: overrideActive,
	}
	c.mu.Unlock()
}

func (c *Controller) reportError(err error) {
	logger.Warn().Err(err).Msg("Fan update failed")

	if c.reporter == nil {
		return
	}

	if werr := c.reporter.Error(err); werr != nil {
		logger.Debug().Err(werr).Msg("Error record write failed")
	}
}

func diff(a, b int) int {
	if a > b {
		return a - b
	}

	return b - a
}
