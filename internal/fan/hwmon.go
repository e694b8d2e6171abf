package fan

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"codeberg.org/mutker/undervoltd/internal/errors"
)

const hwmonRoot = "/sys/class/hwmon"

// pwm1_enable values understood by the EC.
const (
	ControlManual   = 1
	ControlFirmware = 2
)

// deckDeviceNames are the hwmon names exposed by the supported EC
// generations (LCD and OLED models).
var deckDeviceNames = []string{"jupiter", "galileo"}

// Device is the hardware surface the controller drives. Implementations
// must tolerate repeated Release calls.
type Device interface {
	Name() string
	TempC() (int, error)
	PWM() (int, error)
	SetPWM(pwm int) error
	SetMode(mode int) error
	RPM() (int, bool)
	Release() error
}

// sysfsDevice drives one /sys/class/hwmon/hwmonN directory.
type sysfsDevice struct {
	dir         string
	name        string
	hasRPM      bool
	tookControl bool
}

// Open validates an hwmon directory and returns a device for it. The
// directory must expose pwm1, pwm1_enable and temp1_input.
func Open(dir string) (Device, error) {
	errFactory := errors.New()

	nameRaw, err := os.ReadFile(filepath.Join(dir, "name"))
	if err != nil {
		return nil, errFactory.Wrap(ErrDeviceNotFound, err)
	}

	for _, required := range []string{"pwm1", "pwm1_enable", "temp1_input"} {
		if _, err := os.Stat(filepath.Join(dir, required)); err != nil {
			return nil, errFactory.WithData(ErrDeviceUnsupported, dir+" lacks "+required)
		}
	}

	_, rpmErr := os.Stat(filepath.Join(dir, "fan1_input"))

	return &sysfsDevice{
		dir:    dir,
		name:   strings.TrimSpace(string(nameRaw)),
		hasRPM: rpmErr == nil,
	}, nil
}

// Discover locates the fan controller hwmon device by name.
func Discover() (Device, error) {
	return DiscoverIn(hwmonRoot, deckDeviceNames...)
}

// DiscoverIn scans an hwmon tree for a device carrying one of the given
// names. Unreadable or incomplete entries are skipped.
func DiscoverIn(base string, names ...string) (Device, error) {
	errFactory := errors.New()

	entries, err := os.ReadDir(base)
	if err != nil {
		return nil, errFactory.Wrap(ErrDeviceNotFound, err)
	}

	for _, entry := range entries {
		if !strings.HasPrefix(entry.Name(), "hwmon") {
			continue
		}

		dev, err := Open(filepath.Join(base, entry.Name()))
		if err != nil {
			continue
		}

		for _, want := range names {
			if dev.Name() == want {
				return dev, nil
			}
		}
	}

	return nil, errFactory.WithData(ErrDeviceNotFound, strings.Join(names, ", "))
}

func (d *sysfsDevice) Name() string {
	return d.name
}

// TempC reads temp1_input, converting from millidegrees.
func (d *sysfsDevice) TempC() (int, error) {
	raw, err := d.readInt("temp1_input")
	if err != nil {
		return 0, err
	}

	return raw / 1000, nil
}

func (d *sysfsDevice) PWM() (int, error) {
	pwm, err := d.readInt("pwm1")
	if err != nil {
		return 0, err
	}

	if pwm > 255 {
		pwm = 255
	}

	return pwm, nil
}

func (d *sysfsDevice) SetPWM(pwm int) error {
	return d.writeInt("pwm1", pwm)
}

func (d *sysfsDevice) SetMode(mode int) error {
	if err := d.writeInt("pwm1_enable", mode); err != nil {
		return err
	}

	if mode == ControlManual {
		d.tookControl = true
	}

	return nil
}

// RPM reads fan1_input when present. The second return is false when the
// node does not exist on this device.
func (d *sysfsDevice) RPM() (int, bool) {
	if !d.hasRPM {
		return 0, false
	}

	rpm, err := d.readInt("fan1_input")
	if err != nil {
		return 0, false
	}

	return rpm, true
}

// Release hands fan control back to the firmware if we ever took it.
func (d *sysfsDevice) Release() error {
	if !d.tookControl {
		return nil
	}

	if err := d.writeInt("pwm1_enable", ControlFirmware); err != nil {
		return err
	}

	d.tookControl = false

	return nil
}

func (d *sysfsDevice) readInt(file string) (int, error) {
	errFactory := errors.New()

	raw, err := os.ReadFile(filepath.Join(d.dir, file))
	if err != nil {
		return 0, errFactory.Wrap(ErrReadFailed, err)
	}

	value, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		return 0, errFactory.Wrap(ErrReadFailed, err).WithData(file)
	}

	return value, nil
}

func (d *sysfsDevice) writeInt(file string, value int) error {
	if err := os.WriteFile(filepath.Join(d.dir, file), []byte(strconv.Itoa(value)), 0o644); err != nil {
		errFactory := errors.New()
		return errFactory.Wrap(ErrWriteFailed, err).WithData(file)
	}

	return nil
}
