package fan

import "codeberg.org/mutker/undervoltd/internal/errors"

const (
	ErrDeviceNotFound    errors.ErrorCode = "fan_device_not_found"
	ErrDeviceUnsupported errors.ErrorCode = "fan_device_unsupported"
	ErrReadFailed        errors.ErrorCode = "fan_read_failed"
	ErrWriteFailed       errors.ErrorCode = "fan_write_failed"
	ErrInvalidCurve      errors.ErrorCode = "fan_invalid_curve"
	ErrUnknownMode       errors.ErrorCode = "fan_unknown_mode"
	ErrUnknownProfile    errors.ErrorCode = "fan_unknown_profile"
)
