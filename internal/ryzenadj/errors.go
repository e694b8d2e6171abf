package ryzenadj

import "codeberg.org/mutker/undervoltd/internal/errors"

const (
	ErrBinaryNotFound  = errors.ErrorCode("apply_binary_not_found")
	ErrApplyFailed     = errors.ErrorCode("apply_failed")
	ErrApplyTimeout    = errors.ErrorCode("apply_timeout")
	ErrResetFailed     = errors.ErrorCode("apply_reset_failed")
	ErrTooManyFailures = errors.ErrorCode("apply_failure_limit")
)
