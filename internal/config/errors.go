package config

import "codeberg.org/mutker/undervoltd/internal/errors"

const (
	ErrUsage           = errors.ErrorCode("config_usage")
	ErrInvalidCore     = errors.ErrorCode("config_invalid_core")
	ErrDuplicateCore   = errors.ErrorCode("config_duplicate_core")
	ErrNoCores         = errors.ErrorCode("config_no_cores")
	ErrOffsetRange     = errors.ErrorCode("config_offset_range")
	ErrThresholdRange  = errors.ErrorCode("config_threshold_range")
	ErrInvalidPoint    = errors.ErrorCode("config_invalid_curve_point")
	ErrHysteresisRange = errors.ErrorCode("config_hysteresis_range")
	ErrStrategyFlags   = errors.ErrorCode("config_strategy_flag_mismatch")
	ErrInvalidFan      = errors.ErrorCode("config_invalid_fan")
)
