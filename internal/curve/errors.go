package curve

import "codeberg.org/mutker/undervoltd/internal/errors"

const (
	ErrUnknownStrategy = errors.ErrorCode("curve_unknown_strategy")
	ErrInvalidPoint    = errors.ErrorCode("curve_invalid_point")
)
