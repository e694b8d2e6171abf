package cpu

import "codeberg.org/mutker/undervoltd/internal/errors"

const (
	ErrSampleRead  = errors.ErrorCode("cpu_sample_read_failed")
	ErrSampleParse = errors.ErrorCode("cpu_sample_parse_failed")
	ErrCoreMissing = errors.ErrorCode("cpu_core_not_present")
)
