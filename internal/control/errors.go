package control

import "codeberg.org/mutker/undervoltd/internal/errors"

const ErrForceReset errors.ErrorCode = "control_force_reset"
