package ryzenadj

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"codeberg.org/mutker/undervoltd/internal/curve"
	"codeberg.org/mutker/undervoltd/internal/errors"
	"codeberg.org/mutker/undervoltd/internal/logger"
)

// DefaultTimeout bounds a single invocation. It must stay well under the
// watchdog timeout so an ordinary stall is recovered locally first.
const DefaultTimeout = 2 * time.Second

type executor struct {
	path    string
	timeout time.Duration
	hw      *sync.Mutex
}

// Resolve locates the ryzenadj binary. Bare names go through $PATH;
// anything with a separator must exist as given.
func Resolve(path string) (string, error) {
	errFactory := errors.New()

	if strings.ContainsRune(path, os.PathSeparator) {
		if _, err := os.Stat(path); err != nil {
			return "", errFactory.Wrap(ErrBinaryNotFound, err)
		}

		return path, nil
	}

	resolved, err := exec.LookPath(path)
	if err != nil {
		return "", errFactory.Wrap(ErrBinaryNotFound, err)
	}

	return resolved, nil
}

// New creates an Applier invoking the executable at path. All invocations
// are serialized through hw, the gate shared with the fan controller.
func New(path string, timeout time.Duration, hw *sync.Mutex) Applier {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &executor{
		path:    path,
		timeout: timeout,
		hw:      hw,
	}
}

func (e *executor) Path() string {
	return e.path
}

func (e *executor) Apply(ctx context.Context, core int, value curve.Millivolt) error {
	return e.run(ctx, ErrApplyFailed, coperArg(core, value)...)
}

func (e *executor) ResetAll(ctx context.Context, cores []int) error {
	args := make([]string, 0, len(cores)*2)
	for _, core := range cores {
		args = append(args, coperArg(core, 0)...)
	}

	return e.run(ctx, ErrResetFailed, args...)
}

func (e *executor) run(ctx context.Context, code errors.ErrorCode, args ...string) error {
	errFactory := errors.New()

	e.hw.Lock()
	defer e.hw.Unlock()

	runCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	logger.Debug().Str("path", e.path).Strs("args", args).Msg("Invoking ryzenadj")

	cmd := exec.CommandContext(runCtx, e.path, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		if runCtx.Err() == context.DeadlineExceeded {
			return errFactory.Wrap(ErrApplyTimeout, err)
		}

		return errFactory.Wrap(code, fmt.Errorf("%w: %s", err, strings.TrimSpace(string(out))))
	}

	return nil
}

// coperArg builds the curve-optimizer argument pair for one core. ryzenadj
// takes the offset magnitude; sign is implied by the interface.
func coperArg(core int, value curve.Millivolt) []string {
	magnitude := int(value)
	if magnitude < 0 {
		magnitude = -magnitude
	}

	return []string{fmt.Sprintf("--set-coper-%d", core), strconv.Itoa(magnitude)}
}
