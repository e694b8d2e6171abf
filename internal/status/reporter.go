package status

import (
	"encoding/json"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"codeberg.org/mutker/undervoltd/internal/errors"
)

const ErrWriteFailed = errors.ErrorCode("status_write_failed")

// Reporter serializes records onto a single writer. Safe for concurrent
// use; every record is one Write call so lines never interleave.
type Reporter struct {
	mu       sync.Mutex
	w        io.Writer
	strategy string
	interval time.Duration
	start    time.Time
	last     time.Time
	force    atomic.Bool
}

// NewReporter creates a Reporter. interval throttles Status records;
// Transition and Error records are never throttled.
func NewReporter(w io.Writer, strategy string, interval time.Duration) *Reporter {
	return &Reporter{
		w:        w,
		strategy: strategy,
		interval: interval,
		start:    time.Now(),
	}
}

// UptimeMS reports milliseconds since the reporter was created.
func (r *Reporter) UptimeMS() int64 {
	return time.Since(r.start).Milliseconds()
}

// ForceNext makes the next StatusIfDue emission bypass throttling.
// Called from the signal path on SIGUSR1.
func (r *Reporter) ForceNext() {
	r.force.Store(true)
}

// StatusIfDue writes a Status record when the throttle interval has
// elapsed, a forced emission is pending, or nothing was written yet.
// Reports whether a record was written.
func (r *Reporter) StatusIfDue(load []float64, values []int, fan *FanStatus) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	due := r.last.IsZero() || now.Sub(r.last) >= r.interval
	if !due && !r.force.Load() {
		return false, nil
	}
	r.force.Store(false)
	r.last = now

	return true, r.write(statusRecord{
		Type:     typeStatus,
		Load:     load,
		Values:   values,
		Strategy: r.strategy,
		UptimeMS: time.Since(r.start).Milliseconds(),
		Fan:      fan,
	})
}

// Transition writes a ramp-target change record. Progress is clamped
// to [0,1].
func (r *Reporter) Transition(from, to []int, progress float64) error {
	if progress < 0 {
		progress = 0
	}
	if progress > 1 {
		progress = 1
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	return r.write(transitionRecord{
		Type:     typeTransition,
		From:     from,
		To:       to,
		Progress: progress,
	})
}

// Error writes an error record for a recoverable or fatal condition. The
// code field carries the domain error code.
func (r *Reporter) Error(err error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.write(errorRecord{
		Type:    typeError,
		Code:    string(errors.CodeOf(err)),
		Message: err.Error(),
	})
}

func (r *Reporter) write(record any) error {
	errFactory := errors.New()

	line, err := json.Marshal(record)
	if err != nil {
		return errFactory.Wrap(ErrWriteFailed, err)
	}
	line = append(line, '\n')

	if _, err := r.w.Write(line); err != nil {
		return errFactory.Wrap(ErrWriteFailed, err)
	}

	return nil
}
