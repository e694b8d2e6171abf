// Package watchdog bounds the damage of a stalled control loop. It shares
// exactly two words with the hot path, an atomic heartbeat timestamp and
// an atomic force-reset flag, so the loop never takes a lock for liveness
// accounting.
package watchdog

import (
	"context"
	"os"
	"sync/atomic"
	"time"

	"codeberg.org/mutker/undervoltd/internal/errors"
	"codeberg.org/mutker/undervoltd/internal/logger"
)

const (
	DefaultTimeout = 10 * time.Second

	checkInterval = time.Second
	resetGrace    = 5 * time.Second
)

const ErrTimedOut = errors.ErrorCode("watchdog_timeout")

// Heartbeat is the loop-liveness timestamp. The control loop beats at the
// end of every tick; the watchdog only reads.
type Heartbeat struct {
	last atomic.Int64
}

func NewHeartbeat() *Heartbeat {
	hb := &Heartbeat{}
	hb.Beat()

	return hb
}

func (h *Heartbeat) Beat() {
	h.last.Store(time.Now().UnixMilli())
}

func (h *Heartbeat) Last() time.Time {
	return time.UnixMilli(h.last.Load())
}

// ResetFunc zeroes every core through the serialized hardware path.
type ResetFunc func(ctx context.Context) error

// Watchdog supervises the heartbeat from its own goroutine and forces a
// safe reset plus process exit when the loop goes quiet. The main loop may
// be blocked inside a hung subprocess call, so the watchdog never waits on
// it; per-call timeouts keep the hardware gate's hold times bounded.
type Watchdog struct {
	hb      *Heartbeat
	timeout time.Duration
	reset   ResetFunc

	forceReset atomic.Bool

	// Notify, when set, is called with the timeout error before the
	// reset is attempted.
	Notify func(error)

	// Exit terminates the process; replaced in tests.
	Exit func(code int)

	// ExitCode reported through Exit when the watchdog fires.
	ExitCode int
}

func New(hb *Heartbeat, timeout time.Duration, reset ResetFunc) *Watchdog {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Watchdog{
		hb:      hb,
		timeout: timeout,
		reset:   reset,
		Exit:    os.Exit,
	}
}

// Stale reports whether the heartbeat has been quiet strictly longer than
// the timeout.
func Stale(last, now time.Time, timeout time.Duration) bool {
	return now.Sub(last) > timeout
}

// ForceResetRequested reports whether the watchdog has begun forcing a
// reset. The control loop checks it at tick start and aborts instead of
// racing the reset.
func (w *Watchdog) ForceResetRequested() bool {
	return w.forceReset.Load()
}

// Run blocks until the context is canceled or the watchdog fires.
func (w *Watchdog) Run(ctx context.Context) {
	ticker := time.NewTicker(checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if !Stale(w.hb.Last(), now, w.timeout) {
				continue
			}
			w.fire(now)

			return
		}
	}
}

func (w *Watchdog) fire(now time.Time) {
	errFactory := errors.New()
	err := errFactory.WithData(ErrTimedOut, map[string]any{
		"last_heartbeat": w.hb.Last().Format(time.RFC3339),
		"timeout_ms":     w.timeout.Milliseconds(),
	})

	logger.ErrorWithCode(err).Time("checked_at", now).Msg("Control loop heartbeat stale, forcing reset")

	w.forceReset.Store(true)

	if w.Notify != nil {
		w.Notify(err)
	}

	resetCtx, cancel := context.WithTimeout(context.Background(), resetGrace)
	defer cancel()
	if resetErr := w.reset(resetCtx); resetErr != nil {
		logger.Error().Err(resetErr).Msg("Forced reset failed")
	}

	w.Exit(w.exitCode())
}

func (w *Watchdog) exitCode() int {
	if w.ExitCode != 0 {
		return w.ExitCode
	}

	return 1
}
