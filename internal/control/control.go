// Package control runs the per-tick undervolt pipeline: sample core load,
// evaluate each core's curve, filter the result through hysteresis, ramp
// the applied value toward the committed target and push changes to the
// hardware applier. The engine owns all mutable per-core state; hardware
// access and status output are injected so ticks stay deterministic.
package control

import (
	"context"
	"fmt"
	"time"

	"codeberg.org/mutker/undervoltd/internal/cpu"
	"codeberg.org/mutker/undervoltd/internal/curve"
	"codeberg.org/mutker/undervoltd/internal/errors"
	"codeberg.org/mutker/undervoltd/internal/logger"
	"codeberg.org/mutker/undervoltd/internal/ryzenadj"
	"codeberg.org/mutker/undervoltd/internal/status"
	"codeberg.org/mutker/undervoltd/internal/watchdog"
)

// Snapshot is the per-status observation handed to the observe hook when a
// status record is written. Collectors persist it; the engine never does.
type Snapshot struct {
	Load     []float64
	Applied  []int
	Strategy string
	Fan      *status.FanStatus
}

// CoreState tracks one core's position in the pipeline. Current is what the
// hardware last acknowledged, Target is the active ramp destination and
// LastCommitted is the hysteresis baseline. rampFrom remembers where the
// current ramp started so transition progress can be derived.
type CoreState struct {
	Current       curve.Millivolt
	Target        curve.Millivolt
	LastCommitted curve.Millivolt

	rampFrom curve.Millivolt
}

// Config carries the resolved tuning for an engine. Curves must hold one
// entry per managed core, in the order load vectors are sampled.
type Config struct {
	Curves           []curve.CoreCurve
	Strategy         curve.Kind
	SampleInterval   time.Duration
	RampMS           int
	HysteresisBand   float64
	MaxApplyFailures int
}

type Engine struct {
	cfg      Config
	sampler  cpu.Sampler
	applier  ryzenadj.Applier
	reporter *status.Reporter
	hb       *watchdog.Heartbeat
	hys      Hysteresis

	// ForceAbort is polled at the start of every tick. When it reports
	// true the engine stops immediately so a watchdog-driven reset is not
	// raced by further hardware writes.
	ForceAbort func() bool

	// FanState supplies the fan section of status records, nil when fan
	// control is not active.
	FanState func() *status.FanStatus

	// Observe is invoked after each written status record.
	Observe func(Snapshot)

	states   []CoreState
	failures []int
	lastLoad []float64
}

func New(
	cfg Config,
	sampler cpu.Sampler,
	applier ryzenadj.Applier,
	reporter *status.Reporter,
	hb *watchdog.Heartbeat,
) *Engine {
	return &Engine{
		cfg:      cfg,
		sampler:  sampler,
		applier:  applier,
		reporter: reporter,
		hb:       hb,
		hys:      NewHysteresis(cfg.HysteresisBand),
		states:   make([]CoreState, len(cfg.Curves)),
		failures: make([]int, len(cfg.Curves)),
	}
}

// Run ticks the pipeline at the configured sample interval until ctx is
// cancelled or a tick fails fatally.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.SampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := e.Tick(ctx); err != nil {
				return err
			}
		}
	}
}

// Tick executes one pipeline pass. Recoverable failures are reported and
// absorbed; a returned error means the engine must stop.
func (e *Engine) Tick(ctx context.Context) error {
	errFactory := errors.New()

	if e.ForceAbort != nil && e.ForceAbort() {
		return errFactory.New(ErrForceReset)
	}

	load := e.sampleLoad()

	if e.commitTargets(load) {
		if err := e.reporter.Transition(e.currentValues(), e.targetValues(), e.rampProgress()); err != nil {
			logger.Debug().Err(err).Msg("Transition record write failed")
		}
	}

	if err := e.applyChanges(ctx); err != nil {
		return err
	}

	e.emitStatus(load)
	e.hb.Beat()

	return nil
}

// Cores lists the managed core indices in pipeline order.
func (e *Engine) Cores() []int {
	cores := make([]int, len(e.cfg.Curves))
	for i, c := range e.cfg.Curves {
		cores[i] = c.Core
	}

	return cores
}

// Values reports the currently applied value per core.
func (e *Engine) Values() []curve.Millivolt {
	values := make([]curve.Millivolt, len(e.states))
	for i := range e.states {
		values[i] = e.states[i].Current
	}

	return values
}

// sampleLoad fetches a fresh load vector, falling back to the previous one
// when the source fails. Before any successful sample all cores read zero.
func (e *Engine) sampleLoad() []float64 {
	load, err := e.sampler.Sample()
	if err != nil {
		logger.Warn().Err(err).Msg("Load sample failed, reusing previous vector")
		e.reportError(err)

		load = e.lastLoad
	} else {
		e.lastLoad = load
	}

	padded := make([]float64, len(e.states))
	copy(padded, load)

	return padded
}

// commitTargets evaluates every curve and commits targets that clear the
// hysteresis band. It reports whether any target changed this tick.
func (e *Engine) commitTargets(load []float64) bool {
	changed := false

	for i := range e.states {
		st := &e.states[i]

		raw := e.cfg.Curves[i].Clamp(e.cfg.Curves[i].Target(load[i]))
		if raw == st.Target {
			continue
		}

		if !e.hys.ShouldCommit(raw, st.LastCommitted) {
			continue
		}

		st.Target = raw
		st.LastCommitted = raw
		st.rampFrom = st.Current
		changed = true
	}

	return changed
}

// applyChanges ramps every core toward its target and pushes the changed
// values to hardware. A failed apply leaves the tracked value untouched so
// the same movement is retried next tick; cores failing more than the
// configured limit in a row make the tick fatal.
func (e *Engine) applyChanges(ctx context.Context) error {
	errFactory := errors.New()

	for i := range e.states {
		st := &e.states[i]
		if st.Current == st.Target {
			continue
		}

		step := RampStep(st.Current, st.Target, int(e.cfg.SampleInterval.Milliseconds()), e.cfg.RampMS)
		next := boundTransit(advance(st.Current, st.Target, step), e.cfg.Curves[i])

		core := e.cfg.Curves[i].Core
		if err := e.applier.Apply(ctx, core, next); err != nil {
			e.failures[i]++
			logger.Warn().
				Err(err).
				Int("core", core).
				Int("consecutive_failures", e.failures[i]).
				Msg("Apply failed")
			e.reportError(err)

			if e.failures[i] > e.cfg.MaxApplyFailures {
				fatal := errFactory.Wrap(ryzenadj.ErrTooManyFailures, err).
					WithMessage(fmt.Sprintf("core %d failed %d consecutive applies", core, e.failures[i]))
				e.reportError(fatal)

				return fatal
			}

			continue
		}

		st.Current = next
		e.failures[i] = 0
	}

	return nil
}

// emitStatus writes a status record when the reporter's cadence allows and
// feeds the observe hook with the same snapshot.
func (e *Engine) emitStatus(load []float64) {
	var fan *status.FanStatus
	if e.FanState != nil {
		fan = e.FanState()
	}

	written, err := e.reporter.StatusIfDue(load, e.currentValues(), fan)
	if err != nil {
		logger.Warn().Err(err).Msg("Status write failed")
	}

	if written && e.Observe != nil {
		e.Observe(Snapshot{
			Load:     load,
			Applied:  e.currentValues(),
			Strategy: string(e.cfg.Strategy),
			Fan:      fan,
		})
	}
}

func (e *Engine) reportError(err error) {
	if werr := e.reporter.Error(err); werr != nil {
		logger.Debug().Err(werr).Msg("Error record write failed")
	}
}

func (e *Engine) currentValues() []int {
	values := make([]int, len(e.states))
	for i := range e.states {
		values[i] = int(e.states[i].Current)
	}

	return values
}

func (e *Engine) targetValues() []int {
	values := make([]int, len(e.states))
	for i := range e.states {
		values[i] = int(e.states[i].Target)
	}

	return values
}

// rampProgress reports how much of the distance between the ramp origins
// and the committed targets has been covered, in [0, 1].
func (e *Engine) rampProgress() float64 {
	var total, covered float64

	for i := range e.states {
		st := &e.states[i]

		span := absMV(st.Target - st.rampFrom)
		total += span
		covered += span - absMV(st.Target-st.Current)
	}

	if total == 0 {
		return 1
	}

	return covered / total
}

// boundTransit keeps an in-flight value inside the widest range a ramp can
// legitimately traverse: from the reset value 0 down to the curve's most
// aggressive offset. Steady-state values additionally sit inside the curve
// envelope because targets are clamped before commit.
func boundTransit(v curve.Millivolt, c curve.CoreCurve) curve.Millivolt {
	lo, _ := c.Envelope()
	if v < lo {
		return lo
	}

	if v > 0 {
		return 0
	}

	return v
}

func absMV(v curve.Millivolt) float64 {
	if v < 0 {
		return float64(-v)
	}

	return float64(v)
}
