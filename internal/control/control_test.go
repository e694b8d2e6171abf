package control_test

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codeberg.org/mutker/undervoltd/internal/control"
	"codeberg.org/mutker/undervoltd/internal/cpu"
	"codeberg.org/mutker/undervoltd/internal/curve"
	"codeberg.org/mutker/undervoltd/internal/errors"
	"codeberg.org/mutker/undervoltd/internal/ryzenadj"
	"codeberg.org/mutker/undervoltd/internal/status"
	"codeberg.org/mutker/undervoltd/internal/watchdog"
)

func balancedCurve(core int) curve.CoreCurve {
	return curve.CoreCurve{Core: core, Min: -30, Max: -15, Threshold: 50}
}

func newTestEngine(
	cfg control.Config,
	sampler cpu.Sampler,
	applier ryzenadj.Applier,
	statusInterval time.Duration,
) (*control.Engine, *bytes.Buffer, *watchdog.Heartbeat) {
	buf := &bytes.Buffer{}
	reporter := status.NewReporter(buf, string(cfg.Strategy), statusInterval)
	hb := watchdog.NewHeartbeat()

	return control.New(cfg, sampler, applier, reporter, hb), buf, hb
}

func decodeRecords(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()

	var records []map[string]any

	dec := json.NewDecoder(bytes.NewReader(buf.Bytes()))
	for dec.More() {
		var m map[string]any
		require.NoError(t, dec.Decode(&m), "Expected every emitted line to be valid JSON")
		records = append(records, m)
	}

	return records
}

func recordsOfType(records []map[string]any, recordType string) []map[string]any {
	var out []map[string]any

	for _, r := range records {
		if r["type"] == recordType {
			out = append(out, r)
		}
	}

	return out
}

func TestLowLoadSettlesAtMinOffset(t *testing.T) {
	sampler := cpu.NewFakeSampler([]float64{20})
	applier := ryzenadj.NewFakeApplier()
	cfg := control.Config{
		Curves:           []curve.CoreCurve{balancedCurve(0)},
		Strategy:         curve.Balanced,
		SampleInterval:   100 * time.Millisecond,
		RampMS:           0,
		HysteresisBand:   5,
		MaxApplyFailures: 3,
	}
	engine, _, _ := newTestEngine(cfg, sampler, applier, time.Hour)

	require.NoError(t, engine.Tick(context.Background()))

	assert.Equal(t, curve.Millivolt(-30), applier.LastApplied(0), "Expected low load to apply the min offset")
	assert.Equal(t, []curve.Millivolt{-30}, engine.Values())
}

func TestFullLoadSettlesAtMaxOffset(t *testing.T) {
	sampler := cpu.NewFakeSampler([]float64{100})
	applier := ryzenadj.NewFakeApplier()
	cfg := control.Config{
		Curves:           []curve.CoreCurve{balancedCurve(0)},
		Strategy:         curve.Balanced,
		SampleInterval:   100 * time.Millisecond,
		RampMS:           0,
		HysteresisBand:   5,
		MaxApplyFailures: 3,
	}
	engine, _, _ := newTestEngine(cfg, sampler, applier, time.Hour)

	require.NoError(t, engine.Tick(context.Background()))

	assert.Equal(t, curve.Millivolt(-15), applier.LastApplied(0), "Expected full load to apply the max offset")
}

func TestHysteresisSuppressesSmallTargetMoves(t *testing.T) {
	// 56.67% load interpolates to -28, only 2 mV away from the committed
	// -30 and therefore inside the 5 mV band.
	sampler := cpu.NewFakeSampler([]float64{20}, []float64{56.67}, []float64{100})
	applier := ryzenadj.NewFakeApplier()
	cfg := control.Config{
		Curves:           []curve.CoreCurve{balancedCurve(0)},
		Strategy:         curve.Balanced,
		SampleInterval:   100 * time.Millisecond,
		RampMS:           0,
		HysteresisBand:   5,
		MaxApplyFailures: 3,
	}
	engine, _, _ := newTestEngine(cfg, sampler, applier, time.Hour)

	ctx := context.Background()
	require.NoError(t, engine.Tick(ctx))
	require.Equal(t, curve.Millivolt(-30), applier.LastApplied(0))

	require.NoError(t, engine.Tick(ctx))
	assert.Equal(t, 1, applier.ApplyCalls(), "Expected the 2 mV move to be suppressed")
	assert.Equal(t, []curve.Millivolt{-30}, engine.Values())

	// A 15 mV move clears the band and goes through.
	require.NoError(t, engine.Tick(ctx))
	assert.Equal(t, curve.Millivolt(-15), applier.LastApplied(0))
}

func TestHysteresisCommitsAtExactBand(t *testing.T) {
	h := control.NewHysteresis(5)

	assert.False(t, h.ShouldCommit(-28, -30), "Expected a move inside the band to be suppressed")
	assert.True(t, h.ShouldCommit(-25, -30), "Expected a move of exactly the band to commit")
	assert.True(t, h.ShouldCommit(-36, -30))
}

func TestApplyFailureEscalation(t *testing.T) {
	sampler := cpu.NewFakeSampler([]float64{20})
	applier := ryzenadj.NewFakeApplier()
	errFactory := errors.New()
	applier.ApplyErr = errFactory.New(ryzenadj.ErrApplyFailed)

	cfg := control.Config{
		Curves:           []curve.CoreCurve{balancedCurve(0)},
		Strategy:         curve.Balanced,
		SampleInterval:   100 * time.Millisecond,
		RampMS:           0,
		HysteresisBand:   5,
		MaxApplyFailures: 3,
	}
	engine, buf, _ := newTestEngine(cfg, sampler, applier, time.Hour)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, engine.Tick(ctx), "Expected failure %d to stay recoverable", i+1)
	}

	err := engine.Tick(ctx)
	require.Error(t, err, "Expected the fourth consecutive failure to be fatal")
	assert.Equal(t, ryzenadj.ErrTooManyFailures, errors.CodeOf(err))

	// The tracked value never moved because no apply succeeded.
	assert.Equal(t, []curve.Millivolt{0}, engine.Values())

	errorRecords := recordsOfType(decodeRecords(t, buf), "error")
	require.Len(t, errorRecords, 5, "Expected four apply errors plus the escalation record")
	assert.Equal(t, string(ryzenadj.ErrApplyFailed), errorRecords[0]["code"])
	assert.Equal(t, string(ryzenadj.ErrTooManyFailures), errorRecords[4]["code"])
}

func TestApplySuccessResetsFailureCounter(t *testing.T) {
	sampler := cpu.NewFakeSampler([]float64{20})
	applier := ryzenadj.NewFakeApplier()
	applier.FailFirst = 2

	cfg := control.Config{
		Curves:           []curve.CoreCurve{balancedCurve(0)},
		Strategy:         curve.Balanced,
		SampleInterval:   100 * time.Millisecond,
		RampMS:           0,
		HysteresisBand:   5,
		MaxApplyFailures: 3,
	}
	engine, _, _ := newTestEngine(cfg, sampler, applier, time.Hour)

	ctx := context.Background()
	require.NoError(t, engine.Tick(ctx))
	require.NoError(t, engine.Tick(ctx))
	assert.Equal(t, []curve.Millivolt{0}, engine.Values(), "Expected failed applies to leave the value untouched")

	require.NoError(t, engine.Tick(ctx))
	assert.Equal(t, []curve.Millivolt{-30}, engine.Values(), "Expected the retried movement to land")

	// Plenty of further ticks stay healthy now that the counter reset.
	for i := 0; i < 10; i++ {
		require.NoError(t, engine.Tick(ctx))
	}
}

func TestRampBoundsPerTickMovement(t *testing.T) {
	sampler := cpu.NewFakeSampler([]float64{20})
	applier := ryzenadj.NewFakeApplier()
	cfg := control.Config{
		Curves:           []curve.CoreCurve{balancedCurve(0)},
		Strategy:         curve.Balanced,
		SampleInterval:   100 * time.Millisecond,
		RampMS:           1000,
		HysteresisBand:   5,
		MaxApplyFailures: 3,
	}
	engine, _, _ := newTestEngine(cfg, sampler, applier, time.Hour)

	ctx := context.Background()
	prev := curve.Millivolt(0)
	for i := 0; i < 40; i++ {
		require.NoError(t, engine.Tick(ctx))

		cur := engine.Values()[0]
		delta := prev - cur
		assert.GreaterOrEqual(t, delta, curve.Millivolt(0), "Expected movement only toward the target")
		assert.LessOrEqual(t, delta, curve.Millivolt(3), "Expected per-tick movement bounded by the ramp step")
		assert.GreaterOrEqual(t, cur, curve.Millivolt(-30), "Expected no overshoot past the target")
		prev = cur
	}

	assert.Equal(t, curve.Millivolt(-30), engine.Values()[0], "Expected the ramp to settle on the target")

	// Once settled, ticks stop touching hardware.
	settled := applier.ApplyCalls()
	require.NoError(t, engine.Tick(ctx))
	assert.Equal(t, settled, applier.ApplyCalls(), "Expected no apply when current equals target")
}

func TestRampStepScalesWithDistance(t *testing.T) {
	assert.Equal(t, curve.Millivolt(3), control.RampStep(0, -30, 100, 1000))
	assert.Equal(t, curve.Millivolt(1), control.RampStep(0, -2, 100, 1000), "Expected the step floor of 1 mV")
	assert.Equal(t, curve.Millivolt(30), control.RampStep(0, -30, 100, 0), "Expected an unset ramp to move immediately")
	assert.Equal(t, curve.Millivolt(0), control.RampStep(-30, -30, 100, 1000))
}

func TestSampleFailureReusesLastVector(t *testing.T) {
	sampler := cpu.NewFakeSampler([]float64{20})
	applier := ryzenadj.NewFakeApplier()
	cfg := control.Config{
		Curves:           []curve.CoreCurve{balancedCurve(0)},
		Strategy:         curve.Balanced,
		SampleInterval:   100 * time.Millisecond,
		RampMS:           0,
		HysteresisBand:   5,
		MaxApplyFailures: 3,
	}
	engine, buf, _ := newTestEngine(cfg, sampler, applier, time.Hour)

	ctx := context.Background()
	require.NoError(t, engine.Tick(ctx))
	require.Equal(t, curve.Millivolt(-30), applier.LastApplied(0))

	errFactory := errors.New()
	sampler.SampleErr = errFactory.New(cpu.ErrSampleRead)

	require.NoError(t, engine.Tick(ctx), "Expected a sample failure to stay recoverable")
	assert.Equal(t, 1, applier.ApplyCalls(), "Expected the previous vector to keep the target stable")
	assert.Equal(t, []curve.Millivolt{-30}, engine.Values())

	errorRecords := recordsOfType(decodeRecords(t, buf), "error")
	require.Len(t, errorRecords, 1)
	assert.Equal(t, string(cpu.ErrSampleRead), errorRecords[0]["code"])
}

func TestTransitionRecordsOnTargetChange(t *testing.T) {
	sampler := cpu.NewFakeSampler([]float64{20}, []float64{20}, []float64{100})
	applier := ryzenadj.NewFakeApplier()
	cfg := control.Config{
		Curves:           []curve.CoreCurve{balancedCurve(0)},
		Strategy:         curve.Balanced,
		SampleInterval:   100 * time.Millisecond,
		RampMS:           0,
		HysteresisBand:   5,
		MaxApplyFailures: 3,
	}
	engine, buf, _ := newTestEngine(cfg, sampler, applier, time.Hour)

	ctx := context.Background()
	require.NoError(t, engine.Tick(ctx))
	require.NoError(t, engine.Tick(ctx))
	require.NoError(t, engine.Tick(ctx))

	transitions := recordsOfType(decodeRecords(t, buf), "transition")
	require.Len(t, transitions, 2, "Expected one transition per committed target change")

	assert.Equal(t, []any{float64(0)}, transitions[0]["from"])
	assert.Equal(t, []any{float64(-30)}, transitions[0]["to"])
	assert.Equal(t, float64(0), transitions[0]["progress"])

	assert.Equal(t, []any{float64(-30)}, transitions[1]["from"])
	assert.Equal(t, []any{float64(-15)}, transitions[1]["to"])
}

func TestMultiCoreAppliesPerCoreCurves(t *testing.T) {
	sampler := cpu.NewFakeSampler([]float64{20, 100})
	applier := ryzenadj.NewFakeApplier()
	cfg := control.Config{
		Curves:           []curve.CoreCurve{balancedCurve(0), balancedCurve(2)},
		Strategy:         curve.Balanced,
		SampleInterval:   100 * time.Millisecond,
		RampMS:           0,
		HysteresisBand:   5,
		MaxApplyFailures: 3,
	}
	engine, _, _ := newTestEngine(cfg, sampler, applier, time.Hour)

	require.NoError(t, engine.Tick(context.Background()))

	assert.Equal(t, []int{0, 2}, engine.Cores())
	assert.Equal(t, curve.Millivolt(-30), applier.LastApplied(0))
	assert.Equal(t, curve.Millivolt(-15), applier.LastApplied(2))
	assert.Equal(t, []curve.Millivolt{-30, -15}, engine.Values())
}

func TestForceAbortStopsBeforeSampling(t *testing.T) {
	sampler := cpu.NewFakeSampler([]float64{20})
	applier := ryzenadj.NewFakeApplier()
	cfg := control.Config{
		Curves:           []curve.CoreCurve{balancedCurve(0)},
		Strategy:         curve.Balanced,
		SampleInterval:   100 * time.Millisecond,
		RampMS:           0,
		HysteresisBand:   5,
		MaxApplyFailures: 3,
	}
	engine, _, _ := newTestEngine(cfg, sampler, applier, time.Hour)
	engine.ForceAbort = func() bool { return true }

	err := engine.Tick(context.Background())
	require.Error(t, err)
	assert.Equal(t, control.ErrForceReset, errors.CodeOf(err))
	assert.Equal(t, 0, sampler.Calls, "Expected no sampling once an abort is pending")
	assert.Equal(t, 0, applier.ApplyCalls())
}

func TestObserveHookSeesEachStatusRecord(t *testing.T) {
	sampler := cpu.NewFakeSampler([]float64{20})
	applier := ryzenadj.NewFakeApplier()
	cfg := control.Config{
		Curves:           []curve.CoreCurve{balancedCurve(0)},
		Strategy:         curve.Balanced,
		SampleInterval:   100 * time.Millisecond,
		RampMS:           0,
		HysteresisBand:   5,
		MaxApplyFailures: 3,
	}
	engine, _, _ := newTestEngine(cfg, sampler, applier, 0)

	var snapshots []control.Snapshot
	engine.Observe = func(s control.Snapshot) { snapshots = append(snapshots, s) }
	engine.FanState = func() *status.FanStatus {
		return &status.FanStatus{TempC: 55, DutyPercent: 40, PWM: 102, Mode: "custom"}
	}

	ctx := context.Background()
	require.NoError(t, engine.Tick(ctx))
	require.NoError(t, engine.Tick(ctx))

	require.Len(t, snapshots, 2, "Expected one observation per status record")
	assert.Equal(t, "balanced", snapshots[0].Strategy)
	assert.Equal(t, []int{-30}, snapshots[0].Applied)
	assert.Equal(t, []float64{20}, snapshots[0].Load)
	require.NotNil(t, snapshots[1].Fan)
	assert.Equal(t, 55, snapshots[1].Fan.TempC)
}

func TestTickBeatsHeartbeat(t *testing.T) {
	sampler := cpu.NewFakeSampler([]float64{20})
	applier := ryzenadj.NewFakeApplier()
	cfg := control.Config{
		Curves:           []curve.CoreCurve{balancedCurve(0)},
		Strategy:         curve.Balanced,
		SampleInterval:   100 * time.Millisecond,
		RampMS:           0,
		HysteresisBand:   5,
		MaxApplyFailures: 3,
	}
	engine, _, hb := newTestEngine(cfg, sampler, applier, time.Hour)

	before := hb.Last()
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, engine.Tick(context.Background()))

	assert.Greater(t, hb.Last(), before, "Expected a successful tick to beat the heartbeat")
}

func TestRunStopsOnContextCancel(t *testing.T) {
	sampler := cpu.NewFakeSampler([]float64{20})
	applier := ryzenadj.NewFakeApplier()
	cfg := control.Config{
		Curves:           []curve.CoreCurve{balancedCurve(0)},
		Strategy:         curve.Balanced,
		SampleInterval:   5 * time.Millisecond,
		RampMS:           0,
		HysteresisBand:   5,
		MaxApplyFailures: 3,
	}
	engine, _, _ := newTestEngine(cfg, sampler, applier, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- engine.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err, "Expected cancellation to end the loop cleanly")
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after context cancellation")
	}

	assert.Greater(t, sampler.Calls, 0, "Expected the loop to have ticked before cancellation")
}
