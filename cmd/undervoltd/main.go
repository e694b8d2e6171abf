package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"codeberg.org/mutker/undervoltd/internal/config"
	"codeberg.org/mutker/undervoltd/internal/control"
	"codeberg.org/mutker/undervoltd/internal/cpu"
	"codeberg.org/mutker/undervoltd/internal/errors"
	"codeberg.org/mutker/undervoltd/internal/fan"
	"codeberg.org/mutker/undervoltd/internal/logger"
	"codeberg.org/mutker/undervoltd/internal/pid"
	"codeberg.org/mutker/undervoltd/internal/ryzenadj"
	"codeberg.org/mutker/undervoltd/internal/status"
	"codeberg.org/mutker/undervoltd/internal/telemetry"
	"codeberg.org/mutker/undervoltd/internal/watchdog"
)

// Exit codes. The watchdog fires from its own goroutine with exitWatchdog;
// every other route funnels through run.
const (
	exitOK            = 0
	exitUsage         = 1
	exitLoadSource    = 2
	exitNoBinary      = 3
	exitApplyFailures = 4
	exitWatchdog      = 5
	exitNotRoot       = 6
	exitPanic         = 101
)

const (
	resetTimeout  = 5 * time.Second
	recordTimeout = 500 * time.Millisecond
)

// daemon holds the resources cleanup has to unwind. Members are filled in
// as startup progresses; cleanup tolerates whatever is still nil.
type daemon struct {
	applier  ryzenadj.Applier
	cores    []int
	fanCtrl  *fan.Controller
	telem    telemetry.Collector
	pidOwned bool
	once     sync.Once
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) (code int) {
	cfg, err := config.Load(args)
	if err != nil {
		if err == config.ErrHelp {
			return exitOK
		}
		fmt.Fprintf(os.Stderr, "undervoltd: %v\n", err)

		return exitUsage
	}

	if os.Geteuid() != 0 {
		fmt.Fprintf(os.Stderr, "undervoltd: %s\n", errors.GetErrorMessage(errors.ErrNotRoot))

		return exitNotRoot
	}

	logger.Init(cfg.Debug, cfg.Verbose, logger.IsService())
	logger.Debug().Msg("Config loaded")

	d := &daemon{}
	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("Panic in control daemon, resetting hardware")
			code = exitPanic
		}
		d.cleanup()
	}()

	if err := pid.Write(); err != nil {
		logger.Error().Err(err).Msg("Refusing to start")

		return exitUsage
	}
	d.pidOwned = true

	binPath, err := ryzenadj.Resolve(cfg.RyzenadjPath)
	if err != nil {
		logger.Error().Err(err).Msg("ryzenadj binary not found")

		return exitNoBinary
	}

	hw := &sync.Mutex{}
	d.applier = ryzenadj.New(binPath, ryzenadj.DefaultTimeout, hw)
	d.cores = cfg.Cores()

	sampler := cpu.NewSampler(d.cores)
	if err := sampler.Probe(); err != nil {
		logger.Error().Err(err).Msg("CPU load source unavailable")

		return exitLoadSource
	}

	reporter := status.NewReporter(os.Stdout, string(cfg.Strategy), cfg.StatusInterval)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handleSignals(cancel, reporter)

	if cfg.FanControl {
		d.fanCtrl = startFanControl(ctx, cfg, hw, reporter)
	}

	if cfg.TelemetryDB != "" {
		collector, err := telemetry.NewService(telemetry.Config{DBPath: cfg.TelemetryDB})
		if err != nil {
			logger.Warn().Err(err).Msg("Telemetry unavailable, continuing without journal")
		} else {
			d.telem = collector
			logger.Debug().Str("db", cfg.TelemetryDB).Msg("Telemetry journal open")
		}
	}

	hb := watchdog.NewHeartbeat()
	wd := watchdog.New(hb, cfg.WatchdogTimeout, func(resetCtx context.Context) error {
		return d.applier.ResetAll(resetCtx, d.cores)
	})
	wd.ExitCode = exitWatchdog
	wd.Notify = func(err error) {
		if werr := reporter.Error(err); werr != nil {
			logger.Debug().Err(werr).Msg("Error record write failed")
		}
	}
	wd.Exit = func(code int) {
		d.cleanup()
		os.Exit(code)
	}
	go wd.Run(ctx)

	engine := control.New(control.Config{
		Curves:           cfg.Curves,
		Strategy:         cfg.Strategy,
		SampleInterval:   cfg.SampleInterval,
		RampMS:           cfg.RampMS,
		HysteresisBand:   cfg.Hysteresis,
		MaxApplyFailures: cfg.MaxApplyFailures,
	}, sampler, d.applier, reporter, hb)
	engine.ForceAbort = wd.ForceResetRequested
	if d.fanCtrl != nil {
		engine.FanState = d.fanCtrl.State
	}
	if d.telem != nil {
		engine.Observe = recordSnapshot(ctx, d.telem)
	}

	logger.Info().
		Str("strategy", string(cfg.Strategy)).
		Ints("cores", d.cores).
		Dur("interval", cfg.SampleInterval).
		Msg("Undervolt control engaged")

	if err := engine.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("Control loop stopped")

		switch errors.CodeOf(err) {
		case ryzenadj.ErrTooManyFailures:
			return exitApplyFailures
		case control.ErrForceReset:
			return exitWatchdog
		}

		return exitUsage
	}

	return exitOK
}

func handleSignals(cancel context.CancelFunc, reporter *status.Reporter) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1)

	for sig := range sigs {
		if sig == syscall.SIGUSR1 {
			logger.Debug().Msg("Status report requested")
			reporter.ForceNext()

			continue
		}

		logger.Info().Msg("Received termination signal.")
		cancel()

		return
	}
}

// startFanControl takes over the platform fan. Discovery or takeover
// failure degrades to voltage-only operation instead of aborting startup.
func startFanControl(ctx context.Context, cfg *config.Config, hw *sync.Mutex, reporter *status.Reporter) *fan.Controller {
	dev, err := fan.Discover()
	if err != nil {
		logger.Warn().Err(err).Msg("Fan device unavailable, continuing without fan control")

		return nil
	}

	ctrl := fan.NewController(cfg.Fan, dev, hw, reporter)
	if err := ctrl.Start(); err != nil {
		logger.Warn().Err(err).Msg("Fan takeover failed, continuing without fan control")

		return nil
	}

	go ctrl.Run(ctx)
	logger.Info().Str("device", dev.Name()).Str("mode", string(cfg.Fan.Mode)).Msg("Fan control active")

	return ctrl
}

// recordSnapshot bridges engine observations into the telemetry journal.
// Writes ride the status cadence and are bounded so a stalled disk cannot
// hold up the control loop into a watchdog trip.
func recordSnapshot(ctx context.Context, collector telemetry.Collector) func(control.Snapshot) {
	return func(snap control.Snapshot) {
		rec := &telemetry.Snapshot{
			Timestamp: time.Now(),
			Load:      snap.Load,
			Applied:   snap.Applied,
			Strategy:  snap.Strategy,
		}
		if snap.Fan != nil {
			rec.Fan = &telemetry.FanReading{
				TempC:       snap.Fan.TempC,
				DutyPercent: snap.Fan.DutyPercent,
				RPM:         snap.Fan.RPM,
			}
		}

		recCtx, cancel := context.WithTimeout(ctx, recordTimeout)
		defer cancel()
		if err := collector.Record(recCtx, rec); err != nil {
			logger.Warn().Err(err).Msg("Telemetry record failed")
		}
	}
}

// cleanup unwinds every acquired resource exactly once: zero the offsets,
// hand the fan back to firmware, close the journal, drop the PID file.
func (d *daemon) cleanup() {
	d.once.Do(func() {
		if d.applier != nil {
			ctx, cancel := context.WithTimeout(context.Background(), resetTimeout)
			defer cancel()
			if err := d.applier.ResetAll(ctx, d.cores); err != nil {
				logger.Error().Err(err).Msg("Final zero reset failed")
			}
		}

		if d.fanCtrl != nil {
			if err := d.fanCtrl.Release(); err != nil {
				logger.Error().Err(err).Msg("Fan control release failed")
			}
		}

		if d.telem != nil {
			if err := d.telem.Close(); err != nil {
				logger.Error().Err(err).Msg("Telemetry close failed")
			}
		}

		if d.pidOwned {
			if err := pid.Remove(); err != nil {
				logger.Error().Err(err).Msg("PID file removal failed")
			}
		}

		logger.Info().Msg("Exiting...")
	})
}
