// Package config resolves the daemon's tuning from command line flags and
// an optional TOML file. Flags win over file values, file values win over
// defaults. The file is only consulted when named explicitly via --config
// or the UNDERVOLTD_CONFIG environment variable; there is no implicit
// search path, an invocation is self-contained.
package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"codeberg.org/mutker/undervoltd/internal/curve"
	"codeberg.org/mutker/undervoltd/internal/errors"
	"codeberg.org/mutker/undervoltd/internal/fan"
)

const (
	MinSampleIntervalUS = 10000
	MaxSampleIntervalUS = 5000000

	DefaultHysteresis        = 5.0
	DefaultStatusIntervalMS  = 1000
	DefaultMaxApplyFailures  = 3
	DefaultWatchdogTimeoutMS = 10000
	DefaultRyzenadjPath      = "ryzenadj"

	envConfig = "UNDERVOLTD_CONFIG"
)

// ErrHelp is returned by Load when --help was requested.
var ErrHelp = pflag.ErrHelp

type Config struct {
	Strategy         curve.Kind
	SampleInterval   time.Duration
	Curves           []curve.CoreCurve
	RampMS           int
	Hysteresis       float64
	RyzenadjPath     string
	StatusInterval   time.Duration
	MaxApplyFailures int
	WatchdogTimeout  time.Duration
	FanControl       bool
	Fan              fan.Config
	TelemetryDB      string
	Verbose          bool
	Debug            bool
}

// Cores lists the configured core indices in ascending order.
func (c *Config) Cores() []int {
	cores := make([]int, len(c.Curves))
	for i, cc := range c.Curves {
		cores[i] = cc.Core
	}

	return cores
}

// Load parses args (without the program name) into a validated Config.
// A returned ErrHelp means --help was requested.
func Load(args []string) (*Config, error) {
	errFactory := errors.New()

	fs := pflag.NewFlagSet("undervoltd", pflag.ContinueOnError)
	fs.SortFlags = false
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr,
			"Usage: undervoltd [flags] <strategy> <sample_interval_us>\n\n"+
				"Strategies: conservative, balanced, aggressive, custom\n\nFlags:\n%s",
			fs.FlagUsages())
	}

	var (
		coreSpecs  []string
		pointSpecs []string
		fanSpecs   []string
	)

	fs.StringArrayVar(&coreSpecs, "core", nil, "per-core curve as N:MIN:MAX:THRESHOLD (repeatable)")
	fs.StringArrayVar(&pointSpecs, "curve-point", nil, "custom curve point as N:LOAD:MV (repeatable)")
	fs.Int("ramp-ms", 0, "ramp time constant in ms for the custom strategy")
	fs.Float64("hysteresis", DefaultHysteresis, "target dead-band in mV (1-20)")
	fs.String("ryzenadj-path", DefaultRyzenadjPath, "path to the ryzenadj executable")
	fs.Int("status-interval", DefaultStatusIntervalMS, "status record interval in ms")
	fs.Int("max-apply-failures", DefaultMaxApplyFailures, "consecutive apply failures tolerated per core")
	fs.Int("watchdog-timeout", DefaultWatchdogTimeoutMS, "watchdog timeout in ms")
	fs.Bool("fan-control", false, "enable the fan subsystem")
	fs.String("fan-mode", string(fan.ModeDefault), "fan mode: default, custom or fixed")
	fs.StringArrayVar(&fanSpecs, "fan-curve", nil, "fan curve point as TEMP:DUTY (repeatable)")
	fs.String("fan-profile", "", "preset fan curve: silent, balanced or max-cooling")
	fs.Int("fan-hysteresis", fan.DefaultHysteresis, "fan temperature dead-band in C (1-10)")
	fs.Bool("fan-zero-rpm", false, "allow a stopped fan below 45 C")
	fs.String("telemetry-db", "", "record telemetry snapshots to this sqlite database")
	configPath := fs.String("config", "", "optional TOML configuration file")
	fs.Bool("verbose", false, "enable verbose logging")
	fs.Bool("debug", false, "enable debug logging")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigType("toml")
	setDefaults(v)

	path := *configPath
	if path == "" {
		path = os.Getenv(envConfig)
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errFactory.Wrap(errors.ErrReadConfig, err)
		}
	}

	// Override config file values with command line flags
	fs.Visit(func(f *pflag.Flag) {
		switch f.Name {
		case "core", "curve-point", "fan-curve", "config":
			return
		}
		v.Set(f.Name, f.Value.String())
	})
	if fs.Changed("core") {
		v.Set("core", coreSpecs)
	}
	if fs.Changed("curve-point") {
		v.Set("curve-point", pointSpecs)
	}
	if fs.Changed("fan-curve") {
		v.Set("fan-curve", fanSpecs)
	}

	rest := fs.Args()
	if len(rest) != 2 {
		return nil, errFactory.WithData(ErrUsage, "expected <strategy> <sample_interval_us>")
	}

	kind, err := curve.ParseKind(rest[0])
	if err != nil {
		return nil, err
	}

	intervalUS, err := strconv.Atoi(rest[1])
	if err != nil {
		return nil, errFactory.WithData(errors.ErrInvalidInterval, rest[1])
	}
	if intervalUS < MinSampleIntervalUS || intervalUS > MaxSampleIntervalUS {
		return nil, errFactory.WithData(errors.ErrInvalidInterval,
			fmt.Sprintf("%d us outside [%d, %d]", intervalUS, MinSampleIntervalUS, MaxSampleIntervalUS))
	}

	curves, err := buildCurves(kind, v.GetStringSlice("core"), v.GetStringSlice("curve-point"))
	if err != nil {
		return nil, err
	}

	rampMS, err := resolveRamp(kind, v)
	if err != nil {
		return nil, err
	}

	hysteresis := v.GetFloat64("hysteresis")
	if hysteresis < 1 || hysteresis > 20 {
		return nil, errFactory.WithData(ErrHysteresisRange,
			fmt.Sprintf("%.1f mV outside [1, 20]", hysteresis))
	}

	fanHysteresis := v.GetInt("fan-hysteresis")
	if fanHysteresis < 1 || fanHysteresis > 10 {
		return nil, errFactory.WithData(ErrHysteresisRange,
			fmt.Sprintf("%d C outside [1, 10]", fanHysteresis))
	}

	statusMS := v.GetInt("status-interval")
	if statusMS <= 0 {
		return nil, errFactory.WithData(errors.ErrInvalidInterval, "status-interval must be positive")
	}

	watchdogMS := v.GetInt("watchdog-timeout")
	if watchdogMS <= 0 {
		return nil, errFactory.WithData(errors.ErrInvalidInterval, "watchdog-timeout must be positive")
	}

	maxFailures := v.GetInt("max-apply-failures")
	if maxFailures < 0 {
		return nil, errFactory.WithData(errors.ErrInvalidConfig, "max-apply-failures must not be negative")
	}

	ryzenadjPath := v.GetString("ryzenadj-path")
	if ryzenadjPath == "" {
		return nil, errFactory.WithData(errors.ErrInvalidConfig, "ryzenadj-path must not be empty")
	}

	fanCfg, err := buildFanConfig(v, fanHysteresis)
	if err != nil {
		return nil, err
	}

	return &Config{
		Strategy:         kind,
		SampleInterval:   time.Duration(intervalUS) * time.Microsecond,
		Curves:           curves,
		RampMS:           rampMS,
		Hysteresis:       hysteresis,
		RyzenadjPath:     ryzenadjPath,
		StatusInterval:   time.Duration(statusMS) * time.Millisecond,
		MaxApplyFailures: maxFailures,
		WatchdogTimeout:  time.Duration(watchdogMS) * time.Millisecond,
		FanControl:       v.GetBool("fan-control"),
		Fan:              fanCfg,
		TelemetryDB:      v.GetString("telemetry-db"),
		Verbose:          v.GetBool("verbose"),
		Debug:            v.GetBool("debug"),
	}, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("core", []string{})
	v.SetDefault("curve-point", []string{})
	v.SetDefault("fan-curve", []string{})
	v.SetDefault("hysteresis", DefaultHysteresis)
	v.SetDefault("ryzenadj-path", DefaultRyzenadjPath)
	v.SetDefault("status-interval", DefaultStatusIntervalMS)
	v.SetDefault("max-apply-failures", DefaultMaxApplyFailures)
	v.SetDefault("watchdog-timeout", DefaultWatchdogTimeoutMS)
	v.SetDefault("fan-control", false)
	v.SetDefault("fan-mode", string(fan.ModeDefault))
	v.SetDefault("fan-profile", "")
	v.SetDefault("fan-hysteresis", fan.DefaultHysteresis)
	v.SetDefault("fan-zero-rpm", false)
	v.SetDefault("telemetry-db", "")
	v.SetDefault("verbose", false)
	v.SetDefault("debug", false)
}

// buildCurves assembles the per-core curves. Custom strategy attaches the
// configured points and requires at least two per core; the fixed
// strategies reject stray points.
func buildCurves(kind curve.Kind, coreSpecs, pointSpecs []string) ([]curve.CoreCurve, error) {
	errFactory := errors.New()

	if len(coreSpecs) == 0 {
		return nil, errFactory.WithData(ErrNoCores, "at least one --core is required")
	}

	byCore := make(map[int]int, len(coreSpecs))
	curves := make([]curve.CoreCurve, 0, len(coreSpecs))

	for _, s := range coreSpecs {
		spec, err := parseCoreSpec(s)
		if err != nil {
			return nil, err
		}

		if _, dup := byCore[spec.Core]; dup {
			return nil, errFactory.WithData(ErrDuplicateCore, fmt.Sprintf("core %d", spec.Core))
		}

		byCore[spec.Core] = len(curves)
		curves = append(curves, curve.CoreCurve{
			Core:      spec.Core,
			Min:       spec.Min,
			Max:       spec.Max,
			Threshold: spec.Threshold,
		})
	}

	if kind != curve.Custom {
		if len(pointSpecs) > 0 {
			return nil, errFactory.WithData(ErrStrategyFlags, "--curve-point requires the custom strategy")
		}
	} else {
		for _, s := range pointSpecs {
			cp, err := parseCurvePointSpec(s)
			if err != nil {
				return nil, err
			}

			idx, ok := byCore[cp.Core]
			if !ok {
				return nil, errFactory.WithData(ErrInvalidPoint,
					fmt.Sprintf("core %d has points but no --core entry", cp.Core))
			}

			curves[idx].Points = append(curves[idx].Points, cp.Point)
		}

		for i := range curves {
			if len(curves[i].Points) < 2 {
				return nil, errFactory.WithData(ErrInvalidPoint,
					fmt.Sprintf("core %d has %d points, the custom strategy needs at least 2",
						curves[i].Core, len(curves[i].Points)))
			}

			curve.SortPoints(curves[i].Points)
		}
	}

	sort.Slice(curves, func(i, j int) bool { return curves[i].Core < curves[j].Core })

	return curves, nil
}

func resolveRamp(kind curve.Kind, v *viper.Viper) (int, error) {
	errFactory := errors.New()

	provided := v.IsSet("ramp-ms")
	if kind != curve.Custom {
		if provided {
			return 0, errFactory.WithData(ErrStrategyFlags, "--ramp-ms requires the custom strategy")
		}

		return kind.DefaultRampMS(), nil
	}

	rampMS := kind.DefaultRampMS()
	if provided {
		rampMS = v.GetInt("ramp-ms")
	}
	if rampMS <= 0 {
		return 0, errFactory.WithData(errors.ErrInvalidConfig, "ramp-ms must be positive")
	}

	return rampMS, nil
}

// buildFanConfig validates the fan surface even when --fan-control is
// absent so typos never go unnoticed; the subsystem only activates when
// FanControl is set.
func buildFanConfig(v *viper.Viper, hysteresis int) (fan.Config, error) {
	errFactory := errors.New()

	mode, err := fan.ParseMode(v.GetString("fan-mode"))
	if err != nil {
		return fan.Config{}, err
	}

	specs := v.GetStringSlice("fan-curve")
	points := make([]fan.CurvePoint, 0, len(specs))
	for _, s := range specs {
		p, err := parseFanPointSpec(s)
		if err != nil {
			return fan.Config{}, err
		}
		points = append(points, p)
	}

	cfg := fan.Config{
		Mode:        mode,
		HysteresisC: hysteresis,
		ZeroRPM:     v.GetBool("fan-zero-rpm"),
		Interval:    fan.DefaultInterval,
	}

	switch mode {
	case fan.ModeCustom:
		switch {
		case len(points) > 0:
			c, err := fan.NewCurve(points)
			if err != nil {
				return fan.Config{}, err
			}
			cfg.Curve = c
		case v.GetString("fan-profile") != "":
			p, err := fan.ParseProfile(v.GetString("fan-profile"))
			if err != nil {
				return fan.Config{}, err
			}
			cfg.Curve = p.Curve()
		default:
			return fan.Config{}, errFactory.WithData(ErrInvalidFan,
				"custom fan mode needs --fan-curve points or a --fan-profile")
		}
	case fan.ModeFixed:
		if len(points) == 0 {
			return fan.Config{}, errFactory.WithData(ErrInvalidFan,
				"fixed fan mode needs at least one --fan-curve point")
		}
		cfg.FixedDuty = points[0].Duty
	case fan.ModeDefault:
	}

	return cfg, nil
}
