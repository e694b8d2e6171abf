package config

import (
	"fmt"
	"strconv"
	"strings"

	"codeberg.org/mutker/undervoltd/internal/curve"
	"codeberg.org/mutker/undervoltd/internal/errors"
	"codeberg.org/mutker/undervoltd/internal/fan"
)

// coreSpec is one parsed --core N:MIN:MAX:THRESHOLD argument.
type coreSpec struct {
	Core      int
	Min       curve.Millivolt
	Max       curve.Millivolt
	Threshold float64
}

// corePoint is one parsed --curve-point N:LOAD:MV argument.
type corePoint struct {
	Core  int
	Point curve.Point
}

func parseCoreSpec(s string) (coreSpec, error) {
	errFactory := errors.New()

	parts := strings.Split(s, ":")
	if len(parts) != 4 {
		return coreSpec{}, errFactory.WithData(ErrInvalidCore, s)
	}

	core, err := strconv.Atoi(parts[0])
	if err != nil || core < 0 {
		return coreSpec{}, errFactory.WithData(ErrInvalidCore, s)
	}

	minMV, err := strconv.Atoi(parts[1])
	if err != nil {
		return coreSpec{}, errFactory.WithData(ErrInvalidCore, s)
	}

	maxMV, err := strconv.Atoi(parts[2])
	if err != nil {
		return coreSpec{}, errFactory.WithData(ErrInvalidCore, s)
	}

	threshold, err := strconv.ParseFloat(parts[3], 64)
	if err != nil {
		return coreSpec{}, errFactory.WithData(ErrInvalidCore, s)
	}

	spec := coreSpec{
		Core:      core,
		Min:       curve.Millivolt(minMV),
		Max:       curve.Millivolt(maxMV),
		Threshold: threshold,
	}

	if err := validateOffset(spec.Min); err != nil {
		return coreSpec{}, err
	}
	if err := validateOffset(spec.Max); err != nil {
		return coreSpec{}, err
	}
	if threshold < 0 || threshold > 100 {
		return coreSpec{}, errFactory.WithData(ErrThresholdRange, s)
	}

	return spec, nil
}

func parseCurvePointSpec(s string) (corePoint, error) {
	errFactory := errors.New()

	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return corePoint{}, errFactory.WithData(ErrInvalidPoint, s)
	}

	core, err := strconv.Atoi(parts[0])
	if err != nil || core < 0 {
		return corePoint{}, errFactory.WithData(ErrInvalidPoint, s)
	}

	load, err := strconv.ParseFloat(parts[1], 64)
	if err != nil || load < 0 || load > 100 {
		return corePoint{}, errFactory.WithData(ErrInvalidPoint, s)
	}

	mv, err := strconv.Atoi(parts[2])
	if err != nil {
		return corePoint{}, errFactory.WithData(ErrInvalidPoint, s)
	}
	if err := validateOffset(curve.Millivolt(mv)); err != nil {
		return corePoint{}, err
	}

	return corePoint{
		Core:  core,
		Point: curve.Point{Load: load, Value: curve.Millivolt(mv)},
	}, nil
}

func parseFanPointSpec(s string) (fan.CurvePoint, error) {
	errFactory := errors.New()

	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return fan.CurvePoint{}, errFactory.WithData(ErrInvalidFan, s)
	}

	temp, err := strconv.Atoi(parts[0])
	if err != nil {
		return fan.CurvePoint{}, errFactory.WithData(ErrInvalidFan, s)
	}

	duty, err := strconv.Atoi(parts[1])
	if err != nil || duty < 0 || duty > 100 {
		return fan.CurvePoint{}, errFactory.WithData(ErrInvalidFan, s)
	}

	return fan.CurvePoint{TempC: temp, Duty: duty}, nil
}

func validateOffset(mv curve.Millivolt) error {
	if mv < curve.MinOffset || mv > curve.MaxOffset {
		errFactory := errors.New()
		return errFactory.WithData(ErrOffsetRange,
			fmt.Sprintf("%d mV outside [%d, %d]", mv, curve.MinOffset, curve.MaxOffset))
	}

	return nil
}
