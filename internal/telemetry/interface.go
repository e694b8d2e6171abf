package telemetry

import (
	"context"
	"time"
)

// Collector defines the core domain interface
type Collector interface {
	Record(ctx context.Context, snapshot *Snapshot) error
	Close() error
}

// Snapshot is one journaled observation of the control loop, captured at
// status cadence.
type Snapshot struct {
	Timestamp time.Time
	Load      []float64
	Applied   []int
	Strategy  string
	Fan       *FanReading
}

// FanReading carries the fan section of a snapshot when fan control is
// active.
type FanReading struct {
	TempC       int
	DutyPercent int
	RPM         int
}
