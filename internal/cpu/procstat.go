package cpu

import (
	"bufio"
	"os"
	"strconv"
	"strings"

	"codeberg.org/mutker/undervoltd/internal/errors"
)

const defaultStatPath = "/proc/stat"

// CoreStats holds one core's cumulative tick counters as exposed by the
// kernel. Counters only ever grow during normal operation, but deltas are
// computed saturating because they can step backward across a suspend.
type CoreStats struct {
	User    uint64
	Nice    uint64
	System  uint64
	Idle    uint64
	IOWait  uint64
	IRQ     uint64
	SoftIRQ uint64
	Steal   uint64
}

func (s CoreStats) busy() uint64 {
	return s.User + s.Nice + s.System + s.IRQ + s.SoftIRQ + s.Steal
}

func (s CoreStats) total() uint64 {
	return s.busy() + s.Idle + s.IOWait
}

type statSampler struct {
	path   string
	cores  []int
	prev   map[int]CoreStats
	primed bool
}

// NewSampler creates a /proc/stat sampler for the given core indices.
func NewSampler(cores []int) Sampler {
	return NewSamplerWithPath(cores, defaultStatPath)
}

// NewSamplerWithPath creates a sampler reading an alternate stat file.
func NewSamplerWithPath(cores []int, path string) Sampler {
	return &statSampler{
		path:  path,
		cores: cores,
	}
}

func (s *statSampler) Probe() error {
	errFactory := errors.New()

	stats, err := s.read()
	if err != nil {
		return err
	}

	for _, core := range s.cores {
		if _, ok := stats[core]; !ok {
			return errFactory.WithData(ErrCoreMissing, core)
		}
	}

	return nil
}

func (s *statSampler) Sample() ([]float64, error) {
	stats, err := s.read()
	if err != nil {
		return nil, err
	}

	load := make([]float64, len(s.cores))

	if !s.primed {
		s.prev = stats
		s.primed = true

		return load, nil
	}

	for i, core := range s.cores {
		cur, ok := stats[core]
		if !ok {
			// Core went offline; an idle reading keeps the curve at
			// its low-load offset.
			continue
		}
		prev, ok := s.prev[core]
		if !ok {
			continue
		}
		load[i] = utilization(prev, cur)
	}
	s.prev = stats

	return load, nil
}

func (s *statSampler) read() (map[int]CoreStats, error) {
	errFactory := errors.New()

	f, err := os.Open(s.path)
	if err != nil {
		return nil, errFactory.Wrap(ErrSampleRead, err)
	}
	defer f.Close()

	stats := make(map[int]CoreStats)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "cpu") {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}

		// The aggregate "cpu" line has no index suffix; skip it.
		core, err := strconv.Atoi(strings.TrimPrefix(fields[0], "cpu"))
		if err != nil {
			continue
		}

		stats[core] = parseCounters(fields[1:])
	}
	if err := scanner.Err(); err != nil {
		return nil, errFactory.Wrap(ErrSampleRead, err)
	}
	if len(stats) == 0 {
		return nil, errFactory.New(ErrSampleParse)
	}

	return stats, nil
}

// parseCounters fills CoreStats from the whitespace-split counter fields.
// Older kernels emit fewer columns; missing trailing counters read as zero.
func parseCounters(fields []string) CoreStats {
	var counters [8]uint64
	for i := 0; i < len(counters) && i < len(fields); i++ {
		v, err := strconv.ParseUint(fields[i], 10, 64)
		if err != nil {
			break
		}
		counters[i] = v
	}

	return CoreStats{
		User:    counters[0],
		Nice:    counters[1],
		System:  counters[2],
		Idle:    counters[3],
		IOWait:  counters[4],
		IRQ:     counters[5],
		SoftIRQ: counters[6],
		Steal:   counters[7],
	}
}

func utilization(prev, cur CoreStats) float64 {
	busyDelta := saturatingSub(cur.busy(), prev.busy())
	totalDelta := saturatingSub(cur.total(), prev.total())
	if totalDelta == 0 {
		return 0
	}

	load := float64(busyDelta) / float64(totalDelta) * 100
	if load < 0 {
		return 0
	}
	if load > 100 {
		return 100
	}

	return load
}

func saturatingSub(a, b uint64) uint64 {
	if a < b {
		return 0
	}

	return a - b
}
