package pipeline

import "sync/atomic"

// Stats is a snapshot of a pipeline's counters.
type Stats struct {
	// PacketsIn counts accepted input packets (frames for encoders).
	PacketsIn uint64
	// FramesOut counts delivered output frames (packets for encoders),
	// the end-of-stream marker included.
	FramesOut uint64
	// Discarded counts errored outputs dropped because errors are disabled.
	Discarded uint64
	// ParseErrors and HardwareErrors count failures since the last reset.
	ParseErrors    uint64
	HardwareErrors uint64
	// DecodeCount and DisplayCount mirror the slot table counters.
	DecodeCount  uint64
	DisplayCount uint64
	TasksUnused  int
	TasksUsed    int
	InputQueued  int
	Resets       uint64
}

type counters struct {
	packetsIn      atomic.Uint64
	framesOut      atomic.Uint64
	discarded      atomic.Uint64
	parseErrors    atomic.Uint64
	hardwareErrors atomic.Uint64
	resets         atomic.Uint64
}

func (c *counters) fill(s *Stats) {
	s.PacketsIn = c.packetsIn.Load()
	s.FramesOut = c.framesOut.Load()
	s.Discarded = c.discarded.Load()
	s.ParseErrors = c.parseErrors.Load()
	s.HardwareErrors = c.hardwareErrors.Load()
	s.Resets = c.resets.Load()
}

// clearErrors drops the error counters; throughput counters survive reset.
func (c *counters) clearErrors() {
	c.parseErrors.Store(0)
	c.hardwareErrors.Store(0)
	c.resets.Add(1)
}
