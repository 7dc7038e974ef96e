package transport

import "go.uber.org/atomic"

// Stats counts frames per transport.
type Stats struct {
	FramesIn    *atomic.Uint64
	FramesOut   *atomic.Uint64
	Dropped     *atomic.Uint64
	CRCFailures *atomic.Uint64
	Restarts    *atomic.Uint64
}

func newStats() *Stats {
	return &Stats{
		FramesIn:    atomic.NewUint64(0),
		FramesOut:   atomic.NewUint64(0),
		Dropped:     atomic.NewUint64(0),
		CRCFailures: atomic.NewUint64(0),
		Restarts:    atomic.NewUint64(0),
	}
}

type StatsSnapshot struct {
	FramesIn    uint64 `json:"frames_in"`
	FramesOut   uint64 `json:"frames_out"`
	Dropped     uint64 `json:"dropped"`
	CRCFailures uint64 `json:"crc_failures"`
	Restarts    uint64 `json:"restarts"`
}

func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		FramesIn:    s.FramesIn.Load(),
		FramesOut:   s.FramesOut.Load(),
		Dropped:     s.Dropped.Load(),
		CRCFailures: s.CRCFailures.Load(),
		Restarts:    s.Restarts.Load(),
	}
}
