package relay

import "sync/atomic"

// relayMetricsState tracks basic ingest counters for relay frames.
type relayMetricsState struct {
	seen    atomic.Int64
	dropped atomic.Int64
}

var relayMetrics relayMetricsState

func (m *relayMetricsState) incSeen() int64 {
	if m == nil {
		return 0
	}
	return m.seen.Add(1)
}

func (m *relayMetricsState) incDropped(reason string) int64 {
	if m == nil {
		return 0
	}
	_ = reason // reserved for future per-reason counters
	return m.dropped.Add(1)
}

// Counters returns the seen and dropped totals since process start.
func Counters() (seen, dropped int64) {
	return relayMetrics.seen.Load(), relayMetrics.dropped.Load()
}
