package telemetry

import (
	"sync/atomic"

	"github.com/timzifer/stringqueue/internal/alloc"
)

const kindCount = int(alloc.KindString) + 1

type kindCounters struct {
	allocs    atomic.Uint64
	releases  atomic.Uint64
	failures  atomic.Uint64
	liveBytes atomic.Int64
}

// AllocMetrics collects reservation counters per allocation kind.
type AllocMetrics struct {
	kinds [kindCount]kindCounters
}

// KindStats is a point-in-time copy of the counters for one kind.
type KindStats struct {
	Allocs    uint64
	Releases  uint64
	Failures  uint64
	LiveBytes int64
}

// Live returns the number of reservations not yet released. A negative value
// means more releases than allocations were recorded.
func (s KindStats) Live() int64 {
	return int64(s.Allocs) - int64(s.Releases)
}

var defaultAllocMetrics AllocMetrics

// DefaultAllocMetrics returns the process-wide metrics.
func DefaultAllocMetrics() *AllocMetrics {
	return &defaultAllocMetrics
}

func (m *AllocMetrics) counters(kind alloc.Kind) *kindCounters {
	if kind < 0 || int(kind) >= kindCount {
		return nil
	}
	return &m.kinds[kind]
}

// RecordAlloc notes a successful reservation of size bytes.
func (m *AllocMetrics) RecordAlloc(kind alloc.Kind, size int) {
	if c := m.counters(kind); c != nil {
		c.allocs.Add(1)
		c.liveBytes.Add(int64(size))
	}
}

// RecordRelease notes the release of a reservation of size bytes.
func (m *AllocMetrics) RecordRelease(kind alloc.Kind, size int) {
	if c := m.counters(kind); c != nil {
		c.releases.Add(1)
		c.liveBytes.Add(-int64(size))
	}
}

// RecordFailure notes a refused reservation.
func (m *AllocMetrics) RecordFailure(kind alloc.Kind) {
	if c := m.counters(kind); c != nil {
		c.failures.Add(1)
	}
}

// Snapshot returns the counters collected for kind.
func (m *AllocMetrics) Snapshot(kind alloc.Kind) KindStats {
	c := m.counters(kind)
	if c == nil {
		return KindStats{}
	}
	return KindStats{
		Allocs:    c.allocs.Load(),
		Releases:  c.releases.Load(),
		Failures:  c.failures.Load(),
		LiveBytes: c.liveBytes.Load(),
	}
}

// Reset zeroes every counter.
func (m *AllocMetrics) Reset() {
	for i := range m.kinds {
		c := &m.kinds[i]
		c.allocs.Store(0)
		c.releases.Store(0)
		c.failures.Store(0)
		c.liveBytes.Store(0)
	}
}
