package memcheck

import (
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/pkg/errors"
	"github.com/timzifer/stringqueue/internal/alloc"
	"github.com/timzifer/stringqueue/internal/telemetry"
)

var (
	// ErrInjectedFailure is returned by Alloc when a failure was injected.
	ErrInjectedFailure = errors.New("memcheck: injected allocation failure")
	// ErrLeak is wrapped by the error Leaks returns.
	ErrLeak = errors.New("memcheck: unreleased allocations")
)

// Stats is a copy of the counters for one allocation kind.
type Stats = telemetry.KindStats

var kinds = []alloc.Kind{alloc.KindQueue, alloc.KindNode, alloc.KindString}

type trackerOptions struct {
	seed     uint64
	failRate int
}

// TrackerOption configures a Tracker.
type TrackerOption func(*trackerOptions)

// WithSeed seeds the random source used by SetFailRate.
func WithSeed(seed uint64) TrackerOption {
	return func(opts *trackerOptions) {
		opts.seed = seed
	}
}

// WithFailRate sets the initial failure percentage. See SetFailRate.
func WithFailRate(percent int) TrackerOption {
	return func(opts *trackerOptions) {
		opts.failRate = percent
	}
}

// Tracker is an alloc.Allocator that records reservations and can refuse them.
// Every event is also added to the process-wide telemetry counters, see
// ProcessStats; Reset only clears the tracker's own counters.
type Tracker struct {
	metrics  telemetry.AllocMetrics
	failNext int
	failRate int
	rng      *rand.Rand
}

// NewTracker creates a tracker that accepts every reservation unless
// configured otherwise.
func NewTracker(options ...TrackerOption) *Tracker {
	opts := trackerOptions{seed: 1}
	for _, opt := range options {
		opt(&opts)
	}

	t := &Tracker{rng: rand.New(rand.NewPCG(opts.seed, opts.seed^0x9e3779b97f4a7c15))}
	t.SetFailRate(opts.failRate)
	return t
}

// Alloc implements alloc.Allocator.
func (t *Tracker) Alloc(kind alloc.Kind, size int) error {
	if t.shouldFail() {
		t.metrics.RecordFailure(kind)
		telemetry.DefaultAllocMetrics().RecordFailure(kind)
		return errors.Wrapf(ErrInjectedFailure, "%s of %d bytes", kind, size)
	}
	t.metrics.RecordAlloc(kind, size)
	telemetry.DefaultAllocMetrics().RecordAlloc(kind, size)
	return nil
}

// Release implements alloc.Allocator.
func (t *Tracker) Release(kind alloc.Kind, size int) {
	t.metrics.RecordRelease(kind, size)
	telemetry.DefaultAllocMetrics().RecordRelease(kind, size)
}

// FailNext makes the next n reservations fail, regardless of the fail rate.
func (t *Tracker) FailNext(n int) {
	if n < 0 {
		n = 0
	}
	t.failNext = n
}

// SetFailRate makes each reservation fail with the given probability in
// percent. Values are clamped to [0, 100].
func (t *Tracker) SetFailRate(percent int) {
	t.failRate = min(max(percent, 0), 100)
}

// FailRate returns the current failure percentage.
func (t *Tracker) FailRate() int {
	return t.failRate
}

func (t *Tracker) shouldFail() bool {
	if t.failNext > 0 {
		t.failNext--
		return true
	}
	if t.failRate == 0 {
		return false
	}
	return t.rng.IntN(100) < t.failRate
}

// Stats returns the counters recorded for kind.
func (t *Tracker) Stats(kind alloc.Kind) Stats {
	return t.metrics.Snapshot(kind)
}

// ProcessStats returns the counters for kind summed over every Tracker in the
// process.
func ProcessStats(kind alloc.Kind) Stats {
	return telemetry.DefaultAllocMetrics().Snapshot(kind)
}

// Live returns the number of outstanding reservations of kind.
func (t *Tracker) Live(kind alloc.Kind) int64 {
	return t.metrics.Snapshot(kind).Live()
}

// LiveBytes returns the number of outstanding bytes over all kinds.
func (t *Tracker) LiveBytes() int64 {
	var total int64
	for _, kind := range kinds {
		total += t.metrics.Snapshot(kind).LiveBytes
	}
	return total
}

// Leaks reports outstanding reservations and releases that had no matching
// reservation. It returns nil when every reservation was released exactly once.
func (t *Tracker) Leaks() error {
	var problems []string
	for _, kind := range kinds {
		s := t.metrics.Snapshot(kind)
		switch live := s.Live(); {
		case live > 0:
			problems = append(problems, fmt.Sprintf("%d %s block(s), %d bytes still allocated", live, kind, s.LiveBytes))
		case live < 0:
			problems = append(problems, fmt.Sprintf("%d %s block(s) released twice", -live, kind))
		}
	}

	if len(problems) == 0 {
		return nil
	}
	return errors.Wrap(ErrLeak, strings.Join(problems, "; "))
}

// Reset clears all counters and pending injected failures. The fail rate is
// kept.
func (t *Tracker) Reset() {
	t.metrics.Reset()
	t.failNext = 0
}
