package stringqueue

import (
	"bytes"
	"math/rand/v2"
	"strconv"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/timzifer/stringqueue/internal/alloc"
	"github.com/timzifer/stringqueue/memcheck"
)

func newTrackedQueue(t *testing.T) (*Queue, *memcheck.Tracker) {
	t.Helper()
	tracker := memcheck.NewTracker()
	q, err := New(WithAllocator(tracker))
	if err != nil {
		t.Fatalf("unexpected error creating queue: %v", err)
	}
	return q, tracker
}

// checkQueue walks the chain and verifies structure and contents.
func checkQueue(t *testing.T, q *Queue, want ...string) {
	t.Helper()

	if q.Size() != len(want) {
		t.Fatalf("expected size %d, got %d", len(want), q.Size())
	}
	if len(want) == 0 {
		if q.head != nil || q.tail != nil {
			t.Fatalf("expected nil head and tail on empty queue, got head=%p tail=%p", q.head, q.tail)
		}
		return
	}

	var last *node
	i := 0
	for n := q.head; n != nil; n = n.next {
		if i >= len(want) {
			t.Fatalf("chain longer than size %d", len(want))
		}
		if n.value != want[i] {
			t.Fatalf("unexpected value at %d: got %q want %q", i, n.value, want[i])
		}
		last = n
		i++
	}
	if i != len(want) {
		t.Fatalf("chain has %d nodes, size says %d", i, len(want))
	}
	if q.tail != last {
		t.Fatalf("tail does not point at the last reachable node")
	}
	if len(want) == 1 && q.head != q.tail {
		t.Fatalf("expected head and tail to share the single node")
	}
}

func removeHead(t *testing.T, q *Queue, bufSize int) string {
	t.Helper()
	buf := make([]byte, bufSize)
	n, err := q.RemoveHead(buf)
	if err != nil {
		t.Fatalf("unexpected remove error: %v", err)
	}
	if buf[n] != 0 {
		t.Fatalf("expected terminator at %d", n)
	}
	return string(buf[:n])
}

func TestQueueInsertTailRemoveReverse(t *testing.T) {
	q, tracker := newTrackedQueue(t)

	for _, s := range []string{"a", "b", "c"} {
		if err := q.InsertTail(s); err != nil {
			t.Fatalf("unexpected insert error: %v", err)
		}
	}
	checkQueue(t, q, "a", "b", "c")

	if got := removeHead(t, q, 10); got != "a" {
		t.Fatalf("expected RemoveHead to return a, got %q", got)
	}
	checkQueue(t, q, "b", "c")

	q.Reverse()
	checkQueue(t, q, "c", "b")

	if got := removeHead(t, q, 10); got != "c" {
		t.Fatalf("expected RemoveHead to return c after reverse, got %q", got)
	}
	checkQueue(t, q, "b")

	q.Free()
	if err := tracker.Leaks(); err != nil {
		t.Fatalf("unexpected leak: %v", err)
	}
}

func TestQueueInsertHeadOnEmpty(t *testing.T) {
	q, _ := newTrackedQueue(t)

	if err := q.InsertHead("x"); err != nil {
		t.Fatalf("unexpected insert error: %v", err)
	}
	checkQueue(t, q, "x")
}

func TestQueueFIFOAndLIFO(t *testing.T) {
	values := []string{"one", "two", "three", "four", "five"}

	fifo, _ := newTrackedQueue(t)
	lifo, _ := newTrackedQueue(t)
	for _, v := range values {
		if err := fifo.InsertTail(v); err != nil {
			t.Fatalf("unexpected insert error: %v", err)
		}
		if err := lifo.InsertHead(v); err != nil {
			t.Fatalf("unexpected insert error: %v", err)
		}
	}

	for i, want := range values {
		if got := removeHead(t, fifo, 16); got != want {
			t.Fatalf("fifo pop %d: expected %q got %q", i, want, got)
		}
	}
	for i := len(values) - 1; i >= 0; i-- {
		if got := removeHead(t, lifo, 16); got != values[i] {
			t.Fatalf("lifo pop: expected %q got %q", values[i], got)
		}
	}

	checkQueue(t, fifo)
	checkQueue(t, lifo)
}

func TestQueueMixedInsertions(t *testing.T) {
	q, _ := newTrackedQueue(t)

	_ = q.InsertTail("b")
	_ = q.InsertHead("a")
	_ = q.InsertTail("c")
	_ = q.InsertHead("z")

	checkQueue(t, q, "z", "a", "b", "c")
}

func TestQueueReverse(t *testing.T) {
	q, tracker := newTrackedQueue(t)

	q.Reverse()
	checkQueue(t, q)

	_ = q.InsertTail("only")
	q.Reverse()
	checkQueue(t, q, "only")

	_ = q.InsertTail("second")
	_ = q.InsertTail("third")

	before := tracker.Stats(alloc.KindNode)
	q.Reverse()
	checkQueue(t, q, "third", "second", "only")
	if after := tracker.Stats(alloc.KindNode); after != before {
		t.Fatalf("expected reverse not to allocate, stats changed from %+v to %+v", before, after)
	}

	q.Reverse()
	checkQueue(t, q, "only", "second", "third")

	if err := q.InsertTail("fourth"); err != nil {
		t.Fatalf("unexpected insert error after reverse: %v", err)
	}
	checkQueue(t, q, "only", "second", "third", "fourth")
}

func TestQueueRemoveHeadEmptyLeavesBuffer(t *testing.T) {
	q, _ := newTrackedQueue(t)

	buf := []byte("untouched")
	if _, err := q.RemoveHead(buf); !errors.Is(err, ErrQueueEmpty) {
		t.Fatalf("expected ErrQueueEmpty, got %v", err)
	}
	if !errors.Is(ErrQueueEmpty, ErrInvalidArgument) {
		t.Fatalf("expected ErrQueueEmpty to wrap ErrInvalidArgument")
	}
	if string(buf) != "untouched" {
		t.Fatalf("expected buffer to stay untouched, got %q", buf)
	}
}

func TestQueueRemoveHeadTruncates(t *testing.T) {
	q, tracker := newTrackedQueue(t)
	_ = q.InsertTail("abcdefgh")
	_ = q.InsertTail("next")

	buf := bytes.Repeat([]byte{'#'}, 6)
	n, err := q.RemoveHead(buf[:4])
	if err != nil {
		t.Fatalf("unexpected remove error: %v", err)
	}
	if n != 3 || string(buf[:3]) != "abc" || buf[3] != 0 {
		t.Fatalf("expected 3 bytes abc plus terminator, got n=%d buf=%q", n, buf)
	}
	if buf[4] != '#' {
		t.Fatalf("expected bytes past the buffer length to stay untouched, got %q", buf)
	}
	checkQueue(t, q, "next")

	if live := tracker.Live(alloc.KindNode); live != 1 {
		t.Fatalf("expected truncated removal to release its node, %d live", live)
	}

	one := []byte{'#'}
	if n, err := q.RemoveHead(one); err != nil || n != 0 || one[0] != 0 {
		t.Fatalf("expected single byte buffer to receive only a terminator, got n=%d err=%v buf=%q", n, err, one)
	}
	checkQueue(t, q)
}

func TestQueueRemoveHeadInvalidBuffer(t *testing.T) {
	q, _ := newTrackedQueue(t)
	_ = q.InsertTail("keep")

	if _, err := q.RemoveHead(nil); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for nil buffer, got %v", err)
	}
	if _, err := q.RemoveHead([]byte{}); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for empty buffer, got %v", err)
	}
	checkQueue(t, q, "keep")
}

func TestQueueEmptyString(t *testing.T) {
	q, _ := newTrackedQueue(t)

	if err := q.InsertTail(""); err != nil {
		t.Fatalf("expected empty string to be accepted, got %v", err)
	}
	checkQueue(t, q, "")

	buf := []byte{'#', '#'}
	n, err := q.RemoveHead(buf)
	if err != nil || n != 0 || buf[0] != 0 || buf[1] != '#' {
		t.Fatalf("unexpected result n=%d err=%v buf=%q", n, err, buf)
	}
}

func TestNilQueue(t *testing.T) {
	var q *Queue

	if q.Size() != 0 {
		t.Fatalf("expected nil queue size 0")
	}
	if err := q.InsertHead("a"); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument from InsertHead, got %v", err)
	}
	if err := q.InsertTail("a"); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument from InsertTail, got %v", err)
	}
	buf := []byte("xy")
	if _, err := q.RemoveHead(buf); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument from RemoveHead, got %v", err)
	}
	if string(buf) != "xy" {
		t.Fatalf("expected buffer untouched, got %q", buf)
	}
	q.Reverse()
	q.Free()
}

func TestQueueFreeReleasesEverything(t *testing.T) {
	q, tracker := newTrackedQueue(t)

	const n = 100
	for i := 0; i < n; i++ {
		if err := q.InsertTail(strconv.Itoa(i)); err != nil {
			t.Fatalf("unexpected insert error: %v", err)
		}
	}
	if live := tracker.Live(alloc.KindNode); live != n {
		t.Fatalf("expected %d live nodes, got %d", n, live)
	}
	if live := tracker.Live(alloc.KindString); live != n {
		t.Fatalf("expected %d live strings, got %d", n, live)
	}

	q.Free()
	if err := tracker.Leaks(); err != nil {
		t.Fatalf("unexpected leak after free: %v", err)
	}
	if s := tracker.Stats(alloc.KindNode); s.Releases != n {
		t.Fatalf("expected %d node releases, got %d", n, s.Releases)
	}

	q.Free()
	if err := tracker.Leaks(); err != nil {
		t.Fatalf("expected second free to be a no-op, got %v", err)
	}

	if err := q.InsertTail("late"); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected insertion into freed queue to fail, got %v", err)
	}
	if q.Size() != 0 {
		t.Fatalf("expected freed queue to be empty, got size %d", q.Size())
	}
}

func TestNewAllocationFailure(t *testing.T) {
	tracker := memcheck.NewTracker()
	tracker.FailNext(1)

	q, err := New(WithAllocator(tracker))
	if !errors.Is(err, ErrAllocationFailed) || q != nil {
		t.Fatalf("expected ErrAllocationFailed and nil queue, got %v, %v", q, err)
	}
	if err := tracker.Leaks(); err != nil {
		t.Fatalf("unexpected leak: %v", err)
	}
}

func TestQueueInsertNodeAllocationFailure(t *testing.T) {
	q, tracker := newTrackedQueue(t)
	_ = q.InsertTail("a")

	tracker.FailNext(1)
	if err := q.InsertHead("b"); !errors.Is(err, ErrAllocationFailed) {
		t.Fatalf("expected ErrAllocationFailed, got %v", err)
	}
	tracker.FailNext(1)
	if err := q.InsertTail("b"); !errors.Is(err, ErrAllocationFailed) {
		t.Fatalf("expected ErrAllocationFailed, got %v", err)
	}
	checkQueue(t, q, "a")

	q.Free()
	if err := tracker.Leaks(); err != nil {
		t.Fatalf("unexpected leak: %v", err)
	}
}

// stringFailer refuses every string reservation.
type stringFailer struct {
	*memcheck.Tracker
}

func (s stringFailer) Alloc(kind alloc.Kind, size int) error {
	if kind == alloc.KindString {
		return errors.New("no memory for strings")
	}
	return s.Tracker.Alloc(kind, size)
}

func TestQueueInsertTailAllocationFailureOnEmptyQueue(t *testing.T) {
	q, tracker := newTrackedQueue(t)

	tracker.FailNext(1)
	err := q.InsertTail("a")
	if !errors.Is(err, ErrAllocationFailed) {
		t.Fatalf("expected ErrAllocationFailed, got %v", err)
	}
	if msg := err.Error(); !strings.HasPrefix(msg, "insert tail: ") {
		t.Fatalf("expected error to name the tail insert, got %q", msg)
	}
	checkQueue(t, q)

	if err := q.InsertTail("a"); err != nil {
		t.Fatalf("unexpected insert error: %v", err)
	}
	checkQueue(t, q, "a")
}

func TestQueueInsertStringAllocationFailureUnwindsNode(t *testing.T) {
	tracker := memcheck.NewTracker()
	q, err := New(WithAllocator(stringFailer{tracker}))
	if err != nil {
		t.Fatalf("unexpected error creating queue: %v", err)
	}

	if err := q.InsertHead("a"); !errors.Is(err, ErrAllocationFailed) {
		t.Fatalf("expected ErrAllocationFailed, got %v", err)
	}
	if err := q.InsertTail("a"); !errors.Is(err, ErrAllocationFailed) {
		t.Fatalf("expected ErrAllocationFailed, got %v", err)
	}
	checkQueue(t, q)

	if live := tracker.Live(alloc.KindNode); live != 0 {
		t.Fatalf("expected node reservation to be undone, %d live", live)
	}

	q.Free()
	if err := tracker.Leaks(); err != nil {
		t.Fatalf("unexpected leak: %v", err)
	}
}

func TestQueueRandomOperationsMatchModel(t *testing.T) {
	rng := rand.New(rand.NewPCG(42, 99))
	tracker := memcheck.NewTracker(memcheck.WithSeed(3), memcheck.WithFailRate(10))
	q, err := New(WithAllocator(tracker))
	for err != nil {
		q, err = New(WithAllocator(tracker))
	}

	var model []string
	buf := make([]byte, 8)
	for i := 0; i < 2000; i++ {
		value := strconv.Itoa(rng.IntN(1_000_000))
		switch rng.IntN(4) {
		case 0:
			if err := q.InsertHead(value); err == nil {
				model = append([]string{value}, model...)
			} else if !errors.Is(err, ErrAllocationFailed) {
				t.Fatalf("unexpected insert error: %v", err)
			}
		case 1:
			if err := q.InsertTail(value); err == nil {
				model = append(model, value)
			} else if !errors.Is(err, ErrAllocationFailed) {
				t.Fatalf("unexpected insert error: %v", err)
			}
		case 2:
			n, err := q.RemoveHead(buf)
			if len(model) == 0 {
				if !errors.Is(err, ErrQueueEmpty) {
					t.Fatalf("expected ErrQueueEmpty, got %v", err)
				}
				continue
			}
			if err != nil {
				t.Fatalf("unexpected remove error: %v", err)
			}
			want := model[0]
			if len(want) > len(buf)-1 {
				want = want[:len(buf)-1]
			}
			if got := string(buf[:n]); got != want {
				t.Fatalf("step %d: expected %q got %q", i, want, got)
			}
			model = model[1:]
		case 3:
			q.Reverse()
			for l, r := 0, len(model)-1; l < r; l, r = l+1, r-1 {
				model[l], model[r] = model[r], model[l]
			}
		}
		checkQueue(t, q, model...)
	}

	q.Free()
	if err := tracker.Leaks(); err != nil {
		t.Fatalf("unexpected leak: %v", err)
	}
	if s := tracker.Stats(alloc.KindNode); s.Failures == 0 {
		t.Fatalf("expected some injected node failures at 10%%")
	}
}
