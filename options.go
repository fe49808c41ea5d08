package stringqueue

import "github.com/timzifer/stringqueue/internal/alloc"

type (
	// Allocator accounts for the storage owned by a queue. See WithAllocator.
	Allocator = alloc.Allocator
	// AllocKind identifies what a reservation is for.
	AllocKind = alloc.Kind
)

// Reservation kinds passed to an Allocator.
const (
	KindQueue  = alloc.KindQueue
	KindNode   = alloc.KindNode
	KindString = alloc.KindString
)

type options struct {
	allocator Allocator
}

// Option configures a Queue created by New.
type Option func(*options)

// WithAllocator routes every reservation and release of the queue through a.
// A nil allocator keeps the default.
func WithAllocator(a Allocator) Option {
	return func(opts *options) {
		if a != nil {
			opts.allocator = a
		}
	}
}

func defaultOptions() options {
	return options{
		allocator: alloc.Heap{},
	}
}
