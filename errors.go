package stringqueue

import "github.com/pkg/errors"

var (
	// ErrInvalidArgument is returned for a nil or freed queue, an unusable
	// output buffer, or a removal from an empty queue.
	ErrInvalidArgument = errors.New("stringqueue: invalid argument")
	// ErrQueueEmpty is returned by RemoveHead on an empty queue. It wraps
	// ErrInvalidArgument.
	ErrQueueEmpty = errors.Wrap(ErrInvalidArgument, "queue is empty")
	// ErrAllocationFailed is returned when the allocator refuses a reservation.
	ErrAllocationFailed = errors.New("stringqueue: allocation failed")
)
