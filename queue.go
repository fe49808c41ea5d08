package stringqueue

import (
	"strings"
	"unsafe"

	"github.com/pkg/errors"
	"github.com/timzifer/stringqueue/internal/alloc"
)

const (
	queueSize = int(unsafe.Sizeof(Queue{}))
	nodeSize  = int(unsafe.Sizeof(node{}))
)

type node struct {
	value string
	next  *node
}

// Queue is a singly-linked queue of strings with O(1) insertion at both ends
// and O(1) removal at the head.
//
// A Queue is not safe for concurrent use.
type Queue struct {
	head      *node
	tail      *node
	size      int
	allocator Allocator
	freed     bool
}

// New creates an empty queue. It fails with ErrAllocationFailed if the
// configured allocator refuses the queue header.
func New(opts ...Option) (*Queue, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	if err := o.allocator.Alloc(alloc.KindQueue, queueSize); err != nil {
		return nil, errors.Wrapf(ErrAllocationFailed, "queue header: %v", err)
	}

	return &Queue{allocator: o.allocator}, nil
}

// Free releases every element and the queue itself. Calling Free on a nil or
// already freed queue does nothing. A freed queue rejects further insertions.
func (q *Queue) Free() {
	if q == nil || q.freed {
		return
	}

	var next *node
	for cur := q.head; cur != nil; cur = next {
		next = cur.next
		q.releaseNode(cur)
	}

	q.head = nil
	q.tail = nil
	q.size = 0
	q.freed = true
	q.allocator.Release(alloc.KindQueue, queueSize)
}

// InsertHead stores a copy of s in front of the current head.
func (q *Queue) InsertHead(s string) error {
	if !q.usable() {
		return errors.Wrap(ErrInvalidArgument, "insert head: nil or freed queue")
	}

	n, err := q.newNode(s)
	if err != nil {
		return errors.WithMessage(err, "insert head")
	}

	n.next = q.head
	q.head = n
	if q.size == 0 {
		q.tail = n
	}
	q.size++
	return nil
}

// InsertTail stores a copy of s after the current tail without traversing the
// list. On an empty queue the new node becomes both head and tail.
func (q *Queue) InsertTail(s string) error {
	if !q.usable() {
		return errors.Wrap(ErrInvalidArgument, "insert tail: nil or freed queue")
	}

	n, err := q.newNode(s)
	if err != nil {
		return errors.WithMessage(err, "insert tail")
	}

	if q.size == 0 {
		q.head = n
	} else {
		q.tail.next = n
	}
	q.tail = n
	q.size++
	return nil
}

// RemoveHead detaches the head element and copies its value into buf.
//
// At most len(buf)-1 bytes are copied and a zero byte is written right after
// them; longer values are truncated silently. The returned count excludes the
// terminator. On failure neither the queue nor buf is modified.
func (q *Queue) RemoveHead(buf []byte) (int, error) {
	if !q.usable() {
		return 0, errors.Wrap(ErrInvalidArgument, "remove head: nil or freed queue")
	}
	if len(buf) < 1 {
		return 0, errors.Wrapf(ErrInvalidArgument, "remove head: buffer length %d", len(buf))
	}
	if q.size == 0 {
		return 0, errors.WithStack(ErrQueueEmpty)
	}

	head := q.head
	q.head = head.next
	q.size--
	if q.size == 0 {
		q.tail = nil
	}

	written := copy(buf[:len(buf)-1], head.value)
	buf[written] = 0

	q.releaseNode(head)
	return written, nil
}

// Size returns the number of elements, or 0 for a nil queue.
func (q *Queue) Size() int {
	if q == nil {
		return 0
	}
	return q.size
}

// Reverse reverses the element order in place by relinking the existing
// nodes. It never allocates.
func (q *Queue) Reverse() {
	if q == nil || q.size <= 1 {
		return
	}

	var prev *node
	cur := q.head
	for cur != nil {
		next := cur.next
		cur.next = prev
		prev = cur
		cur = next
	}

	q.head, q.tail = q.tail, q.head
}

func (q *Queue) usable() bool {
	return q != nil && !q.freed
}

// newNode reserves a node and its string copy, undoing the node reservation
// if the string cannot be reserved.
func (q *Queue) newNode(s string) (*node, error) {
	if err := q.allocator.Alloc(alloc.KindNode, nodeSize); err != nil {
		return nil, errors.Wrapf(ErrAllocationFailed, "node: %v", err)
	}
	if err := q.allocator.Alloc(alloc.KindString, len(s)+1); err != nil {
		q.allocator.Release(alloc.KindNode, nodeSize)
		return nil, errors.Wrapf(ErrAllocationFailed, "string of %d bytes: %v", len(s), err)
	}

	return &node{value: strings.Clone(s)}, nil
}

func (q *Queue) releaseNode(n *node) {
	q.allocator.Release(alloc.KindString, len(n.value)+1)
	q.allocator.Release(alloc.KindNode, nodeSize)
	n.value = ""
	n.next = nil
}
