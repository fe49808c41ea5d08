package alloc

// Kind identifies what a reservation is for.
type Kind int

const (
	// KindQueue is the queue header reserved by New.
	KindQueue Kind = iota
	// KindNode is one list node.
	KindNode
	// KindString is the copy of an inserted value, including a terminator byte.
	KindString
)

func (k Kind) String() string {
	switch k {
	case KindQueue:
		return "queue"
	case KindNode:
		return "node"
	case KindString:
		return "string"
	default:
		return "unknown"
	}
}

// Allocator accounts for every piece of storage a queue owns.
//
// Alloc is called before the storage is created and may refuse it; Release is
// called exactly once for every successful Alloc with the same kind and size.
type Allocator interface {
	Alloc(kind Kind, size int) error
	Release(kind Kind, size int)
}

// Heap is the default allocator. It relies on the Go runtime and never fails.
type Heap struct{}

// Alloc always succeeds.
func (Heap) Alloc(Kind, int) error { return nil }

// Release does nothing; the garbage collector reclaims the storage.
func (Heap) Release(Kind, int) {}
