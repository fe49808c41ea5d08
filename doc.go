// Package stringqueue provides a queue of strings backed by a singly-linked
// list.
//
// Values can be inserted at the head (LIFO order) or at the tail (FIFO order)
// in constant time and are removed from the head into a caller supplied
// buffer. The queue keeps its element count, so Size never walks the list, and
// Reverse relinks the existing nodes without allocating.
//
// Every node and every copied string is reserved through an Allocator. The
// default relies on the Go runtime; memcheck.Tracker records reservations and
// can refuse them to exercise the failure paths. A failed operation never
// leaves the queue partially modified.
package stringqueue
