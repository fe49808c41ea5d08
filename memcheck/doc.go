// Package memcheck provides a tracking allocator for stringqueue.
//
// A Tracker records every reservation and release a queue makes, so tests and
// the qtest driver can prove that all storage owned by a queue was returned
// once the queue is freed. It can also refuse reservations, either for the
// next n calls or at a seeded random rate, to exercise the failure paths of
// the insert operations. A queue must leave no partial reservation behind when
// an insertion fails.
//
// A Tracker is meant to be used by a single goroutine together with the queue
// it is attached to. Its counters are atomics so that statistics can be read
// from elsewhere.
package memcheck
