// Package workqueue implements the per-worker work queue: a
// multi-producer, single-consumer FIFO with a wait-free enqueue side
// (a linked queue that producers append to with one atomic swap of the
// tail pointer) and a consumer side
// that polls at a fixed interval when the queue is empty, since no
// wakeup primitive backs the non-empty transition.
package workqueue

import (
	"sync/atomic"
	"time"
)

// Work is one unit dispatched to a worker: a candidate pair of keys to
// look up in the "all" view, or a shutdown sentinel.
type Work struct {
	FirstKey  uint64
	SecondKey uint64
	Exit      bool
}

type node struct {
	next atomic.Pointer[node]
	item Work
}

// DefaultPollInterval is the default polling period a consumer sleeps
// for between empty-queue checks.
const DefaultPollInterval = 100 * time.Millisecond

// Queue is a multi-producer, single-consumer FIFO of Work items. The
// zero value is not usable; use New. Only one goroutine may ever call
// TryDequeue/Dequeue on a given Queue — the queue's lock-free dequeue path
// assumes a single consumer and takes no lock of its own to enforce
// that.
type Queue struct {
	head *node // consumer-owned; never touched by a producer
	tail atomic.Pointer[node]

	pollInterval time.Duration
}

// New returns an empty queue. pollInterval overrides DefaultPollInterval
// when nonzero (tests shrink it to keep cases fast).
func New(pollInterval time.Duration) *Queue {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	sentinel := &node{}
	q := &Queue{head: sentinel, pollInterval: pollInterval}
	q.tail.Store(sentinel)
	return q
}

// Enqueue appends w to the tail. Wait-free: a producer swaps its node
// in as the new tail and then links the previous tail to it — two
// atomic steps, no retry loop — so concurrent producers never wait on
// one another. Until the link is stored the consumer sees the queue
// end at the previous node and simply finds the item on a later poll.
func (q *Queue) Enqueue(w Work) {
	n := &node{item: w}
	prev := q.tail.Swap(n)
	prev.next.Store(n)
}

// TryDequeue removes and returns the head item without blocking,
// reporting false if the queue was empty. Only the single designated
// consumer goroutine may call this.
func (q *Queue) TryDequeue() (Work, bool) {
	next := q.head.next.Load()
	if next == nil {
		return Work{}, false
	}
	q.head = next
	return next.item, true
}

// Dequeue blocks, polling at the configured interval, until an item is
// available, then returns it.
func (q *Queue) Dequeue() Work {
	for {
		if w, ok := q.TryDequeue(); ok {
			return w
		}
		time.Sleep(q.pollInterval)
	}
}
