package scheduler

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// --------------------------------------------------------------------------
// Lock-free submission queue
// --------------------------------------------------------------------------

/*
	The submission queue is a lock-free multi-producer single-consumer linked list.
	Any number of callers push tasks concurrently without taking a lock; a single
	dispatcher goroutine drains the list into the channel the workers read from.

	Ordering: under concurrent Push() the order is decided by which producer wins the
	CAS on the tail, not by which producer started first.
*/

// node is a single element in the queue
type node[T any] struct {
	value *T
	next  atomic.Pointer[node[T]]
}

// mpscQueue is a lock-free multi-producer single-consumer queue
type mpscQueue[T any] struct {
	head   atomic.Pointer[node[T]]
	tail   atomic.Pointer[node[T]]
	out    chan *T
	closed atomic.Bool
	length atomic.Int64

	// the consumer sleeps on cond when the list is empty
	mu   sync.Mutex
	cond *sync.Cond
}

// newMPSCQueue creates the queue and starts its consumer goroutine
func newMPSCQueue[T any]() *mpscQueue[T] {
	sentinel := &node[T]{}

	q := &mpscQueue[T]{
		out: make(chan *T),
	}
	q.cond = sync.NewCond(&q.mu)
	q.head.Store(sentinel)
	q.tail.Store(sentinel)

	go q.consume()

	return q
}

// push appends value to the queue.
// Returns false if value is nil or the queue is closed.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (q *mpscQueue[T]) push(value *T) bool {
	if value == nil || q.closed.Load() {
		return false
	}

	newNode := &node[T]{value: value}

	var backoff uint8
	for {
		tailNode := q.tail.Load()
		next := tailNode.next.Load()

		if next == nil {
			if tailNode.next.CompareAndSwap(nil, newNode) {
				// another producer may already have advanced the tail, that is fine
				q.tail.CompareAndSwap(tailNode, newNode)
				q.length.Add(1)

				// signal under the lock so the wakeup cannot slip in between the
				// consumer's emptiness check and its Wait
				q.mu.Lock()
				q.cond.Signal()
				q.mu.Unlock()
				return true
			}
		} else {
			// help a producer that appended but did not move the tail yet
			q.tail.CompareAndSwap(tailNode, next)
		}

		// exponential backoff: spin at low contention, yield at high contention
		if backoff < 10 {
			backoff++
			for i := 0; i < 1<<backoff; i++ {
				runtime.Gosched()
			}
		}
		runtime.Gosched()
	}
}

// consume moves items from the list into the output channel until the queue is closed and drained
func (q *mpscQueue[T]) consume() {
	defer close(q.out)

	for {
		drained := false
		for {
			head := q.head.Load()
			next := head.next.Load()
			if next == nil {
				break
			}
			drained = true

			value := next.value
			q.head.Store(next)
			q.length.Add(-1)
			q.out <- value
			next.value = nil
		}

		if drained {
			continue
		}

		q.mu.Lock()
		if q.head.Load().next.Load() == nil {
			if q.closed.Load() {
				q.mu.Unlock()
				return
			}
			q.cond.Wait()
		}
		q.mu.Unlock()
	}
}

// recv returns the channel the consumer delivers items on.
// The channel is closed once the queue is closed and all items were delivered.
func (q *mpscQueue[T]) recv() <-chan *T {
	return q.out
}

// close stops accepting new items. Items already queued are still delivered.
func (q *mpscQueue[T]) close() {
	q.closed.Store(true)

	q.mu.Lock()
	q.cond.Signal()
	q.mu.Unlock()
}

// len returns the number of queued, not yet delivered items
func (q *mpscQueue[T]) len() int {
	return int(q.length.Load())
}
