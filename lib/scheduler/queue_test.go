package scheduler

import (
	"sync"
	"testing"
	"time"
)

// TestQueueBasicOperations tests push and receive on a single goroutine
func TestQueueBasicOperations(t *testing.T) {
	q := newMPSCQueue[int]()
	defer q.close()

	for i := 0; i < 10; i++ {
		v := i
		if !q.push(&v) {
			t.Fatalf("Failed to push item %d", i)
		}
	}

	for i := 0; i < 10; i++ {
		select {
		case val := <-q.recv():
			if *val != i {
				t.Errorf("Expected %d, got %d", i, *val)
			}
		case <-time.After(time.Second):
			t.Fatalf("Timeout waiting for item %d", i)
		}
	}

	select {
	case val := <-q.recv():
		t.Errorf("Queue should be empty, but got %v", *val)
	case <-time.After(10 * time.Millisecond):
	}
}

// TestQueueConcurrentProducers verifies no item is lost or duplicated under contention
func TestQueueConcurrentProducers(t *testing.T) {
	q := newMPSCQueue[int]()
	defer q.close()

	const numProducers = 10
	const itemsPerProducer = 1000
	total := numProducers * itemsPerProducer

	var wg sync.WaitGroup
	wg.Add(numProducers)
	for p := 0; p < numProducers; p++ {
		go func(producer int) {
			defer wg.Done()
			for i := 0; i < itemsPerProducer; i++ {
				v := producer*itemsPerProducer + i
				if !q.push(&v) {
					t.Errorf("Producer %d failed to push item %d", producer, i)
				}
			}
		}(p)
	}

	seen := make(map[int]bool, total)
	for len(seen) < total {
		select {
		case val := <-q.recv():
			if seen[*val] {
				t.Fatalf("Duplicate item received: %d", *val)
			}
			seen[*val] = true
		case <-time.After(5 * time.Second):
			t.Fatalf("Timeout, received %d of %d", len(seen), total)
		}
	}

	wg.Wait()
}

// TestQueueCloseDrains verifies queued items are delivered after close and the channel is closed
func TestQueueCloseDrains(t *testing.T) {
	q := newMPSCQueue[int]()

	for i := 0; i < 5; i++ {
		v := i
		q.push(&v)
	}
	q.close()

	v := 42
	if q.push(&v) {
		t.Errorf("push after close should fail")
	}

	count := 0
	timeout := time.After(time.Second)
	for {
		select {
		case _, ok := <-q.recv():
			if !ok {
				if count != 5 {
					t.Errorf("Expected 5 items before close, got %d", count)
				}
				return
			}
			count++
		case <-timeout:
			t.Fatalf("Timeout waiting for channel close")
		}
	}
}

// TestQueuePushNil verifies nil values are rejected
func TestQueuePushNil(t *testing.T) {
	q := newMPSCQueue[int]()
	defer q.close()

	if q.push(nil) {
		t.Errorf("push(nil) should fail")
	}
	if q.len() != 0 {
		t.Errorf("Expected empty queue, got %d", q.len())
	}
}

func BenchmarkQueueMultiProducer(b *testing.B) {
	q := newMPSCQueue[int]()
	defer q.close()

	go func() {
		for range q.recv() {
		}
	}()

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		v := 1
		for pb.Next() {
			q.push(&v)
		}
	})
}
