package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/sourcegraph/conc/panics"
)

var Logger = logger.GetLogger("scheduler")

var (
	// ErrPoolClosed is returned when work is submitted to a closed pool
	ErrPoolClosed = errors.New("scheduler: pool is closed")

	// ErrNotDispatched wraps the error of a Run call whose function never ran
	ErrNotDispatched = errors.New("scheduler: task not dispatched")
)

// DefaultWorkers is the number of blocking workers used when Options.Workers is not set
const DefaultWorkers = 10

// --------------------------------------------------------------------------
// Scheduling Classes
// --------------------------------------------------------------------------

// Class declares where an operation may run
type Class uint8

const (
	ClassNormal  Class = iota // cheap, never blocks: runs on the caller
	ClassDirtyIO              // may block on disk I/O: runs on the blocking pool
)

func (c Class) String() string {
	switch c {
	case ClassNormal:
		return "normal"
	case ClassDirtyIO:
		return "dirty_io"
	default:
		return "unknown"
	}
}

// --------------------------------------------------------------------------
// Pool
// --------------------------------------------------------------------------

// Options configures a Pool
type Options struct {
	Workers int          // number of blocking workers (0 = DefaultWorkers)
	Metrics *metrics.Set // metric set to register pool metrics in (nil = private set)
}

type task struct {
	fn       func()
	enqueued time.Time
}

// Pool runs blocking work on a fixed set of workers, each locked to its own OS thread.
// Callers hand work to the pool and wait for it without occupying a worker themselves.
type Pool struct {
	queue   *mpscQueue[task]
	workers int
	wg      sync.WaitGroup

	// mu guards closed against concurrent submissions, it never wraps the work itself
	mu     sync.RWMutex
	closed bool

	busy      atomic.Int64
	metrics   *metrics.Set
	submitted *metrics.Counter
	discarded *metrics.Counter
	panicked  *metrics.Counter
	waitTime  *metrics.Histogram
	runTime   *metrics.Histogram
}

// NewPool creates a pool and starts its workers
func NewPool(opts Options) *Pool {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewSet()
	}

	p := &Pool{
		queue:     newMPSCQueue[task](),
		workers:   opts.Workers,
		metrics:   opts.Metrics,
		submitted: opts.Metrics.NewCounter("nkv_scheduler_tasks_total"),
		discarded: opts.Metrics.NewCounter("nkv_scheduler_tasks_discarded_total"),
		panicked:  opts.Metrics.NewCounter("nkv_scheduler_task_panics_total"),
		waitTime:  opts.Metrics.NewHistogram("nkv_scheduler_queue_wait_seconds"),
		runTime:   opts.Metrics.NewHistogram("nkv_scheduler_task_duration_seconds"),
	}
	opts.Metrics.NewGauge("nkv_scheduler_queue_length", func() float64 {
		return float64(p.queue.len())
	})
	opts.Metrics.NewGauge("nkv_scheduler_busy_workers", func() float64 {
		return float64(p.busy.Load())
	})

	p.wg.Add(opts.Workers)
	for i := 0; i < opts.Workers; i++ {
		go p.worker()
	}

	Logger.Debugf("started blocking pool with %d workers", opts.Workers)
	return p
}

// worker executes tasks until the queue is closed and drained
func (p *Pool) worker() {
	defer p.wg.Done()

	// blocking syscalls of this worker never stall a thread that runs other goroutines
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	for t := range p.queue.recv() {
		p.waitTime.UpdateDuration(t.enqueued)
		p.busy.Add(1)
		start := time.Now()

		var pc panics.Catcher
		pc.Try(t.fn)
		if r := pc.Recovered(); r != nil {
			p.panicked.Inc()
			Logger.Errorf("task panicked: %v\n%s", r.Value, r.Stack)
		}

		p.runTime.UpdateDuration(start)
		p.busy.Add(-1)
	}
}

// Submit queues fn for execution on a worker.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (p *Pool) Submit(fn func()) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrPoolClosed
	}
	if !p.queue.push(&task{fn: fn, enqueued: time.Now()}) {
		return ErrPoolClosed
	}
	p.submitted.Inc()
	return nil
}

// Close stops accepting work, waits for queued work to finish and stops the workers.
// Calling Close more than once is a no-op.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.queue.close()
	p.mu.Unlock()

	p.wg.Wait()
	Logger.Debugf("blocking pool stopped")
}

// Workers returns the number of workers
func (p *Pool) Workers() int {
	return p.workers
}

// Pending returns the number of queued tasks that no worker picked up yet
func (p *Pool) Pending() int {
	return p.queue.len()
}

// Metrics returns the metric set the pool reports to
func (p *Pool) Metrics() *metrics.Set {
	return p.metrics
}

// --------------------------------------------------------------------------
// Blocking operations
// --------------------------------------------------------------------------

// Run executes fn on the pool and waits for its result.
// See RunOrDiscard for cancellation semantics.
func Run[T any](ctx context.Context, p *Pool, fn func() (T, error)) (T, error) {
	return RunOrDiscard(ctx, p, fn, nil)
}

// RunOrDiscard executes fn on the pool and waits for its result or for ctx to be done.
//
// If ctx is already done or the pool is closed, fn is not dispatched and the returned
// error wraps ErrNotDispatched. Once dispatched, fn always runs to completion: when ctx
// is done first the caller gets ctx.Err() and the result is handed to discard (if not
// nil) so that resources it holds can be released.
func RunOrDiscard[T any](ctx context.Context, p *Pool, fn func() (T, error), discard func(T)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, fmt.Errorf("%w: %w", ErrNotDispatched, err)
	}

	type outcome struct {
		value T
		err   error
	}

	const (
		statePending int32 = iota
		stateDelivered
		stateAbandoned
	)

	var state atomic.Int32
	done := make(chan outcome, 1)

	err := p.Submit(func() {
		var o outcome
		var pc panics.Catcher
		pc.Try(func() { o.value, o.err = fn() })
		if r := pc.Recovered(); r != nil {
			o = outcome{err: r.AsError()}
		}

		if state.CompareAndSwap(statePending, stateDelivered) {
			done <- o
			return
		}

		// the caller gave up waiting
		p.discarded.Inc()
		if discard != nil && o.err == nil {
			discard(o.value)
		}
	})
	if err != nil {
		return zero, fmt.Errorf("%w: %w", ErrNotDispatched, err)
	}

	select {
	case o := <-done:
		return o.value, o.err
	case <-ctx.Done():
		if state.CompareAndSwap(statePending, stateAbandoned) {
			return zero, ctx.Err()
		}
		// the result was delivered concurrently with the cancellation
		o := <-done
		return o.value, o.err
	}
}
