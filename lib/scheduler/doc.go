/*
Package scheduler runs blocking work off the caller.

Every operation of the native module is declared with a Class. ClassNormal operations are
cheap and run on the calling goroutine. ClassDirtyIO operations may block on disk I/O
(fsync, page faults, file creation) and are executed by a Pool: a fixed set of workers,
each locked to its own OS thread, fed by a lock-free multi-producer single-consumer queue.

# Usage

	pool := scheduler.NewPool(scheduler.Options{Workers: 10})
	defer pool.Close()

	value, err := scheduler.Run(ctx, pool, func() ([]byte, error) {
		return tree.Get(key)
	})

# Cancellation

Run checks ctx before submitting. If ctx is already done the work is never dispatched.
Once a task was dispatched it runs to completion: a caller whose ctx ends first
receives ctx.Err() and the result is discarded. RunOrDiscard additionally passes such a
result to a callback so held resources (for example a freshly opened database) can be
released.

# Metrics

The pool reports to a VictoriaMetrics metrics.Set:

  - nkv_scheduler_tasks_total: submitted tasks
  - nkv_scheduler_tasks_discarded_total: results nobody waited for
  - nkv_scheduler_task_panics_total: tasks that panicked
  - nkv_scheduler_queue_wait_seconds: time between submission and start
  - nkv_scheduler_task_duration_seconds: execution time
  - nkv_scheduler_queue_length, nkv_scheduler_busy_workers: gauges
*/
package scheduler
