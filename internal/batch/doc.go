// Package batch schedules independent conversion jobs across a fixed number
// of concurrent execution slots.
//
// The Queue is the single source of truth for job state: every mutation goes
// through one mutex so claiming a pending job, recording progress, and
// terminal transitions stay consistent under concurrent workers. The
// Scheduler drives Concurrency worker goroutines against the queue, hands
// each claimed job to the caller-supplied Executor, and converts executor
// errors into Failed terminal states without aborting the rest of the batch.
// A dispatch goroutine fans events out to subscribed handlers in a total
// order that preserves the per-job sequence Started, Progress*, terminal.
//
// Concurrency 1 yields strictly sequential FIFO processing; higher values
// run jobs in parallel with unordered completion. There is no separate code
// path for either mode.
//
// Treat this package as the authoritative home for batch semantics; executors
// and the CLI consume it through NewQueue, NewScheduler, and the event
// catalogue and never reach into job records directly.
package batch
