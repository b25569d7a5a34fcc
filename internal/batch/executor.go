package batch

import "context"

// ProgressFunc reports executor progress for the job currently being
// processed. Percent is clamped to [0,100] by the queue; regressions are
// ignored.
type ProgressFunc func(percent int, message string)

// Executor performs the actual conversion for one job. The call is
// synchronous and occupies a worker slot until it returns; it is invoked at
// most once per job and receives only the job's source descriptor plus a
// narrow progress callback, never the queue itself.
//
// The context carries cancellation (and the optional per-job deadline).
// Executors that honor it and return ctx.Err() after a stop request produce
// a Cancelled job rather than a Failed one. Failures should be tagged with
// ErrValidation, ErrProcessing, or ErrIO via Wrap; untagged errors are
// treated as processing failures.
type Executor interface {
	Execute(ctx context.Context, src Source, report ProgressFunc) (Result, error)
}

// ExecutorFunc adapts a plain function to the Executor interface.
type ExecutorFunc func(ctx context.Context, src Source, report ProgressFunc) (Result, error)

// Execute implements Executor.
func (f ExecutorFunc) Execute(ctx context.Context, src Source, report ProgressFunc) (Result, error) {
	return f(ctx, src, report)
}
