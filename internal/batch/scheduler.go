package batch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"subbatch/internal/logging"
)

const defaultEventBuffer = 64

// Options configures a scheduler run.
type Options struct {
	// Concurrency is the number of simultaneous execution slots, at least 1.
	Concurrency int
	// PerJobTimeout bounds a single executor call. Zero means unbounded.
	// An overrun surfaces as a processing failure through the normal path.
	PerJobTimeout time.Duration
	// EventBuffer sizes the dispatch channel. Zero selects a sensible
	// default.
	EventBuffer int
}

// Scheduler drives a fixed pool of workers against a queue until no pending
// job remains, then publishes EventBatchFinished exactly once.
type Scheduler struct {
	queue  *Queue
	exec   Executor
	opts   Options
	logger *slog.Logger

	mu       sync.Mutex
	handlers []Handler
	started  bool
	stopped  bool
	cancel   context.CancelFunc

	// cancelMu serializes cancelPending so a Stop in flight finishes
	// publishing its JobCancelled events before the dispatcher closes.
	cancelMu sync.Mutex

	dispatch *dispatcher
	wg       sync.WaitGroup
	done     chan struct{}
}

// NewScheduler constructs a scheduler for one batch run on the given queue.
// A nil logger falls back to a no-op.
func NewScheduler(queue *Queue, exec Executor, opts Options, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Scheduler{
		queue:  queue,
		exec:   exec,
		opts:   opts,
		logger: logging.NewComponentLogger(logger, "scheduler"),
		done:   make(chan struct{}),
	}
}

// Subscribe registers a handler for the event catalogue. Handlers must be
// registered before Start.
func (s *Scheduler) Subscribe(handler Handler) error {
	if handler == nil {
		return queueErrorf("subscribe", "handler is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return queueErrorf("subscribe", "batch already started")
	}
	s.handlers = append(s.handlers, handler)
	return nil
}

// Start begins execution and returns immediately. Starting a batch with zero
// jobs is a no-op success: EventBatchFinished is published right away.
// A second Start on the same scheduler or queue fails with a QueueError.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.queue == nil {
		return queueErrorf("start", "queue is nil")
	}
	if s.exec == nil {
		return queueErrorf("start", "executor is nil")
	}
	if s.opts.Concurrency < 1 {
		return queueErrorf("start", "concurrency must be at least 1, got %d", s.opts.Concurrency)
	}

	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return queueErrorf("start", "scheduler already started")
	}
	if err := s.queue.beginRun(); err != nil {
		s.mu.Unlock()
		return err
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.started = true
	s.cancel = cancel
	s.dispatch = newDispatcher(s.handlers, s.opts.EventBuffer)
	stoppedEarly := s.stopped
	s.mu.Unlock()

	s.logger.Info("batch started",
		logging.Int("jobs", s.queue.Len()),
		logging.Int("concurrency", s.opts.Concurrency),
	)

	if stoppedEarly {
		// Stop was requested before Start; nothing may be dispatched.
		cancel()
		s.cancelPending()
	}

	s.wg.Add(s.opts.Concurrency)
	for i := 0; i < s.opts.Concurrency; i++ {
		go s.worker(runCtx, i)
	}

	go s.finish(cancel)
	return nil
}

// Stop requests cancellation. It is idempotent: no further pending jobs are
// dispatched, still-pending jobs become cancelled, and running jobs are
// allowed to finish unless their executor honors context cancellation.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	started := s.started
	cancel := s.cancel
	s.mu.Unlock()

	if !started {
		return
	}
	cancel()
	s.cancelPending()
}

// Done is closed once EventBatchFinished has been delivered to every
// handler.
func (s *Scheduler) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until the batch has finished and event delivery has drained.
func (s *Scheduler) Wait() {
	<-s.done
}

func (s *Scheduler) stopRequested() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

func (s *Scheduler) worker(ctx context.Context, slot int) {
	defer s.wg.Done()

	logger := s.logger.With(logging.Int("slot", slot))
	for {
		if ctx.Err() != nil || s.stopRequested() {
			return
		}
		job, ok := s.queue.NextPending()
		if !ok {
			// The job set is fixed at batch start, so an empty claim
			// means this worker is finished.
			return
		}
		s.runJob(ctx, logger, job)
	}
}

func (s *Scheduler) runJob(ctx context.Context, logger *slog.Logger, job Job) {
	logger.Info("job started",
		logging.String("job_id", job.ID),
		logging.String("source", job.Source.Path),
	)
	s.dispatch.publish(Event{Type: EventJobStarted, JobID: job.ID})

	jobCtx := ctx
	cancel := func() {}
	if s.opts.PerJobTimeout > 0 {
		jobCtx, cancel = context.WithTimeout(ctx, s.opts.PerJobTimeout)
	}
	defer cancel()

	report := func(percent int, message string) {
		applied, err := s.queue.UpdateProgress(job.ID, percent, message)
		if err != nil {
			logger.Warn("progress update rejected", logging.String("job_id", job.ID), logging.Error(err))
			return
		}
		if !applied {
			return
		}
		s.dispatch.publish(Event{
			Type:    EventJobProgress,
			JobID:   job.ID,
			Percent: clampPercent(percent),
			Message: message,
		})
	}

	res, err := s.exec.Execute(jobCtx, job.Source, report)
	switch {
	case err == nil:
		s.markTerminal(logger, job.ID, func() error { return s.queue.MarkCompleted(job.ID, res) })
		logger.Info("job completed",
			logging.String("job_id", job.ID),
			logging.String("output", res.OutputRef),
		)
		s.dispatch.publish(Event{
			Type:      EventJobCompleted,
			JobID:     job.ID,
			Percent:   100,
			OutputRef: res.OutputRef,
			Warning:   res.Warning,
		})
	case errors.Is(err, context.Canceled) && s.stopRequested():
		s.markTerminal(logger, job.ID, func() error { return s.queue.MarkCancelled(job.ID) })
		logger.Info("job cancelled", logging.String("job_id", job.ID))
		s.dispatch.publish(Event{Type: EventJobCancelled, JobID: job.ID})
	case errors.Is(err, context.DeadlineExceeded) && s.opts.PerJobTimeout > 0:
		timeoutErr := Wrap(ErrProcessing, "execute", "job exceeded per-job timeout", err)
		s.markTerminal(logger, job.ID, func() error { return s.queue.MarkFailed(job.ID, timeoutErr.Error()) })
		logger.Warn("job timed out",
			logging.String("job_id", job.ID),
			logging.Duration("timeout", s.opts.PerJobTimeout),
		)
		s.dispatch.publish(Event{Type: EventJobFailed, JobID: job.ID, Message: timeoutErr.Error()})
	default:
		s.markTerminal(logger, job.ID, func() error { return s.queue.MarkFailed(job.ID, err.Error()) })
		logger.Warn("job failed",
			logging.String("job_id", job.ID),
			logging.String("class", ErrorClass(err)),
			logging.Error(err),
		)
		s.dispatch.publish(Event{Type: EventJobFailed, JobID: job.ID, Message: err.Error()})
	}

	s.dispatch.publish(Event{Type: EventBatchProgress, Stats: s.queue.Stats()})
}

func (s *Scheduler) markTerminal(logger *slog.Logger, id string, mark func() error) {
	if err := mark(); err != nil {
		logger.Error("terminal transition rejected", logging.String("job_id", id), logging.Error(err))
	}
}

// cancelPending moves every still-pending job to cancelled and publishes the
// corresponding events.
func (s *Scheduler) cancelPending() {
	s.cancelMu.Lock()
	defer s.cancelMu.Unlock()

	cancelled := s.queue.CancelPending()
	for _, job := range cancelled {
		s.dispatch.publish(Event{Type: EventJobCancelled, JobID: job.ID})
	}
	if len(cancelled) > 0 {
		s.dispatch.publish(Event{Type: EventBatchProgress, Stats: s.queue.Stats()})
	}
}

// finish waits for the workers, settles any jobs left pending by an external
// context cancellation, and publishes the final snapshot exactly once.
func (s *Scheduler) finish(cancel context.CancelFunc) {
	s.wg.Wait()
	cancel()
	s.cancelPending()
	s.queue.endRun()

	stats := s.queue.Stats()
	s.logger.Info("batch finished",
		logging.Int("total", stats.Total),
		logging.Int("completed", stats.Completed),
		logging.Int("failed", stats.Failed),
		logging.Int("cancelled", stats.Cancelled),
	)
	s.dispatch.publish(Event{Type: EventBatchFinished, Stats: stats})
	s.dispatch.close()
	<-s.dispatch.done
	close(s.done)
}
