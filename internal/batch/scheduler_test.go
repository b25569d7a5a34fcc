package batch_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"subbatch/internal/batch"
)

// recorder collects every published event. Handlers run on the dispatch
// goroutine; Events is only read after Wait has returned.
type recorder struct {
	mu     sync.Mutex
	events []batch.Event
}

func (r *recorder) handle(ev batch.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) all() []batch.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]batch.Event(nil), r.events...)
}

func (r *recorder) ofType(kind batch.EventType) []batch.Event {
	var out []batch.Event
	for _, ev := range r.all() {
		if ev.Type == kind {
			out = append(out, ev)
		}
	}
	return out
}

func startBatch(t *testing.T, q *batch.Queue, exec batch.Executor, opts batch.Options) (*batch.Scheduler, *recorder) {
	t.Helper()
	if opts.Concurrency == 0 {
		opts.Concurrency = 1
	}
	sched := batch.NewScheduler(q, exec, opts, nil)
	rec := &recorder{}
	if err := sched.Subscribe(rec.handle); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := sched.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return sched, rec
}

func TestSequentialBatchRunsInOrder(t *testing.T) {
	q := batch.NewQueue(nil)
	if _, err := q.EnqueueMany(newRequests("a", "b", "c")); err != nil {
		t.Fatalf("EnqueueMany: %v", err)
	}

	var mu sync.Mutex
	var order []string
	exec := batch.ExecutorFunc(func(ctx context.Context, src batch.Source, report batch.ProgressFunc) (batch.Result, error) {
		mu.Lock()
		order = append(order, src.Path)
		mu.Unlock()
		return batch.Result{OutputRef: src.Path + ".out"}, nil
	})

	sched, rec := startBatch(t, q, exec, batch.Options{Concurrency: 1})
	sched.Wait()

	want := []string{"a.srt", "b.srt", "c.srt"}
	mu.Lock()
	defer mu.Unlock()
	if len(order) != len(want) {
		t.Fatalf("executed %d jobs, want %d", len(order), len(want))
	}
	for i, path := range want {
		if order[i] != path {
			t.Fatalf("execution order %v, want %v", order, want)
		}
	}

	stats := q.Stats()
	if stats.Completed != 3 || !stats.Finished() {
		t.Fatalf("unexpected final stats: %+v", stats)
	}
	finished := rec.ofType(batch.EventBatchFinished)
	if len(finished) != 1 {
		t.Fatalf("expected exactly one batch_finished, got %d", len(finished))
	}
	if got := finished[0].Stats; got.Completed != 3 || got.Total != 3 {
		t.Fatalf("batch_finished stats: %+v", got)
	}
}

func TestConcurrencyNeverExceedsSlots(t *testing.T) {
	q := batch.NewQueue(nil)
	if _, err := q.EnqueueMany(newRequests("a", "b", "c", "d")); err != nil {
		t.Fatalf("EnqueueMany: %v", err)
	}

	var running, peak atomic.Int32
	exec := batch.ExecutorFunc(func(ctx context.Context, src batch.Source, report batch.ProgressFunc) (batch.Result, error) {
		now := running.Add(1)
		for {
			cur := peak.Load()
			if now <= cur || peak.CompareAndSwap(cur, now) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		running.Add(-1)
		return batch.Result{}, nil
	})

	sched, _ := startBatch(t, q, exec, batch.Options{Concurrency: 2})
	sched.Wait()

	if got := peak.Load(); got > 2 {
		t.Fatalf("observed %d concurrent executions, limit is 2", got)
	}
	if stats := q.Stats(); stats.Completed != 4 {
		t.Fatalf("expected 4 completed jobs: %+v", stats)
	}
}

func TestEventSequencePerJob(t *testing.T) {
	q := batch.NewQueue(nil)
	if _, err := q.Enqueue(batch.Request{ID: "a", Source: batch.Source{Path: "a.srt"}}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	exec := batch.ExecutorFunc(func(ctx context.Context, src batch.Source, report batch.ProgressFunc) (batch.Result, error) {
		report(30, "first pass")
		report(60, "second pass")
		return batch.Result{OutputRef: "a.ar.srt", Warning: "1 of 10 cues are empty"}, nil
	})

	sched, rec := startBatch(t, q, exec, batch.Options{})
	sched.Wait()

	events := rec.all()
	wantTypes := []batch.EventType{
		batch.EventJobStarted,
		batch.EventJobProgress,
		batch.EventJobProgress,
		batch.EventJobCompleted,
		batch.EventBatchProgress,
		batch.EventBatchFinished,
	}
	if len(events) != len(wantTypes) {
		t.Fatalf("got %d events, want %d: %+v", len(events), len(wantTypes), events)
	}
	for i, want := range wantTypes {
		if events[i].Type != want {
			t.Fatalf("event %d is %s, want %s", i, events[i].Type, want)
		}
	}
	if events[1].Percent != 30 || events[2].Percent != 60 {
		t.Fatalf("progress percents %d, %d", events[1].Percent, events[2].Percent)
	}
	done := events[3]
	if done.Percent != 100 || done.OutputRef != "a.ar.srt" || done.Warning == "" {
		t.Fatalf("job_completed payload: %+v", done)
	}
}

func TestProgressEventsNeverRegress(t *testing.T) {
	q := batch.NewQueue(nil)
	if _, err := q.Enqueue(batch.Request{ID: "a", Source: batch.Source{Path: "a.srt"}}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	exec := batch.ExecutorFunc(func(ctx context.Context, src batch.Source, report batch.ProgressFunc) (batch.Result, error) {
		report(50, "")
		report(20, "stale")
		report(80, "")
		return batch.Result{}, nil
	})

	sched, rec := startBatch(t, q, exec, batch.Options{})
	sched.Wait()

	progress := rec.ofType(batch.EventJobProgress)
	if len(progress) != 2 {
		t.Fatalf("expected the stale report to be dropped, got %+v", progress)
	}
	if progress[0].Percent != 50 || progress[1].Percent != 80 {
		t.Fatalf("progress percents %d, %d", progress[0].Percent, progress[1].Percent)
	}
}

func TestFailedJobKeepsClassifiedError(t *testing.T) {
	q := batch.NewQueue(nil)
	if _, err := q.EnqueueMany(newRequests("a", "b")); err != nil {
		t.Fatalf("EnqueueMany: %v", err)
	}

	exec := batch.ExecutorFunc(func(ctx context.Context, src batch.Source, report batch.ProgressFunc) (batch.Result, error) {
		if src.Path == "a.srt" {
			return batch.Result{}, batch.Wrap(batch.ErrValidation, "execute", "input is not an SRT file", nil)
		}
		return batch.Result{OutputRef: "b.out"}, nil
	})

	sched, rec := startBatch(t, q, exec, batch.Options{})
	sched.Wait()

	job, _ := q.Get("a")
	if job.Status != batch.StatusFailed {
		t.Fatalf("job a should be failed, got %s", job.Status)
	}
	if job.ErrorMessage == "" {
		t.Fatal("failed job missing error message")
	}
	failed := rec.ofType(batch.EventJobFailed)
	if len(failed) != 1 || failed[0].JobID != "a" || failed[0].Message == "" {
		t.Fatalf("job_failed event: %+v", failed)
	}

	// One failure must not stop the batch.
	if job, _ := q.Get("b"); job.Status != batch.StatusCompleted {
		t.Fatalf("job b should have completed, got %s", job.Status)
	}
}

func TestStopCancelsPendingAndDrainsRunning(t *testing.T) {
	q := batch.NewQueue(nil)
	if _, err := q.EnqueueMany(newRequests("a", "b", "c")); err != nil {
		t.Fatalf("EnqueueMany: %v", err)
	}

	started := make(chan struct{}, 1)
	release := make(chan struct{})
	exec := batch.ExecutorFunc(func(ctx context.Context, src batch.Source, report batch.ProgressFunc) (batch.Result, error) {
		started <- struct{}{}
		<-release
		return batch.Result{OutputRef: src.Path + ".out"}, nil
	})

	sched, rec := startBatch(t, q, exec, batch.Options{Concurrency: 1})
	<-started
	sched.Stop()
	sched.Stop() // idempotent
	close(release)
	sched.Wait()

	if job, _ := q.Get("a"); job.Status != batch.StatusCompleted {
		t.Fatalf("running job should drain to completion, got %s", job.Status)
	}
	for _, id := range []string{"b", "c"} {
		if job, _ := q.Get(id); job.Status != batch.StatusCancelled {
			t.Fatalf("job %s should be cancelled, got %s", id, job.Status)
		}
	}
	if got := len(rec.ofType(batch.EventJobCancelled)); got != 2 {
		t.Fatalf("expected 2 job_cancelled events, got %d", got)
	}
	finished := rec.ofType(batch.EventBatchFinished)
	if len(finished) != 1 {
		t.Fatalf("expected one batch_finished, got %d", len(finished))
	}
	if got := finished[0].Stats; got.Completed+got.Failed+got.Cancelled != got.Total {
		t.Fatalf("batch_finished stats do not add up: %+v", got)
	}
}

func TestStopInterruptsContextAwareExecutor(t *testing.T) {
	q := batch.NewQueue(nil)
	if _, err := q.EnqueueMany(newRequests("a", "b")); err != nil {
		t.Fatalf("EnqueueMany: %v", err)
	}

	started := make(chan struct{}, 1)
	exec := batch.ExecutorFunc(func(ctx context.Context, src batch.Source, report batch.ProgressFunc) (batch.Result, error) {
		started <- struct{}{}
		<-ctx.Done()
		return batch.Result{}, ctx.Err()
	})

	sched, _ := startBatch(t, q, exec, batch.Options{Concurrency: 1})
	<-started
	sched.Stop()
	sched.Wait()

	for _, id := range []string{"a", "b"} {
		if job, _ := q.Get(id); job.Status != batch.StatusCancelled {
			t.Fatalf("job %s should be cancelled after stop, got %s", id, job.Status)
		}
	}
}

func TestStopBeforeStartCancelsEverything(t *testing.T) {
	q := batch.NewQueue(nil)
	if _, err := q.EnqueueMany(newRequests("a", "b")); err != nil {
		t.Fatalf("EnqueueMany: %v", err)
	}

	exec := batch.ExecutorFunc(func(ctx context.Context, src batch.Source, report batch.ProgressFunc) (batch.Result, error) {
		t.Error("no job may execute after an early stop")
		return batch.Result{}, nil
	})

	sched := batch.NewScheduler(q, exec, batch.Options{Concurrency: 2}, nil)
	rec := &recorder{}
	if err := sched.Subscribe(rec.handle); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	sched.Stop()
	if err := sched.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	sched.Wait()

	stats := q.Stats()
	if stats.Cancelled != 2 || stats.Completed != 0 || stats.Failed != 0 {
		t.Fatalf("expected everything cancelled: %+v", stats)
	}
	if got := len(rec.ofType(batch.EventBatchFinished)); got != 1 {
		t.Fatalf("expected one batch_finished, got %d", got)
	}
}

func TestPerJobTimeoutFailsTheJob(t *testing.T) {
	q := batch.NewQueue(nil)
	if _, err := q.Enqueue(batch.Request{ID: "a", Source: batch.Source{Path: "a.srt"}}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	exec := batch.ExecutorFunc(func(ctx context.Context, src batch.Source, report batch.ProgressFunc) (batch.Result, error) {
		<-ctx.Done()
		return batch.Result{}, ctx.Err()
	})

	sched, rec := startBatch(t, q, exec, batch.Options{Concurrency: 1, PerJobTimeout: 20 * time.Millisecond})
	sched.Wait()

	job, _ := q.Get("a")
	if job.Status != batch.StatusFailed {
		t.Fatalf("timed out job should fail, got %s", job.Status)
	}
	failed := rec.ofType(batch.EventJobFailed)
	if len(failed) != 1 {
		t.Fatalf("expected one job_failed event, got %d", len(failed))
	}
	if got := failed[0].Message; !strings.Contains(got, "timeout") {
		t.Fatalf("timeout failure message %q should mention the timeout", got)
	}
}

func TestEmptyBatchFinishesImmediately(t *testing.T) {
	q := batch.NewQueue(nil)
	exec := batch.ExecutorFunc(func(ctx context.Context, src batch.Source, report batch.ProgressFunc) (batch.Result, error) {
		return batch.Result{}, nil
	})

	sched, rec := startBatch(t, q, exec, batch.Options{})
	sched.Wait()

	finished := rec.ofType(batch.EventBatchFinished)
	if len(finished) != 1 || finished[0].Stats.Total != 0 {
		t.Fatalf("empty batch should still publish batch_finished: %+v", finished)
	}
}

func TestAPIMisuseReturnsQueueError(t *testing.T) {
	q := batch.NewQueue(nil)
	if _, err := q.Enqueue(batch.Request{ID: "a", Source: batch.Source{Path: "a.srt"}}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	started := make(chan struct{}, 1)
	release := make(chan struct{})
	exec := batch.ExecutorFunc(func(ctx context.Context, src batch.Source, report batch.ProgressFunc) (batch.Result, error) {
		started <- struct{}{}
		<-release
		return batch.Result{}, nil
	})

	sched, _ := startBatch(t, q, exec, batch.Options{Concurrency: 1})
	<-started

	var qerr *batch.QueueError
	if _, err := q.Enqueue(batch.Request{ID: "b"}); !errors.As(err, &qerr) {
		t.Fatalf("enqueue during a run must fail with QueueError, got %v", err)
	}
	if err := sched.Subscribe(func(batch.Event) {}); !errors.As(err, &qerr) {
		t.Fatalf("subscribe after start must fail with QueueError, got %v", err)
	}
	if err := sched.Start(context.Background()); !errors.As(err, &qerr) {
		t.Fatalf("second start must fail with QueueError, got %v", err)
	}

	close(release)
	sched.Wait()

	// The misuse above must not have aborted the batch.
	if job, _ := q.Get("a"); job.Status != batch.StatusCompleted {
		t.Fatalf("job a should complete, got %s", job.Status)
	}
}

func TestInvalidConcurrencyRejected(t *testing.T) {
	q := batch.NewQueue(nil)
	exec := batch.ExecutorFunc(func(ctx context.Context, src batch.Source, report batch.ProgressFunc) (batch.Result, error) {
		return batch.Result{}, nil
	})
	sched := batch.NewScheduler(q, exec, batch.Options{Concurrency: 0}, nil)

	var qerr *batch.QueueError
	if err := sched.Start(context.Background()); !errors.As(err, &qerr) {
		t.Fatalf("expected QueueError for zero concurrency, got %v", err)
	}
}
