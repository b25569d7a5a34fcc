package runner_test

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"subbatch/internal/batch"
	"subbatch/internal/history"
	"subbatch/internal/runner"
	"subbatch/internal/testsupport"
)

func requests(paths ...string) []batch.Request {
	reqs := make([]batch.Request, 0, len(paths))
	for _, path := range paths {
		reqs = append(reqs, batch.Request{ID: filepath.Base(path), Source: batch.Source{Path: path}})
	}
	return reqs
}

func TestRunExecutesEveryJob(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	var mu sync.Mutex
	var executed []string
	exec := batch.ExecutorFunc(func(ctx context.Context, src batch.Source, report batch.ProgressFunc) (batch.Result, error) {
		mu.Lock()
		executed = append(executed, src.Path)
		mu.Unlock()
		report(100, "done")
		return batch.Result{}, nil
	})

	run, err := runner.New(cfg, nil, exec, nil, nil)
	if err != nil {
		t.Fatalf("runner.New: %v", err)
	}

	var finished []batch.Event
	snap, err := run.Run(context.Background(), requests("/in/a.srt", "/in/b.srt"), func(ev batch.Event) {
		if ev.Type == batch.EventBatchFinished {
			finished = append(finished, ev)
		}
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(executed) != 2 {
		t.Fatalf("executed %d jobs, want 2", len(executed))
	}
	if snap.Stats.Completed != 2 || !snap.Stats.Finished() {
		t.Fatalf("final stats: %+v", snap.Stats)
	}
	if len(finished) != 1 {
		t.Fatalf("caller handler saw %d batch_finished events, want 1", len(finished))
	}
}

func TestRunAppliesVerificationWarning(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	output := filepath.Join(testsupport.BaseDir(cfg), "a.ar.srt")
	testsupport.WriteSRT(t, output, 4, 2)

	exec := batch.ExecutorFunc(func(ctx context.Context, src batch.Source, report batch.ProgressFunc) (batch.Result, error) {
		return batch.Result{OutputRef: output}, nil
	})

	run, err := runner.New(cfg, nil, exec, nil, nil)
	if err != nil {
		t.Fatalf("runner.New: %v", err)
	}
	snap, err := run.Run(context.Background(), requests("/in/a.srt"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	job := snap.Jobs[0]
	if job.Status != batch.StatusCompleted {
		t.Fatalf("job status %s, want completed", job.Status)
	}
	if !strings.Contains(job.Warning, "empty") {
		t.Fatalf("expected an empty-cue warning, got %q", job.Warning)
	}
}

func TestRunSkipsVerificationWhenDisabled(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Verify.Enabled = false
	output := filepath.Join(testsupport.BaseDir(cfg), "a.ar.srt")
	testsupport.WriteSRT(t, output, 4, 2)

	exec := batch.ExecutorFunc(func(ctx context.Context, src batch.Source, report batch.ProgressFunc) (batch.Result, error) {
		return batch.Result{OutputRef: output}, nil
	})

	run, err := runner.New(cfg, nil, exec, nil, nil)
	if err != nil {
		t.Fatalf("runner.New: %v", err)
	}
	snap, err := run.Run(context.Background(), requests("/in/a.srt"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if snap.Jobs[0].Warning != "" {
		t.Fatalf("verification disabled but warning set: %q", snap.Jobs[0].Warning)
	}
}

func TestRunRecordsHistory(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithHistory())
	ledger, err := history.Open(cfg.HistoryPath())
	if err != nil {
		t.Fatalf("history.Open: %v", err)
	}
	defer ledger.Close()

	exec := batch.ExecutorFunc(func(ctx context.Context, src batch.Source, report batch.ProgressFunc) (batch.Result, error) {
		return batch.Result{}, nil
	})
	run, err := runner.New(cfg, nil, exec, nil, ledger)
	if err != nil {
		t.Fatalf("runner.New: %v", err)
	}
	if _, err := run.Run(context.Background(), requests("/in/a.srt", "/in/b.srt")); err != nil {
		t.Fatalf("Run: %v", err)
	}

	runs, err := ledger.Runs(context.Background(), 0)
	if err != nil {
		t.Fatalf("Runs: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected 1 recorded run, got %d", len(runs))
	}
	if runs[0].Total != 2 || runs[0].Completed != 2 {
		t.Fatalf("recorded run: %+v", runs[0])
	}
	jobs, err := ledger.RunJobs(context.Background(), runs[0].ID)
	if err != nil {
		t.Fatalf("RunJobs: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("expected 2 job rows, got %d", len(jobs))
	}
}

func TestRunCancelsOnContext(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	started := make(chan struct{}, 1)
	exec := batch.ExecutorFunc(func(ctx context.Context, src batch.Source, report batch.ProgressFunc) (batch.Result, error) {
		started <- struct{}{}
		<-ctx.Done()
		return batch.Result{}, ctx.Err()
	})

	run, err := runner.New(cfg, nil, exec, nil, nil)
	if err != nil {
		t.Fatalf("runner.New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	snap, err := run.Run(ctx, requests("/in/a.srt", "/in/b.srt", "/in/c.srt"))
	if err != nil {
		t.Fatalf("an interrupted run should still return a snapshot: %v", err)
	}
	if snap.Stats.Cancelled != 3 {
		t.Fatalf("expected every job cancelled: %+v", snap.Stats)
	}
}

func TestRunRejectsConcurrentRuns(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	exec := batch.ExecutorFunc(func(ctx context.Context, src batch.Source, report batch.ProgressFunc) (batch.Result, error) {
		started <- struct{}{}
		<-release
		return batch.Result{}, nil
	})

	first, err := runner.New(cfg, nil, exec, nil, nil)
	if err != nil {
		t.Fatalf("runner.New: %v", err)
	}
	done := make(chan error, 1)
	go func() {
		_, err := first.Run(context.Background(), requests("/in/a.srt"))
		done <- err
	}()
	<-started

	second, err := runner.New(cfg, nil, exec, nil, nil)
	if err != nil {
		t.Fatalf("runner.New: %v", err)
	}
	if _, err := second.Run(context.Background(), requests("/in/b.srt")); err == nil {
		t.Fatal("second run on the same work dir must fail")
	} else if !strings.Contains(err.Error(), "another subbatch run") {
		t.Fatalf("unexpected error: %v", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first run failed: %v", err)
	}

	// The lock is released; a fresh run succeeds.
	if _, err := second.Run(context.Background(), requests("/in/c.srt")); err != nil {
		t.Fatalf("run after release: %v", err)
	}
}
