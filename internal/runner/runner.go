package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"subbatch/internal/batch"
	"subbatch/internal/config"
	"subbatch/internal/history"
	"subbatch/internal/logging"
	"subbatch/internal/notifications"
	"subbatch/internal/verify"
)

// Runner executes batches against a fixed configuration.
type Runner struct {
	cfg      *config.Config
	logger   *slog.Logger
	exec     batch.Executor
	notifier notifications.Service
	ledger   *history.Store

	lockPath string
	lock     *flock.Flock
}

// New constructs a runner. The ledger may be nil when history recording is
// disabled; a nil logger falls back to a no-op.
func New(cfg *config.Config, logger *slog.Logger, exec batch.Executor, notifier notifications.Service, ledger *history.Store) (*Runner, error) {
	if cfg == nil {
		return nil, errors.New("runner requires config")
	}
	if exec == nil {
		return nil, errors.New("runner requires an executor")
	}
	if notifier == nil {
		notifier = notifications.NewService(cfg)
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	lockPath := filepath.Join(cfg.Paths.WorkDir, "subbatch.lock")
	return &Runner{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "runner"),
		exec:     exec,
		notifier: notifier,
		ledger:   ledger,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}, nil
}

// Run executes one batch over the given requests and blocks until every job
// has reached a terminal state. Cancelling ctx triggers the cooperative stop
// sequence: pending jobs are cancelled and running jobs are interrupted
// through their executor context. Extra handlers are subscribed before the
// batch starts.
func (r *Runner) Run(ctx context.Context, reqs []batch.Request, handlers ...batch.Handler) (batch.Snapshot, error) {
	if err := r.cfg.EnsureDirectories(); err != nil {
		return batch.Snapshot{}, err
	}

	locked, err := r.lock.TryLock()
	if err != nil {
		return batch.Snapshot{}, fmt.Errorf("acquire work dir lock: %w", err)
	}
	if !locked {
		return batch.Snapshot{}, fmt.Errorf("another subbatch run is using %s", r.cfg.Paths.WorkDir)
	}
	defer func() {
		if err := r.lock.Unlock(); err != nil {
			r.logger.Warn("failed to release work dir lock", logging.Error(err))
		}
	}()

	queue := batch.NewQueue(r.logger)
	if _, err := queue.EnqueueMany(reqs); err != nil {
		return batch.Snapshot{}, err
	}

	exec := r.exec
	if r.cfg.Verify.Enabled {
		exec = verifyingExecutor{inner: exec}
	}

	sched := batch.NewScheduler(queue, exec, batch.Options{
		Concurrency:   r.cfg.Batch.Concurrency,
		PerJobTimeout: time.Duration(r.cfg.Batch.PerJobTimeout) * time.Second,
		EventBuffer:   r.cfg.Batch.EventBuffer,
	}, r.logger)

	if err := sched.Subscribe(r.notificationHandler(queue)); err != nil {
		return batch.Snapshot{}, err
	}
	for _, handler := range handlers {
		if err := sched.Subscribe(handler); err != nil {
			return batch.Snapshot{}, err
		}
	}

	startedAt := time.Now().UTC()
	if err := r.notifier.NotifyBatchStarted(ctx, len(reqs), r.cfg.Batch.Concurrency); err != nil {
		r.logger.Warn("batch start notification failed", logging.Error(err))
	}

	// The scheduler owns its run context; the parent ctx is translated into
	// a cooperative Stop so interrupted runs settle as cancelled rather
	// than failed.
	if err := sched.Start(context.WithoutCancel(ctx)); err != nil {
		return batch.Snapshot{}, err
	}
	finished := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			r.logger.Info("stop requested; draining running jobs")
			sched.Stop()
		case <-finished:
		}
	}()
	sched.Wait()
	close(finished)

	snap := queue.Snapshot()
	duration := time.Since(startedAt)
	if err := r.notifier.NotifyBatchCompleted(context.WithoutCancel(ctx), snap.Stats, duration); err != nil {
		r.logger.Warn("batch completion notification failed", logging.Error(err))
	}

	if r.ledger != nil {
		runID, err := r.ledger.RecordRun(context.WithoutCancel(ctx), startedAt, time.Now().UTC(), r.cfg.Batch.Concurrency, snap)
		if err != nil {
			r.logger.Warn("failed to record run in history", logging.Error(err))
		} else {
			r.logger.Debug("run recorded", logging.Int64("run_id", runID))
		}
	}

	return snap, nil
}

// notificationHandler forwards job failures to the notifier as they happen.
func (r *Runner) notificationHandler(queue *batch.Queue) batch.Handler {
	return func(ev batch.Event) {
		if ev.Type != batch.EventJobFailed {
			return
		}
		sourcePath := ev.JobID
		if job, ok := queue.Get(ev.JobID); ok {
			sourcePath = job.Source.Path
		}
		if err := r.notifier.NotifyJobFailed(context.Background(), sourcePath, ev.Message); err != nil {
			r.logger.Warn("job failure notification failed", logging.Error(err))
		}
	}
}

// verifyingExecutor downgrades successful jobs with incomplete SRT outputs
// to completed-with-warning.
type verifyingExecutor struct {
	inner batch.Executor
}

func (v verifyingExecutor) Execute(ctx context.Context, src batch.Source, report batch.ProgressFunc) (batch.Result, error) {
	res, err := v.inner.Execute(ctx, src, report)
	if err != nil {
		return res, err
	}
	if res.Warning != "" || res.OutputRef == "" {
		return res, nil
	}
	fileReport, verr := verify.VerifyFile(res.OutputRef)
	if verr != nil {
		res.Warning = fmt.Sprintf("output verification failed: %v", verr)
		return res, nil
	}
	res.Warning = fileReport.Warning()
	return res, nil
}
