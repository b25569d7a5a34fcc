package batch

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"subbatch/internal/logging"
)

// Queue is the single source of truth for all jobs in one batch run. Every
// mutation serializes through one mutex; workers never touch each other's
// records and only ever receive copies.
type Queue struct {
	mu      sync.Mutex
	logger  *slog.Logger
	jobs    []*Job
	byID    map[string]*Job
	running bool
}

// NewQueue constructs an empty queue. A nil logger falls back to a no-op.
func NewQueue(logger *slog.Logger) *Queue {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Queue{
		logger: logging.NewComponentLogger(logger, "queue"),
		byID:   make(map[string]*Job),
	}
}

// Enqueue adds one pending job and returns its id. The request id is used
// verbatim when set; otherwise a UUID is assigned. Fails with a QueueError
// while a batch is running on this queue instance.
func (q *Queue) Enqueue(req Request) (string, error) {
	ids, err := q.EnqueueMany([]Request{req})
	if err != nil {
		return "", err
	}
	return ids[0], nil
}

// EnqueueMany adds jobs in pending state preserving the given order. The call
// is atomic: either every request is accepted or none is, so a duplicate id
// in the middle of a batch cannot leave a partial insert behind.
func (q *Queue) EnqueueMany(reqs []Request) ([]string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.running {
		return nil, queueErrorf("enqueue", "batch is running; enqueue is not allowed until it finishes")
	}

	ids := make([]string, 0, len(reqs))
	seen := make(map[string]struct{}, len(reqs))
	for _, req := range reqs {
		id := req.ID
		if id == "" {
			id = uuid.NewString()
		}
		if _, dup := seen[id]; dup {
			return nil, queueErrorf("enqueue", "duplicate job id %q in request", id)
		}
		if _, exists := q.byID[id]; exists {
			return nil, queueErrorf("enqueue", "job id %q already present in queue", id)
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}

	now := time.Now().UTC()
	for i, req := range reqs {
		job := &Job{
			ID:        ids[i],
			Source:    req.Source,
			Status:    StatusPending,
			CreatedAt: now,
		}
		q.jobs = append(q.jobs, job)
		q.byID[job.ID] = job
	}
	return ids, nil
}

// NextPending atomically claims the oldest pending job: it transitions the
// job to running, stamps StartedAt, and returns a copy. The second return is
// false when no pending job remains. Two concurrent callers never receive
// the same job.
func (q *Queue) NextPending() (Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, job := range q.jobs {
		if job.Status != StatusPending {
			continue
		}
		started := time.Now().UTC()
		job.Status = StatusRunning
		job.StartedAt = &started
		return job.clone(), true
	}
	return Job{}, false
}

// MarkCompleted records a successful terminal transition. Valid only from
// running.
func (q *Queue) MarkCompleted(id string, res Result) error {
	return q.finish(id, StatusCompleted, func(job *Job) {
		job.OutputRef = res.OutputRef
		job.Warning = res.Warning
		job.ProgressPercent = 100
	})
}

// MarkFailed records a failed terminal transition. Valid only from running.
func (q *Queue) MarkFailed(id, message string) error {
	return q.finish(id, StatusFailed, func(job *Job) {
		job.ErrorMessage = message
		job.ProgressMessage = message
	})
}

// MarkCancelled records a cancelled terminal transition. Valid from pending
// or running.
func (q *Queue) MarkCancelled(id string) error {
	return q.finish(id, StatusCancelled, nil)
}

func (q *Queue) finish(id string, target Status, apply func(*Job)) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.byID[id]
	if !ok {
		return queueErrorf("finish", "unknown job id %q", id)
	}
	switch job.Status {
	case StatusRunning:
	case StatusPending:
		if target != StatusCancelled {
			return queueErrorf("finish", "job %q is %s, not running", id, job.Status)
		}
	default:
		return queueErrorf("finish", "job %q already terminal (%s)", id, job.Status)
	}

	completed := time.Now().UTC()
	job.Status = target
	job.CompletedAt = &completed
	if apply != nil {
		apply(job)
	}
	return nil
}

// UpdateProgress records progress for a running job. The percent is clamped
// to [0,100]; a value below the job's current percent is ignored (and logged)
// so reported progress never regresses. The boolean return reports whether
// the update was applied.
func (q *Queue) UpdateProgress(id string, percent int, message string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.byID[id]
	if !ok {
		return false, queueErrorf("progress", "unknown job id %q", id)
	}
	if job.Status != StatusRunning {
		return false, queueErrorf("progress", "job %q is %s, not running", id, job.Status)
	}

	clamped := clampPercent(percent)
	if clamped < job.ProgressPercent {
		q.logger.Debug("ignoring progress regression",
			logging.String("job_id", id),
			logging.Int("current", job.ProgressPercent),
			logging.Int("reported", clamped),
		)
		return false, nil
	}
	job.ProgressPercent = clamped
	if message != "" {
		job.ProgressMessage = message
	}
	return true, nil
}

// CancelPending transitions every still-pending job to cancelled and returns
// copies of the affected jobs in queue order.
func (q *Queue) CancelPending() []Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	var cancelled []Job
	completed := time.Now().UTC()
	for _, job := range q.jobs {
		if job.Status != StatusPending {
			continue
		}
		job.Status = StatusCancelled
		stamp := completed
		job.CompletedAt = &stamp
		cancelled = append(cancelled, job.clone())
	}
	return cancelled
}

// Get returns a copy of the job with the given id.
func (q *Queue) Get(id string) (Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.byID[id]
	if !ok {
		return Job{}, false
	}
	return job.clone(), true
}

// Snapshot returns a consistent point-in-time copy of all job state and
// aggregate statistics.
func (q *Queue) Snapshot() Snapshot {
	q.mu.Lock()
	defer q.mu.Unlock()

	jobs := make([]Job, 0, len(q.jobs))
	for _, job := range q.jobs {
		jobs = append(jobs, job.clone())
	}
	return Snapshot{Jobs: jobs, Stats: statsOf(q.jobs)}
}

// Stats returns aggregate statistics only.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return statsOf(q.jobs)
}

// Len returns the number of jobs registered on the queue.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

func (q *Queue) beginRun() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.running {
		return queueErrorf("start", "batch already running on this queue")
	}
	q.running = true
	return nil
}

func (q *Queue) endRun() {
	q.mu.Lock()
	q.running = false
	q.mu.Unlock()
}
