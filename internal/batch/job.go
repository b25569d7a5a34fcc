package batch

import (
	"strings"
	"time"
)

// Status represents the lifecycle of a batch job.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

var allStatuses = []Status{
	StatusPending,
	StatusRunning,
	StatusCompleted,
	StatusFailed,
	StatusCancelled,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Source describes the input artifact and processing parameters for one job.
// The queue and scheduler never interpret it; it is handed verbatim to the
// Executor that processes the job.
type Source struct {
	Path       string
	Engine     string
	SourceLang string
	TargetLang string
	Options    map[string]string
}

// Request is the caller-supplied description of a job to enqueue. ID is
// optional; when empty the queue assigns one.
type Request struct {
	ID     string
	Source Source
}

// Result is what a successful executor invocation produces. Warning is set
// when the executor completed but wants the outcome flagged (for example an
// output with untranslated cues).
type Result struct {
	OutputRef string
	Warning   string
}

// Job is the unit of work tracked by the queue. Workers receive copies;
// the queue owns the canonical record.
type Job struct {
	ID              string
	Source          Source
	Status          Status
	ProgressPercent int
	ProgressMessage string
	OutputRef       string
	ErrorMessage    string
	Warning         string
	CreatedAt       time.Time
	StartedAt       *time.Time
	CompletedAt     *time.Time
}

func (j *Job) clone() Job {
	cp := *j
	if j.StartedAt != nil {
		started := *j.StartedAt
		cp.StartedAt = &started
	}
	if j.CompletedAt != nil {
		completed := *j.CompletedAt
		cp.CompletedAt = &completed
	}
	if j.Source.Options != nil {
		opts := make(map[string]string, len(j.Source.Options))
		for k, v := range j.Source.Options {
			opts[k] = v
		}
		cp.Source.Options = opts
	}
	return cp
}

func clampPercent(percent int) int {
	if percent < 0 {
		return 0
	}
	if percent > 100 {
		return 100
	}
	return percent
}
