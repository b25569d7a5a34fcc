package batch

// Stats aggregates queue state at a point in time.
//
// CurrentIndex counts jobs that have reached a terminal state; Percent is the
// mean of per-job progress percents and gives a rough batch-wide figure for
// display.
type Stats struct {
	Total        int
	Pending      int
	Running      int
	Completed    int
	Failed       int
	Cancelled    int
	CurrentIndex int
	Percent      int
}

// Finished reports whether every job has reached a terminal state.
func (s Stats) Finished() bool {
	return s.Running == 0 && s.Pending == 0 && s.Completed+s.Failed+s.Cancelled == s.Total
}

// Snapshot is a consistent point-in-time copy of queue contents and derived
// statistics. It never aliases the queue's internal structures.
type Snapshot struct {
	Jobs  []Job
	Stats Stats
}

func statsOf(jobs []*Job) Stats {
	stats := Stats{Total: len(jobs)}
	percentSum := 0
	for _, job := range jobs {
		percentSum += job.ProgressPercent
		switch job.Status {
		case StatusPending:
			stats.Pending++
		case StatusRunning:
			stats.Running++
		case StatusCompleted:
			stats.Completed++
		case StatusFailed:
			stats.Failed++
		case StatusCancelled:
			stats.Cancelled++
		}
	}
	stats.CurrentIndex = stats.Completed + stats.Failed + stats.Cancelled
	if stats.Total > 0 {
		stats.Percent = percentSum / stats.Total
	}
	return stats
}
