package batch

// EventType enumerates the notifications the scheduler publishes.
type EventType string

const (
	EventJobStarted    EventType = "job_started"
	EventJobProgress   EventType = "job_progress"
	EventJobCompleted  EventType = "job_completed"
	EventJobFailed     EventType = "job_failed"
	EventJobCancelled  EventType = "job_cancelled"
	EventBatchProgress EventType = "batch_progress"
	EventBatchFinished EventType = "batch_finished"
)

// Event is one notification. Job-level events carry JobID and the fields
// relevant to their type; batch-level events carry Stats.
//
// For every job the observed sequence is JobStarted, zero or more
// JobProgress with non-decreasing percent, then exactly one terminal event.
// EventBatchFinished is published exactly once, after every job has reached a
// terminal state, and its Stats are the authoritative batch outcome.
type Event struct {
	Type      EventType
	JobID     string
	Percent   int
	Message   string
	OutputRef string
	Warning   string
	Stats     Stats
}

// Handler receives events. Handlers run on the dispatch goroutine, one event
// at a time, so they observe a single total order; slow handlers apply
// backpressure to the workers once the event buffer fills.
type Handler func(Event)

// dispatcher serializes event delivery on one goroutine. Workers publish
// into an ordered channel, so per-job ordering is preserved by construction
// and handlers never run concurrently with each other.
type dispatcher struct {
	handlers []Handler
	events   chan Event
	done     chan struct{}
}

func newDispatcher(handlers []Handler, buffer int) *dispatcher {
	if buffer <= 0 {
		buffer = defaultEventBuffer
	}
	d := &dispatcher{
		handlers: handlers,
		events:   make(chan Event, buffer),
		done:     make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *dispatcher) run() {
	defer close(d.done)
	for ev := range d.events {
		for _, handler := range d.handlers {
			handler(ev)
		}
	}
}

func (d *dispatcher) publish(ev Event) {
	d.events <- ev
}

// close stops intake; done is closed once buffered events have been
// delivered.
func (d *dispatcher) close() {
	close(d.events)
}
