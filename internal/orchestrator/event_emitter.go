package orchestrator

import (
	"log"
	"sync/atomic"
	"time"
)

// emitTimeout is how long Emit waits for a full channel to drain.
const emitTimeout = 100 * time.Millisecond

// EventEmitter delivers events to a single buffered channel. Until someone
// calls Events, a full channel drops new events at once. After that, a slow
// consumer never blocks the run loop for more than emitTimeout per event;
// events that still do not fit are dropped and counted.
type EventEmitter struct {
	events       chan Event
	subscribed   atomic.Bool
	droppedCount atomic.Uint64
}

// NewEventEmitter creates a new EventEmitter with the given buffer size.
func NewEventEmitter(bufferSize int) *EventEmitter {
	if bufferSize < 1 {
		bufferSize = 1
	}
	return &EventEmitter{
		events: make(chan Event, bufferSize),
	}
}

// Emit sends an event to the events channel.
// If the channel is full and has a reader, it tries with a timeout before
// dropping the event. Without a reader it drops immediately.
func (e *EventEmitter) Emit(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case e.events <- event:
		return
	default:
	}

	if !e.subscribed.Load() {
		e.drop(event)
		return
	}

	timer := time.NewTimer(emitTimeout)
	defer timer.Stop()

	select {
	case e.events <- event:
	case <-timer.C:
		e.drop(event)
	}
}

func (e *EventEmitter) drop(event Event) {
	count := e.droppedCount.Add(1)
	if count%10 == 1 { // Log every 10th drop to avoid spam
		log.Printf("[orchestrator] WARNING: Event channel full, dropped event (total dropped: %d): type=%s", count, event.Type)
	}
}

// DroppedCount returns the total number of events that have been dropped.
func (e *EventEmitter) DroppedCount() uint64 {
	return e.droppedCount.Load()
}

// Events returns a read-only channel of events and marks the emitter as
// having a reader.
func (e *EventEmitter) Events() <-chan Event {
	e.subscribed.Store(true)
	return e.events
}
