package scheduler

import (
	"sync"
	"time"

	"github.com/specialistvlad/chunkflow/internal/graph"
)

// EventKind names a scheduling transition.
type EventKind string

const (
	EventDispatch EventKind = "dispatch"
	EventComplete EventKind = "complete"
	EventFail     EventKind = "fail"
	// EventSkip marks a node resumed from an existing result.
	EventSkip EventKind = "skip"
)

// Event is one scheduling transition as seen by the coordinator.
type Event struct {
	Seq   int
	Kind  EventKind
	Chunk int
	ID    graph.NodeID
	Node  string
	Time  time.Time
	// MemoryGB is the reservation of the node.
	MemoryGB float64
	// InUseGB and ProcsInUse are the budget in use after the transition.
	InUseGB    float64
	ProcsInUse int
}

// Recorder receives scheduling events. It is called from the coordinator
// goroutine only, but implementations may be read concurrently.
type Recorder interface {
	Record(Event)
}

// Trace is a Recorder that keeps every event in memory.
type Trace struct {
	mu     sync.Mutex
	events []Event
}

// Record implements Recorder.
func (t *Trace) Record(e Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = append(t.events, e)
}

// Events returns a copy of the recorded events.
func (t *Trace) Events() []Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Event(nil), t.events...)
}

// Find returns the first event of kind for node.
func (t *Trace) Find(kind EventKind, node string) (Event, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, e := range t.events {
		if e.Kind == kind && e.Node == node {
			return e, true
		}
	}
	return Event{}, false
}

type nopRecorder struct{}

func (nopRecorder) Record(Event) {}
