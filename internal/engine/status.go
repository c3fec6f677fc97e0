package engine

import (
	"sync"
	"time"

	"github.com/specialistvlad/chunkflow/internal/chunk"
	"github.com/specialistvlad/chunkflow/internal/scheduler"
)

// Chunk states reported by Status.
const (
	StatePending = "pending"
	StateRunning = "running"
	StateDone    = "done"
	StateFailed  = "failed"
)

// ChunkStatus is the progress of one chunk.
type ChunkStatus struct {
	Index     int      `json:"index"`
	Partition string   `json:"partition"`
	Keys      []string `json:"keys"`
	State     string   `json:"state"`
	Nodes     int      `json:"nodes"`
	Running   int      `json:"running"`
	Done      int      `json:"done"`
	Failed    int      `json:"failed"`
	Skipped   int      `json:"skipped"`
	InUseGB   float64  `json:"in_use_gb"`
	Error     string   `json:"error,omitempty"`
}

// Snapshot is a point-in-time copy of the run progress.
type Snapshot struct {
	Started time.Time     `json:"started"`
	Chunks  []ChunkStatus `json:"chunks"`
}

// Status tracks run progress from scheduler events. It is safe for
// concurrent use.
type Status struct {
	mu      sync.Mutex
	started time.Time
	chunks  []*ChunkStatus
	byIndex map[int]*ChunkStatus
}

// NewStatus returns an empty Status.
func NewStatus() *Status {
	return &Status{started: time.Now(), byIndex: make(map[int]*ChunkStatus)}
}

// Record implements scheduler.Recorder.
func (s *Status) Record(e scheduler.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cs, ok := s.byIndex[e.Chunk]
	if !ok {
		return
	}
	switch e.Kind {
	case scheduler.EventDispatch:
		cs.Running++
	case scheduler.EventComplete:
		cs.Running--
		cs.Done++
	case scheduler.EventFail:
		cs.Running--
		cs.Failed++
	case scheduler.EventSkip:
		cs.Skipped++
	}
	cs.InUseGB = e.InUseGB
}

// Snapshot returns a copy of the current progress.
func (s *Status) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{Started: s.started, Chunks: make([]ChunkStatus, 0, len(s.chunks))}
	for _, cs := range s.chunks {
		c := *cs
		c.Keys = append([]string(nil), cs.Keys...)
		snap.Chunks = append(snap.Chunks, c)
	}
	return snap
}

func (s *Status) add(c *chunk.Chunk) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byIndex[c.Index]; ok {
		return
	}
	cs := &ChunkStatus{
		Index:     c.Index,
		Partition: c.Name(),
		Keys:      c.Keys,
		State:     StatePending,
		Nodes:     c.Graph.Len(),
	}
	s.chunks = append(s.chunks, cs)
	s.byIndex[c.Index] = cs
}

func (s *Status) begin(index int) {
	s.set(index, StateRunning, nil)
}

func (s *Status) end(index int, err error) {
	if err != nil {
		s.set(index, StateFailed, err)
		return
	}
	s.set(index, StateDone, nil)
}

func (s *Status) abort(index int) {
	s.set(index, StateFailed, nil)
}

func (s *Status) set(index int, state string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cs, ok := s.byIndex[index]
	if !ok {
		return
	}
	cs.State = state
	if err != nil {
		cs.Error = err.Error()
	}
	if state != StateRunning {
		cs.InUseGB = 0
	}
}

// multiRecorder fans events out to every non-nil recorder.
type multiRecorder []scheduler.Recorder

func (m multiRecorder) Record(e scheduler.Event) {
	for _, r := range m {
		if r != nil {
			r.Record(e)
		}
	}
}
