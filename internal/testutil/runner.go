package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/specialistvlad/chunkflow/internal/nodestore"
	"github.com/specialistvlad/chunkflow/internal/task"
)

// FakeRunner is a task.Runner that executes nothing. It reports scripted
// outcomes and records concurrency so tests can assert on scheduling.
type FakeRunner struct {
	// Memory is the footprint tracked per node while it runs.
	Memory map[string]float64
	// Fail makes the named nodes return the given error.
	Fail map[string]error
	// Delay returns how long a node pretends to run.
	Delay func(node string) time.Duration
	// PeakBytes is the peak memory reported per node.
	PeakBytes map[string]int64
	// Results, if set, receives a record for every successful node.
	Results nodestore.Store

	mu         sync.Mutex
	running    map[string]bool
	inUse      float64
	maxInUse   float64
	maxRunning int
	started    []string
	finished   []string
	requests   map[string]task.Request
	overlaps   map[[2]string]bool
}

// Run implements task.Runner.
func (f *FakeRunner) Run(ctx context.Context, req task.Request) (*task.Outcome, error) {
	f.begin(req)
	if f.Delay != nil {
		if d := f.Delay(req.Node); d > 0 {
			select {
			case <-time.After(d):
			case <-ctx.Done():
			}
		}
	}

	out := task.Result{}
	for k, v := range req.Inputs {
		out[k] = v
	}
	out["out"] = req.Node
	err := f.Fail[req.Node]
	if err == nil && f.Results != nil {
		err = f.Results.Put(ctx, req.WorkDir, &nodestore.Record{Node: req.Node, Outputs: out, FinishedAt: time.Now()})
	}
	f.end(req)

	outcome := &task.Outcome{Node: req.Node, PeakMemoryBytes: f.PeakBytes[req.Node]}
	if err != nil {
		return outcome, err
	}
	outcome.Outputs = out
	return outcome, nil
}

func (f *FakeRunner) begin(req task.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running == nil {
		f.running = map[string]bool{}
		f.requests = map[string]task.Request{}
		f.overlaps = map[[2]string]bool{}
	}
	for other := range f.running {
		a, b := other, req.Node
		if a > b {
			a, b = b, a
		}
		f.overlaps[[2]string{a, b}] = true
	}
	f.running[req.Node] = true
	f.requests[req.Node] = req
	f.started = append(f.started, req.Node)
	f.inUse += f.Memory[req.Node]
	if f.inUse > f.maxInUse {
		f.maxInUse = f.inUse
	}
	if len(f.running) > f.maxRunning {
		f.maxRunning = len(f.running)
	}
}

func (f *FakeRunner) end(req task.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.running, req.Node)
	f.inUse -= f.Memory[req.Node]
	f.finished = append(f.finished, req.Node)
}

// MaxInUse is the highest sum of tracked memory seen at once.
func (f *FakeRunner) MaxInUse() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxInUse
}

// MaxRunning is the highest number of nodes seen running at once.
func (f *FakeRunner) MaxRunning() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxRunning
}

// Overlapped reports whether a and b were ever running at the same time.
func (f *FakeRunner) Overlapped(a, b string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a > b {
		a, b = b, a
	}
	return f.overlaps[[2]string{a, b}]
}

// Started returns node names in start order.
func (f *FakeRunner) Started() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.started...)
}

// Finished returns node names in finish order.
func (f *FakeRunner) Finished() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.finished...)
}

// Request returns the request a node was run with.
func (f *FakeRunner) Request(node string) (task.Request, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	req, ok := f.requests[node]
	return req, ok
}

// Ran returns the sorted set of node names that were run.
func (f *FakeRunner) Ran() []string {
	names := f.Started()
	sort.Strings(names)
	return names
}
