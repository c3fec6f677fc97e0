package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/specialistvlad/chunkflow/internal/chunk"
	"github.com/specialistvlad/chunkflow/internal/ctxlog"
	"github.com/specialistvlad/chunkflow/internal/graph"
	"github.com/specialistvlad/chunkflow/internal/housekeeper"
	"github.com/specialistvlad/chunkflow/internal/nodestore"
	"github.com/specialistvlad/chunkflow/internal/task"
	"golang.org/x/sync/errgroup"
)

const (
	bytesPerGB = 1 << 30
	epsilon    = 1e-9
)

// Options configure a Scheduler.
type Options struct {
	// Workers caps concurrently running jobs independently of the budget.
	// Defaults to the number of CPUs.
	Workers int
	// MemoryGB is the memory budget. Required.
	MemoryGB float64
	// Processors is the processor budget. Defaults to the number of CPUs.
	Processors int
	// Resume marks nodes whose result already exists as done without
	// running them.
	Resume bool

	Housekeeping housekeeper.Config
	// Remove reclaims working directories. Defaults to os.RemoveAll.
	Remove housekeeper.Remover
	// Recorder receives every scheduling transition.
	Recorder Recorder
}

// ExecutionResult is the outcome of one dispatched node.
type ExecutionResult struct {
	ID           graph.NodeID
	Node         string
	Err          error
	PeakMemoryGB float64
	WallTime     time.Duration
	Outputs      task.Result
}

// Report summarizes a chunk run. It is returned on failure as well.
type Report struct {
	Chunk int
	// Results lists dispatched nodes in completion order.
	Results  []ExecutionResult
	Skipped  []string
	Deleted  []string
	Overruns []*ResourceOverrunWarning
	// PeakInUseGB is the highest memory reservation held at once.
	PeakInUseGB float64
}

// Scheduler runs chunks.
type Scheduler struct {
	runner  task.Runner
	results nodestore.Store
	opts    Options
}

// New creates a scheduler dispatching to runner. results is read to resolve
// redirected inputs and, with Resume, to detect finished nodes.
func New(runner task.Runner, results nodestore.Store, opts Options) (*Scheduler, error) {
	if runner == nil {
		return nil, errors.New("scheduler: a runner is required")
	}
	if opts.MemoryGB <= 0 {
		return nil, fmt.Errorf("scheduler: memory budget must be positive, got %v", opts.MemoryGB)
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if opts.Processors <= 0 {
		opts.Processors = runtime.NumCPU()
	}
	if opts.Recorder == nil {
		opts.Recorder = nopRecorder{}
	}
	return &Scheduler{runner: runner, results: results, opts: opts}, nil
}

// Options returns the effective options.
func (s *Scheduler) Options() Options {
	return s.opts
}

// run is the coordinator state of one Run call. Only the coordinator
// goroutine touches it.
type run struct {
	s      *Scheduler
	c      *chunk.Chunk
	g      *graph.Graph
	report *Report

	indeg   []int
	ready   readyQueue
	outputs map[graph.NodeID]task.Result
	hk      *housekeeper.Housekeeper

	memFree   float64
	procsFree int
	running   int
	finished  int
	seq       int
	failure   error

	done chan ExecutionResult
	eg   errgroup.Group
	// reserved holds the reservation of every running node.
	reserved map[graph.NodeID]Job
}

// Run executes every node of c and blocks until all admitted jobs have
// returned.
func (s *Scheduler) Run(ctx context.Context, c *chunk.Chunk) (*Report, error) {
	logger := ctxlog.FromContext(ctx).With("chunk", c.Index)
	g := c.Graph
	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("chunk %d: %w", c.Index, err)
	}

	r := &run{
		s:         s,
		c:         c,
		g:         g,
		report:    &Report{Chunk: c.Index},
		indeg:     make([]int, g.Len()),
		outputs:   make(map[graph.NodeID]task.Result, g.Len()),
		hk:        housekeeper.New(g, s.opts.Housekeeping, s.opts.Remove),
		memFree:   s.opts.MemoryGB,
		procsFree: s.opts.Processors,
		done:      make(chan ExecutionResult, g.Len()),
		reserved:  make(map[graph.NodeID]Job),
	}
	r.eg.SetLimit(s.opts.Workers)

	for _, n := range g.Nodes() {
		r.indeg[n.ID] = g.InDegree(n.ID)
		if r.indeg[n.ID] == 0 {
			r.ready.push(r.job(n.ID))
		}
	}
	logger.Info("Running chunk.", "partitions", c.Name(), "nodes", g.Len(), "memory_gb", s.opts.MemoryGB, "processors", s.opts.Processors, "workers", s.opts.Workers)

	cancelled := ctx.Done()
	for {
		if r.failure == nil {
			r.admit(ctx)
		}
		if r.running == 0 {
			break
		}
		select {
		case res := <-r.done:
			r.complete(ctx, res)
		case <-cancelled:
			cancelled = nil
			if r.failure == nil {
				r.failure = fmt.Errorf("chunk %d: %w", c.Index, ctx.Err())
			}
			logger.Warn("Chunk cancelled, waiting for running nodes.", "running", r.running)
		}
	}
	_ = r.eg.Wait()

	if r.failure != nil {
		logger.Error("Chunk failed.", "error", r.failure, "finished", r.finished, "nodes", g.Len())
		return r.report, r.failure
	}
	if r.finished != g.Len() {
		return r.report, fmt.Errorf("chunk %d: stalled with %d of %d nodes finished", c.Index, r.finished, g.Len())
	}
	logger.Info("Chunk finished.", "nodes", g.Len(), "skipped", len(r.report.Skipped), "reclaimed", len(r.report.Deleted), "overruns", len(r.report.Overruns))
	return r.report, nil
}

// job returns the clamped reservation for id.
func (r *run) job(id graph.NodeID) Job {
	n := r.g.Node(id)
	procs := max(n.NProcs, 1)
	return Job{
		MemoryGB: min(n.MemoryGB, r.s.opts.MemoryGB),
		NProcs:   min(procs, r.s.opts.Processors),
		Node:     id,
	}
}

// admit dispatches every ready job that fits, smallest first. Resumed nodes
// complete synchronously and may make further jobs ready, so admission
// repeats until a pass changes nothing.
func (r *run) admit(ctx context.Context) {
	for {
		progressed := false
		for _, j := range r.ready.drain() {
			if r.failure != nil {
				r.ready.push(j)
				continue
			}
			if r.resumable(ctx, j.Node) {
				progressed = true
				continue
			}
			if r.running >= r.s.opts.Workers || r.memFree+epsilon < j.MemoryGB || r.procsFree < j.NProcs {
				r.ready.push(j)
				continue
			}
			r.dispatch(ctx, j)
		}
		if !progressed || r.failure != nil {
			return
		}
	}
}

// resumable completes id from its stored result when resuming.
func (r *run) resumable(ctx context.Context, id graph.NodeID) bool {
	if !r.s.opts.Resume || r.s.results == nil {
		return false
	}
	n := r.g.Node(id)
	rec, err := r.s.results.Get(ctx, n.WorkDir)
	if err != nil {
		if !errors.Is(err, nodestore.ErrNotFound) {
			ctxlog.FromContext(ctx).Warn("Ignoring unreadable result, node runs again.", "node", n.FullName(), "error", err)
		}
		return false
	}

	r.record(EventSkip, id, 0)
	r.report.Skipped = append(r.report.Skipped, n.FullName())
	ctxlog.FromContext(ctx).Debug("Node already finished, skipping.", "node", n.FullName())
	r.succeed(ctx, id, rec.Outputs)
	return true
}

func (r *run) dispatch(ctx context.Context, j Job) {
	n := r.g.Node(j.Node)
	logger := ctxlog.FromContext(ctx).With("node", n.FullName())

	inputs, err := r.inputs(ctx, j.Node)
	if err != nil {
		r.fail(ctx, j.Node, err)
		return
	}

	r.memFree -= j.MemoryGB
	r.procsFree -= j.NProcs
	r.running++
	r.reserved[j.Node] = j
	inUse := r.s.opts.MemoryGB - r.memFree
	if inUse > r.report.PeakInUseGB {
		r.report.PeakInUseGB = inUse
	}
	r.record(EventDispatch, j.Node, j.MemoryGB)
	logger.Debug("Dispatching node.", "memory_gb", j.MemoryGB, "procs", j.NProcs, "free_gb", r.memFree, "free_procs", r.procsFree)

	req := task.Request{Node: n.FullName(), WorkDir: n.WorkDir, Task: n.Task, Inputs: inputs}
	id := j.Node
	r.eg.Go(func() error {
		start := time.Now()
		outcome, err := r.s.runner.Run(ctx, req)
		res := ExecutionResult{ID: id, Node: req.Node, Err: err, WallTime: time.Since(start)}
		if outcome != nil {
			res.Outputs = outcome.Outputs
			res.PeakMemoryGB = float64(outcome.PeakMemoryBytes) / bytesPerGB
			if outcome.WallTime > 0 {
				res.WallTime = outcome.WallTime
			}
		}
		r.done <- res
		return nil
	})
}

func (r *run) complete(ctx context.Context, res ExecutionResult) {
	j := r.reserved[res.ID]
	delete(r.reserved, res.ID)
	r.memFree += j.MemoryGB
	r.procsFree += j.NProcs
	r.running--
	r.report.Results = append(r.report.Results, res)

	if res.Err != nil {
		r.fail(ctx, res.ID, res.Err)
		return
	}

	n := r.g.Node(res.ID)
	logger := ctxlog.FromContext(ctx).With("node", n.FullName())
	if res.PeakMemoryGB > n.MemoryGB+epsilon {
		w := &ResourceOverrunWarning{Node: n.FullName(), DeclaredGB: n.MemoryGB, ObservedGB: res.PeakMemoryGB}
		r.report.Overruns = append(r.report.Overruns, w)
		logger.Warn("Node exceeded its memory estimate.", "declared_gb", w.DeclaredGB, "observed_gb", w.ObservedGB)
	}
	r.record(EventComplete, res.ID, j.MemoryGB)
	logger.Info("Node finished.", "wall_time", res.WallTime, "peak_memory_gb", res.PeakMemoryGB)
	r.succeed(ctx, res.ID, res.Outputs)
}

// succeed marks id DONE, releases its successors and reclaims what became
// unreachable.
func (r *run) succeed(ctx context.Context, id graph.NodeID, outputs task.Result) {
	if outputs == nil {
		outputs = task.Result{}
	}
	r.outputs[id] = outputs
	r.finished++
	for _, succ := range r.g.Successors(id) {
		r.indeg[succ]--
		if r.indeg[succ] == 0 {
			r.ready.push(r.job(succ))
		}
	}
	r.report.Deleted = append(r.report.Deleted, r.hk.Completed(ctx, id)...)
}

func (r *run) fail(ctx context.Context, id graph.NodeID, err error) {
	n := r.g.Node(id)
	r.record(EventFail, id, 0)
	ctxlog.FromContext(ctx).Error("Node failed, no further nodes will be admitted.", "node", n.FullName(), "error", err, "running", r.running)
	if r.failure == nil {
		r.failure = &TaskExecutionError{Chunk: r.c.Index, Node: n.FullName(), Err: err}
	}
}

func (r *run) record(kind EventKind, id graph.NodeID, mem float64) {
	r.seq++
	r.s.opts.Recorder.Record(Event{
		Seq:        r.seq,
		Kind:       kind,
		Chunk:      r.c.Index,
		ID:         id,
		Node:       r.g.Node(id).FullName(),
		Time:       time.Now(),
		MemoryGB:   mem,
		InUseGB:    r.s.opts.MemoryGB - r.memFree,
		ProcsInUse: r.s.opts.Processors - r.procsFree,
	})
}

// inputs assembles the inputs of id from its literals, completed
// predecessors and the chunk boundary data. It fails while a prerequisite
// in another chunk has no stored result.
func (r *run) inputs(ctx context.Context, id graph.NodeID) (task.Inputs, error) {
	name := r.g.Node(id).FullName()
	for _, ref := range r.c.Prerequisites[name] {
		if err := r.requireResult(ctx, name, ref); err != nil {
			return nil, err
		}
	}

	in, err := r.g.Inputs(id, func(p graph.NodeID) (map[string]any, bool) {
		out, ok := r.outputs[p]
		return out, ok
	})
	if err != nil {
		return nil, err
	}

	for field, v := range r.c.ExternalInputs[name] {
		in[field] = v
	}
	for field, ref := range r.c.ExternalOutputs[name] {
		v, err := r.readResult(ctx, name, ref)
		if err != nil {
			return nil, err
		}
		in[field] = v
	}
	return task.Inputs(in), nil
}

func (r *run) readResult(ctx context.Context, consumer string, ref graph.ResultRef) (any, error) {
	if r.s.results == nil {
		return nil, fmt.Errorf("no result store to read %s of %s", ref.Field, ref.Node)
	}
	rec, err := r.s.results.Get(ctx, ref.WorkDir)
	if err != nil {
		return nil, fmt.Errorf("reading result of %s: %w", ref.Node, err)
	}
	v, ok := rec.Outputs[ref.Field]
	if !ok {
		return nil, &graph.MissingOutputError{Producer: ref.Node, Field: ref.Field, Consumer: consumer}
	}
	return v, nil
}

func (r *run) requireResult(ctx context.Context, consumer string, ref graph.ResultRef) error {
	if r.s.results == nil {
		return fmt.Errorf("no result store to check %s before %s", ref.Node, consumer)
	}
	if _, err := r.s.results.Get(ctx, ref.WorkDir); err != nil {
		return fmt.Errorf("%s must finish before %s: %w", ref.Node, consumer, err)
	}
	return nil
}
