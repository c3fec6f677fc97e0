package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/specialistvlad/chunkflow/internal/cache"
	"github.com/specialistvlad/chunkflow/internal/chunk"
	"github.com/specialistvlad/chunkflow/internal/ctxlog"
	"github.com/specialistvlad/chunkflow/internal/graph"
	"github.com/specialistvlad/chunkflow/internal/nodeid"
	"github.com/specialistvlad/chunkflow/internal/partition"
	"github.com/specialistvlad/chunkflow/internal/scheduler"
)

// GraphBuilder produces the full execution graph. It is only called on a
// graph cache miss.
type GraphBuilder func(ctx context.Context) (*graph.Graph, error)

// Plan is everything derived from the graph before scheduling.
type Plan struct {
	GraphIdentity string
	Graph         *graph.Graph
	Partitions    *partition.Set
	// Chunks holds the selected chunks in execution order.
	Chunks []*chunk.Chunk
}

// Result is the outcome of Run.
type Result struct {
	Plan    *Plan
	Reports []*scheduler.Report
}

// Engine runs graphs chunk by chunk.
type Engine struct {
	ec     *Context
	sched  *scheduler.Scheduler
	status *Status
}

// New validates ec and creates an engine.
func New(ec *Context) (*Engine, error) {
	if ec == nil {
		return nil, errors.New("engine: a context is required")
	}
	if ec.Cache != nil && ec.CacheDir == "" {
		return nil, errors.New("engine: a cache directory is required when caching is enabled")
	}
	if err := ec.Strategy.Validate(); err != nil {
		return nil, err
	}
	if ec.Chunking.Only < 0 {
		return nil, fmt.Errorf("chunk index must not be negative, got %d", ec.Chunking.Only)
	}

	status := NewStatus()
	opts := ec.Scheduler
	opts.Recorder = multiRecorder{status, opts.Recorder}
	sched, err := scheduler.New(ec.Runner, ec.Results, opts)
	if err != nil {
		return nil, err
	}
	return &Engine{ec: ec, sched: sched, status: status}, nil
}

// Status returns the live progress of the engine.
func (e *Engine) Status() *Status {
	return e.status
}

// Prepare builds, partitions and plans without executing anything other
// than the inbound producers that partitioning requires.
func (e *Engine) Prepare(ctx context.Context, build GraphBuilder) (*Plan, error) {
	g, graphID, err := e.graph(ctx, build)
	if err != nil {
		return nil, err
	}
	set, setID, err := e.partitions(ctx, g, graphID)
	if err != nil {
		return nil, err
	}
	chunks, err := e.plan(ctx, set, setID)
	if err != nil {
		return nil, err
	}
	return &Plan{
		GraphIdentity: graphID,
		Graph:         g,
		Partitions:    set,
		Chunks:        chunk.Select(chunks, e.ec.Chunking.Only),
	}, nil
}

// Run prepares the plan and schedules every selected chunk in order. A
// failing chunk does not stop the following ones; the returned error joins
// the failure of every chunk.
func (e *Engine) Run(ctx context.Context, build GraphBuilder) (*Result, error) {
	logger := ctxlog.FromContext(ctx)
	plan, err := e.Prepare(ctx, build)
	if err != nil {
		return nil, err
	}

	res := &Result{Plan: plan}
	if len(plan.Chunks) == 0 {
		logger.Warn("Nothing to run.", "only", e.ec.Chunking.Only)
		return res, nil
	}
	for _, c := range plan.Chunks {
		e.status.add(c)
	}

	var errs []error
	start := time.Now()
	for _, c := range plan.Chunks {
		if err := ctx.Err(); err != nil {
			e.status.abort(c.Index)
			errs = append(errs, fmt.Errorf("chunk %d: %w", c.Index, err))
			continue
		}

		logger.Info("Running chunk.", "chunk", c.Index, "partition", c.Name(), "nodes", c.Graph.Len())
		e.status.begin(c.Index)
		report, err := e.sched.Run(ctx, c)
		e.status.end(c.Index, err)
		if report != nil {
			res.Reports = append(res.Reports, report)
		}
		if err != nil {
			logger.Error("Chunk failed.", "chunk", c.Index, "error", err)
			errs = append(errs, err)
			continue
		}
		logger.Info("Chunk finished.", "chunk", c.Index, "executed", len(report.Results), "skipped", len(report.Skipped), "deleted", len(report.Deleted))
	}

	logger.Info("Run finished.", "chunks", len(plan.Chunks), "failed", len(errs), "duration", time.Since(start))
	return res, errors.Join(errs...)
}

func (e *Engine) graph(ctx context.Context, build GraphBuilder) (*graph.Graph, string, error) {
	logger := ctxlog.FromContext(ctx)
	id := e.ec.Source.Identity(cache.KindGraph)

	g := new(graph.Graph)
	hit, err := e.load(ctx, cache.KindGraph, id, g)
	if err != nil {
		return nil, "", err
	}
	if hit {
		logger.Info("Loaded graph from cache.", "nodes", g.Len(), "identity", id)
		return g, id, nil
	}

	g, err = build(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("building graph: %w", err)
	}
	if err := g.Validate(); err != nil {
		return nil, "", err
	}
	logger.Info("Built graph.", "nodes", g.Len(), "identity", id)
	if err := e.store(ctx, cache.KindGraph, g, id); err != nil {
		return nil, "", err
	}
	return g, id, nil
}

func (e *Engine) partitions(ctx context.Context, g *graph.Graph, graphID string) (*partition.Set, string, error) {
	logger := ctxlog.FromContext(ctx)
	id := cache.Derive(cache.KindPartitions, graphID, partition.Describe(e.ec.Classifier))

	set := new(partition.Set)
	hit, err := e.load(ctx, cache.KindPartitions, id, set)
	if err != nil {
		return nil, "", err
	}
	if hit {
		logger.Info("Loaded partitions from cache.", "partitions", len(set.Partitions), "identity", id)
		return set, id, nil
	}

	inliner := e.ec.Inliner
	if inliner == nil {
		inliner = e.ec.Runner
	}
	splitter := &partition.Splitter{
		Classifier: e.classifier(),
		Runner:     inliner,
		Remove:     e.ec.Scheduler.Remove,
	}
	set, err = splitter.Split(ctx, g)
	if err != nil {
		return nil, "", fmt.Errorf("partitioning graph: %w", err)
	}
	logger.Info("Partitioned graph.", "partitions", len(set.Partitions), "default_nodes", set.Default.Len(), "inlined", len(set.Inlined))
	if err := e.store(ctx, cache.KindPartitions, set, id); err != nil {
		return nil, "", err
	}
	return set, id, nil
}

func (e *Engine) plan(ctx context.Context, set *partition.Set, setID string) ([]*chunk.Chunk, error) {
	logger := ctxlog.FromContext(ctx)
	mode := e.ec.Strategy.String()
	if e.ec.Chunking.ExcludeDefault {
		mode += "-nodefault"
	}
	kind := cache.ChunksKind(mode)
	id := cache.Derive(kind, setID)

	var chunks []*chunk.Chunk
	hit, err := e.load(ctx, kind, id, &chunks)
	if err != nil {
		return nil, err
	}
	if hit {
		logger.Info("Loaded chunk plan from cache.", "chunks", len(chunks), "identity", id)
		return chunks, nil
	}

	chunks, err = chunk.Plan(set, e.ec.Strategy, chunk.Options{ExcludeDefault: e.ec.Chunking.ExcludeDefault})
	if err != nil {
		return nil, fmt.Errorf("planning chunks: %w", err)
	}
	logger.Info("Planned chunks.", "chunks", len(chunks), "strategy", mode)
	if err := e.store(ctx, kind, chunks, id); err != nil {
		return nil, err
	}
	return chunks, nil
}

func (e *Engine) load(ctx context.Context, kind, id string, out any) (bool, error) {
	if e.ec.Cache == nil {
		return false, nil
	}
	return e.ec.Cache.Load(ctx, e.ec.CacheDir, kind, id, out)
}

func (e *Engine) store(ctx context.Context, kind string, obj any, id string) error {
	if e.ec.Cache == nil {
		return nil
	}
	return e.ec.Cache.Store(ctx, e.ec.CacheDir, kind, obj, id)
}

func (e *Engine) classifier() partition.Classifier {
	if e.ec.Classifier != nil {
		return e.ec.Classifier
	}
	return partition.ClassifierFunc(func(*nodeid.Address) (string, bool) { return "", false })
}
