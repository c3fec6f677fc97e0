package task

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/specialistvlad/chunkflow/internal/ctxlog"
	"github.com/specialistvlad/chunkflow/internal/nodestore"
)

// Execute builds the task for req, runs it inside the node working directory
// and persists the outputs as the node result record.
func Execute(ctx context.Context, reg *Registry, results nodestore.Store, req Request) (Result, error) {
	t, err := reg.Build(req.Task)
	if err != nil {
		return nil, &Error{Node: req.Node, Kind: req.Task.Kind, Err: err}
	}
	if req.WorkDir != "" {
		if err := os.MkdirAll(req.WorkDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating working directory for %s: %w", req.Node, err)
		}
	}

	out, err := t.Run(WithWorkDir(ctx, req.WorkDir), req.Inputs)
	if err != nil {
		return nil, &Error{Node: req.Node, Kind: req.Task.Kind, Err: err}
	}
	if out == nil {
		out = Result{}
	}

	if results != nil && req.WorkDir != "" {
		rec := &nodestore.Record{Node: req.Node, Outputs: out, FinishedAt: time.Now().UTC()}
		if err := results.Put(ctx, req.WorkDir, rec); err != nil {
			return nil, fmt.Errorf("persisting result of %s: %w", req.Node, err)
		}
	}
	return out, nil
}

// LocalRunner executes tasks in the calling process. It is used for
// build-time inlining and when process isolation is disabled. Memory is not
// measured.
type LocalRunner struct {
	Registry *Registry
	Results  nodestore.Store
}

// NewLocalRunner creates an in-process runner.
func NewLocalRunner(reg *Registry, results nodestore.Store) *LocalRunner {
	return &LocalRunner{Registry: reg, Results: results}
}

// Run implements Runner.
func (r *LocalRunner) Run(ctx context.Context, req Request) (*Outcome, error) {
	logger := ctxlog.FromContext(ctx).With("node", req.Node, "kind", req.Task.Kind)
	logger.Debug("Running task in-process.")

	start := time.Now()
	out, err := Execute(ctx, r.Registry, r.Results, req)
	outcome := &Outcome{Node: req.Node, Outputs: out, WallTime: time.Since(start)}
	if err != nil {
		logger.Debug("Task failed.", "error", err)
		return outcome, err
	}
	logger.Debug("Task finished.", "wall_time", outcome.WallTime)
	return outcome, nil
}
