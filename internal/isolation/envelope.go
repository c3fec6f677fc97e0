package isolation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/specialistvlad/chunkflow/internal/ctxlog"
	"github.com/specialistvlad/chunkflow/internal/nodestore"
	"github.com/specialistvlad/chunkflow/internal/task"
)

// Envelope statuses.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Envelope is the reply of a worker.
type Envelope struct {
	Status          string      `json:"status"`
	Payload         task.Result `json:"payload,omitempty"`
	Error           string      `json:"error,omitempty"`
	PeakMemoryBytes int64       `json:"peak_memory_bytes"`
	WallTimeNs      int64       `json:"wall_time_ns"`
}

// Serve handles one request: it decodes a task.Request from r, executes it
// and encodes the Envelope to w. A failing task is reported in the envelope;
// only protocol failures are returned as errors.
func Serve(ctx context.Context, r io.Reader, w io.Writer, reg *task.Registry, results nodestore.Store) error {
	logger := ctxlog.FromContext(ctx)

	var req task.Request
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return fmt.Errorf("decoding request: %w", err)
	}
	logger = logger.With("node", req.Node, "kind", req.Task.Kind)
	logger.Debug("Worker received request.")

	start := time.Now()
	out, err := task.Execute(ctx, reg, results, req)
	env := Envelope{
		Status:          StatusOK,
		Payload:         out,
		WallTimeNs:      time.Since(start).Nanoseconds(),
		PeakMemoryBytes: selfPeakMemory(),
	}
	if err != nil {
		logger.Debug("Task failed in worker.", "error", err)
		msg := err.Error()
		var taskErr *task.Error
		if errors.As(err, &taskErr) {
			msg = taskErr.Err.Error()
		}
		env = Envelope{Status: StatusError, Error: msg, WallTimeNs: env.WallTimeNs, PeakMemoryBytes: env.PeakMemoryBytes}
	}

	if err := json.NewEncoder(w).Encode(env); err != nil {
		return fmt.Errorf("encoding reply: %w", err)
	}
	return nil
}
