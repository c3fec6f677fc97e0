package isolation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/specialistvlad/chunkflow/internal/ctxlog"
	"github.com/specialistvlad/chunkflow/internal/task"
)

// DefaultGracePeriod is how long a terminated worker may take to exit before
// it is killed.
const DefaultGracePeriod = 5 * time.Second

// WorkerError reports a worker that died or broke the reply protocol.
type WorkerError struct {
	Node     string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *WorkerError) Error() string {
	msg := fmt.Sprintf("worker for %s exited abnormally (code %d): %v", e.Node, e.ExitCode, e.Err)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

func (e *WorkerError) Unwrap() error {
	return e.Err
}

// Runner is a task.Runner that executes every request in a new worker
// process. Failed workers are never retried.
type Runner struct {
	// Command is the worker argv.
	Command []string
	// Env is appended to the environment of the parent.
	Env         []string
	Backend     Backend
	GracePeriod time.Duration
}

// NewRunner creates a runner starting command for each request.
func NewRunner(command []string, backend Backend) (*Runner, error) {
	if len(command) == 0 || command[0] == "" {
		return nil, errors.New("isolation: worker command is empty")
	}
	if backend == nil {
		backend = DefaultBackend()
	}
	return &Runner{Command: command, Backend: backend, GracePeriod: DefaultGracePeriod}, nil
}

// Run implements task.Runner.
func (r *Runner) Run(ctx context.Context, req task.Request) (*task.Outcome, error) {
	logger := ctxlog.FromContext(ctx).With("node", req.Node)
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding request for %s: %w", req.Node, err)
	}

	cmd := exec.CommandContext(ctx, r.Command[0], r.Command[1:]...)
	cmd.Env = append(os.Environ(), r.Env...)
	cmd.Stdin = bytes.NewReader(body)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	r.Backend.Prepare(cmd)
	cmd.Cancel = func() error { return r.Backend.Terminate(cmd.Process) }
	cmd.WaitDelay = r.GracePeriod
	if cmd.WaitDelay <= 0 {
		cmd.WaitDelay = DefaultGracePeriod
	}

	start := time.Now()
	runErr := cmd.Run()
	outcome := &task.Outcome{Node: req.Node, WallTime: time.Since(start)}
	exitCode := -1
	if cmd.ProcessState != nil {
		outcome.PeakMemoryBytes = r.Backend.PeakMemoryBytes(cmd.ProcessState)
		exitCode = cmd.ProcessState.ExitCode()
	}
	logger.Debug("Worker exited.", "wall_time", outcome.WallTime, "peak_memory_bytes", outcome.PeakMemoryBytes, "error", runErr)

	return reply(ctx, req, outcome, runErr, exitCode, stdout.Bytes(), strings.TrimSpace(stderr.String()))
}

// reply turns the worker output into an outcome. A complete reply wins over
// a cancellation that arrived after the worker answered.
func reply(ctx context.Context, req task.Request, outcome *task.Outcome, runErr error, exitCode int, stdout []byte, stderr string) (*task.Outcome, error) {
	var env Envelope
	decodeErr := json.Unmarshal(stdout, &env)
	if runErr != nil || decodeErr != nil {
		if ctx.Err() != nil {
			return outcome, fmt.Errorf("running %s: %w", req.Node, ctx.Err())
		}
		werr := &WorkerError{Node: req.Node, ExitCode: exitCode, Stderr: stderr, Err: runErr}
		if runErr == nil {
			werr.Err = fmt.Errorf("unreadable reply: %w", decodeErr)
		}
		return outcome, werr
	}

	outcome.PeakMemoryBytes = max(outcome.PeakMemoryBytes, env.PeakMemoryBytes)
	if env.WallTimeNs > 0 {
		outcome.WallTime = time.Duration(env.WallTimeNs)
	}
	switch env.Status {
	case StatusOK:
		outcome.Outputs = env.Payload
		if outcome.Outputs == nil {
			outcome.Outputs = task.Result{}
		}
		return outcome, nil
	case StatusError:
		return outcome, &task.Error{Node: req.Node, Kind: req.Task.Kind, Err: errors.New(env.Error)}
	default:
		return outcome, &WorkerError{Node: req.Node, ExitCode: exitCode, Stderr: stderr, Err: fmt.Errorf("unknown reply status %q", env.Status)}
	}
}
