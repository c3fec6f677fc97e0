package task

import (
	"context"
	"fmt"
	"time"
)

// Inputs are the named values a task receives.
type Inputs map[string]any

// Result holds the named outputs a task produced.
type Result map[string]any

// Task is the runnable body of a node.
type Task interface {
	Run(ctx context.Context, inputs Inputs) (Result, error)
}

// Func adapts a plain function to the Task interface.
type Func func(ctx context.Context, inputs Inputs) (Result, error)

// Run calls f.
func (f Func) Run(ctx context.Context, inputs Inputs) (Result, error) {
	return f(ctx, inputs)
}

// Descriptor is the serializable form of a task: the kind selects the
// implementation in a Registry, Params configure it.
type Descriptor struct {
	Kind   string         `json:"kind" msgpack:"kind"`
	Params map[string]any `json:"params,omitempty" msgpack:"params,omitempty"`
}

// IsPassthrough reports whether the descriptor only forwards its inputs.
func (d Descriptor) IsPassthrough() bool {
	return d.Kind == KindIdentity
}

func (d Descriptor) String() string {
	return d.Kind
}

// Request is everything needed to execute one node outside the graph.
type Request struct {
	Node    string     `json:"node"`
	WorkDir string     `json:"work_dir"`
	Task    Descriptor `json:"task"`
	Inputs  Inputs     `json:"inputs,omitempty"`
}

// Outcome describes one finished execution. It is returned for failed runs
// as well, so resource usage can still be reported.
type Outcome struct {
	Node            string
	Outputs         Result
	PeakMemoryBytes int64
	WallTime        time.Duration
}

// Runner executes a single request to completion.
type Runner interface {
	Run(ctx context.Context, req Request) (*Outcome, error)
}

// Error wraps a failure raised by a task body.
type Error struct {
	Node string
	Kind string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("task %s (%s) failed: %v", e.Node, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
