package scheduler

import "fmt"

// TaskExecutionError reports the node that aborted a chunk.
type TaskExecutionError struct {
	Chunk int
	Node  string
	Err   error
}

func (e *TaskExecutionError) Error() string {
	return fmt.Sprintf("chunk %d: node %s failed: %v", e.Chunk, e.Node, e.Err)
}

func (e *TaskExecutionError) Unwrap() error {
	return e.Err
}

// ResourceOverrunWarning records a node that used more memory than it
// declared. It never aborts a run.
type ResourceOverrunWarning struct {
	Node       string
	DeclaredGB float64
	ObservedGB float64
}

func (w *ResourceOverrunWarning) Error() string {
	return fmt.Sprintf("node %s used %.2f GB of memory, declared %.2f GB", w.Node, w.ObservedGB, w.DeclaredGB)
}
