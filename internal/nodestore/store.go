// Package nodestore defines how the outcome of a finished node is kept.
//
// A node result outlives the scheduler run that produced it: a later chunk
// reads results of nodes that ran in an earlier chunk (outbound boundary
// redirections), and a resumed run skips every node whose result already
// exists. The record is therefore keyed by the node working directory, not
// by any in-memory id.
//
// Two implementations exist: internal/diskstore writes the record to
// `<workdir>/result.bin` and is what real runs use, internal/inmemorystore
// keeps records in a map for tests.
package nodestore

import (
	"context"
	"errors"
	"time"
)

// ResultFile is the file name of a node result inside its working directory.
const ResultFile = "result.bin"

// ErrNotFound is returned by Get when no result was recorded for a directory.
var ErrNotFound = errors.New("nodestore: result not found")

// Record is the persisted outcome of one successful node execution.
type Record struct {
	Node       string         `msgpack:"node"`
	Outputs    map[string]any `msgpack:"outputs"`
	FinishedAt time.Time      `msgpack:"finished_at"`
}

// Store persists node results.
//
// Implementations MUST be safe for concurrent use: results are written by
// task runners while the coordinator reads redirected outputs.
type Store interface {
	// Put records the result for the node owning workDir, replacing any
	// previous record.
	Put(ctx context.Context, workDir string, rec *Record) error

	// Get returns the record for workDir, or ErrNotFound.
	Get(ctx context.Context, workDir string) (*Record, error)

	// Exists reports whether a record for workDir is present.
	Exists(ctx context.Context, workDir string) (bool, error)
}
