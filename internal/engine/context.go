package engine

import (
	"github.com/specialistvlad/chunkflow/internal/cache"
	"github.com/specialistvlad/chunkflow/internal/chunk"
	"github.com/specialistvlad/chunkflow/internal/nodestore"
	"github.com/specialistvlad/chunkflow/internal/partition"
	"github.com/specialistvlad/chunkflow/internal/scheduler"
	"github.com/specialistvlad/chunkflow/internal/task"
)

// Config holds the plain settings of a run.
type Config struct {
	// CacheDir is where cache blobs are written. Required when a cache is
	// configured.
	CacheDir string
	// Source identifies the graph file content the artifacts derive from.
	Source cache.Source

	Strategy  chunk.Strategy
	Chunking  chunk.Options
	Scheduler scheduler.Options
}

// Context holds everything a run needs.
type Context struct {
	Config

	// Cache is optional. Without it every artifact is recomputed.
	Cache *cache.Cache
	// Runner executes scheduled nodes.
	Runner task.Runner
	// Inliner executes inbound producers while partitioning. Defaults to
	// Runner.
	Inliner task.Runner
	// Results is the per-node result store shared by runners and scheduler.
	Results nodestore.Store
	// Classifier assigns partition keys. Without one every node lands in the
	// default partition.
	Classifier partition.Classifier
}
