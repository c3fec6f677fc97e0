// Package isolation runs single nodes in worker subprocesses.
//
// The parent writes a JSON encoded task.Request to the worker's stdin. The
// worker (any executable calling Serve, normally `chunkflow worker`)
// resolves the task kind through a task.Registry, runs it, writes the node
// result file and replies with one JSON Envelope on stdout. Everything the
// worker writes to stderr is captured and attached to failures.
//
// A Backend supplies the OS specific pieces: putting the worker in its own
// process group, signalling that group on cancellation and reading the
// peak resident memory of the finished process.
package isolation
