// Package app contains the application lifecycle behind the CLI: it loads
// the graph and run configuration, wires the engine with its runner, result
// store and cache, and serves the health and status endpoints while a run is
// in progress. It is decoupled from flag parsing and process exit codes.
package app
