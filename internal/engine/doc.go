// Package engine ties the pipeline together for one run: it builds or loads
// the graph, partitions it, plans chunks and schedules them one after
// another. Every artifact derived from the graph file goes through the
// cache when one is configured.
//
// All dependencies are passed in through a Context; the package keeps no
// global state.
package engine
