// Package chunk groups partitions into chunks: ordered bundles composed into
// a single graph that one scheduler run executes.
//
// Keyed partitions are grouped contiguously in key order. The default
// partition, when it has nodes and is not excluded, always forms the last
// chunk on its own because it reads the results of every other chunk.
package chunk
