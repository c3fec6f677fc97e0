// Package inmemorystore provides an ephemeral, thread-safe, in-memory
// implementation of the nodestore.Store interface.
//
// Records are keyed by the cleaned working directory path. Nothing touches
// the filesystem, which makes the store the default in scheduler and
// partitioner tests. Removing a directory through RemoveAll also drops every
// record below it, mirroring what deleting the directory does to the
// on-disk store.
package inmemorystore
