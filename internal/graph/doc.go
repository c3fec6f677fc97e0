// Package graph holds the execution graph: an arena of nodes addressed by
// dense integer ids, with explicit edges that carry field bindings.
//
// Every node keeps indexed lists of its incoming and outgoing edges, so
// successor and predecessor lookups never scan the edge set. A graph is
// built once, validated as acyclic and then treated as read-only by the
// partitioner and the scheduler, both of which derive new graphs (Induce,
// Union) instead of mutating the one they were given.
//
// Identity returns a content hash over everything that influences
// execution. It is the basis of the cache keys used by internal/cache.
package graph
