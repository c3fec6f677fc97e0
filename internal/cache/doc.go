// Package cache persists derived graph artifacts (the expanded graph, its
// partitions, chunk plans) as binary blobs next to the run working
// directory, keyed by a content identity.
//
// The identity folds the artifact kind together with the hashes of the
// specification, the input manifest and the program version, so any
// upstream change yields a new file name and a miss. Nothing is ever
// invalidated explicitly. A blob that cannot be decoded, or whose header
// names a different kind or identity, is logged, deleted and reported as a
// miss; callers simply rebuild.
package cache
