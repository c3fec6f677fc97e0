/*
Package nodeid provides the hierarchy path that names every node of an
execution graph, e.g. `pipeline.sub-01.anat.reorient`.

The last segment is the node name and everything before it is the hierarchy
path. A segment may carry an index suffix (`bold[2]`) for nodes that were
expanded from an iterable. The hierarchy also decides where a node keeps its
working directory: `<base>/<hierarchy path...>/<node name>`.
*/
package nodeid
