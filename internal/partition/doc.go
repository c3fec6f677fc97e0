// Package partition splits an execution graph into independently
// schedulable subgraphs, one per classifier key (typically one per
// subject), plus a default partition holding everything else.
//
// Edges that cross a boundary are resolved at split time:
//
//   - default -> partition: the producer is environment data. It and every
//     node needed to compute it run immediately, their outputs are baked into
//     the consumers as literals and the nodes are dropped from the graph.
//   - partition -> default: the producer is kept and the consumer is told
//     where to read the producer result later. Pass-through nodes on either
//     side are collapsed so reads target the real producer.
//   - partition -> other partition: not separable, reported as
//     GraphMalformedError.
//
// Every node of the input graph ends up in exactly one partition, or in
// Set.Inlined, or in Set.Collapsed.
package partition
