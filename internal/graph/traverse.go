package graph

import (
	"container/heap"
	"fmt"
	"sort"
	"strings"
)

// CycleError reports nodes that could not be ordered.
type CycleError struct {
	Nodes []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("graph contains a cycle through: %s", strings.Join(e.Nodes, ", "))
}

// idHeap is a min-heap of node ids.
type idHeap []NodeID

func (h idHeap) Len() int           { return len(h) }
func (h idHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h idHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *idHeap) Push(x any)        { *h = append(*h, x.(NodeID)) }
func (h *idHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// TopoOrder returns the nodes in dependency order. Among nodes that are
// ready at the same time the lower id comes first, so the order is stable.
func (g *Graph) TopoOrder() ([]NodeID, error) {
	indeg := make([]int, len(g.nodes))
	ready := &idHeap{}
	for id := range g.nodes {
		indeg[id] = len(g.in[id])
		if indeg[id] == 0 {
			*ready = append(*ready, NodeID(id))
		}
	}
	heap.Init(ready)

	order := make([]NodeID, 0, len(g.nodes))
	for ready.Len() > 0 {
		id := heap.Pop(ready).(NodeID)
		order = append(order, id)
		for _, succ := range g.Successors(id) {
			indeg[succ]--
			if indeg[succ] == 0 {
				heap.Push(ready, succ)
			}
		}
	}

	if len(order) != len(g.nodes) {
		var stuck []string
		for id, d := range indeg {
			if d > 0 {
				stuck = append(stuck, g.nodes[id].FullName())
			}
		}
		sort.Strings(stuck)
		return nil, &CycleError{Nodes: stuck}
	}
	return order, nil
}

// Validate checks that the graph is acyclic.
func (g *Graph) Validate() error {
	_, err := g.TopoOrder()
	return err
}

// Ancestors returns every node id reaches backwards, excluding id itself,
// in ascending id order.
func (g *Graph) Ancestors(id NodeID) []NodeID {
	return g.reach(id, g.Predecessors)
}

// Descendants returns every node reachable from id, excluding id itself,
// in ascending id order.
func (g *Graph) Descendants(id NodeID) []NodeID {
	return g.reach(id, g.Successors)
}

func (g *Graph) reach(start NodeID, next func(NodeID) []NodeID) []NodeID {
	visited := map[NodeID]bool{start: true}
	stack := []NodeID{start}
	var out []NodeID
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, n := range next(id) {
			if visited[n] {
				continue
			}
			visited[n] = true
			out = append(out, n)
			stack = append(stack, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
