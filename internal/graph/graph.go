package graph

import (
	"fmt"
	"math"
)

// Graph is a directed graph of nodes and bound edges.
type Graph struct {
	BaseDir string
	Config  map[string]string

	nodes  []*Node
	edges  []*Edge
	out    [][]int
	in     [][]int
	pairs  map[[2]NodeID]int
	byName map[string]NodeID
}

// New returns an empty graph. Node working directories default to their
// hierarchy path below baseDir.
func New(baseDir string, config map[string]string) *Graph {
	return &Graph{
		BaseDir: baseDir,
		Config:  copyStrings(config),
		pairs:   make(map[[2]NodeID]int),
		byName:  make(map[string]NodeID),
	}
}

// AddNode copies n into the arena and returns its id. The copy inherits the
// graph config underneath its own entries.
func (g *Graph) AddNode(n Node) (NodeID, error) {
	name := n.Address.String()
	if name == "" {
		return 0, fmt.Errorf("node has an empty address")
	}
	if _, exists := g.byName[name]; exists {
		return 0, fmt.Errorf("duplicate node %q", name)
	}
	if err := checkEstimates(name, &n); err != nil {
		return 0, err
	}

	cp := n.clone()
	cp.ID = NodeID(len(g.nodes))
	if cp.WorkDir == "" {
		cp.WorkDir = cp.Address.Dir(g.BaseDir)
	}
	if len(g.Config) > 0 {
		merged := copyStrings(g.Config)
		for k, v := range cp.Config {
			merged[k] = v
		}
		cp.Config = merged
	}

	g.nodes = append(g.nodes, cp)
	g.out = append(g.out, nil)
	g.in = append(g.in, nil)
	g.byName[name] = cp.ID
	return cp.ID, nil
}

// checkEstimates rejects resource estimates the scheduler cannot reserve.
func checkEstimates(name string, n *Node) error {
	if n.MemoryGB < 0 || math.IsNaN(n.MemoryGB) || math.IsInf(n.MemoryGB, 0) {
		return fmt.Errorf("node %q: memory estimate must be a non-negative number, got %v", name, n.MemoryGB)
	}
	if n.NProcs < 0 {
		return fmt.Errorf("node %q: processor estimate must not be negative, got %d", name, n.NProcs)
	}
	return nil
}

// Connect adds a dependency of to on from. Repeated calls for the same pair
// extend the bindings of the existing edge.
func (g *Graph) Connect(from, to NodeID, bindings ...FieldBinding) error {
	if !g.valid(from) || !g.valid(to) {
		return fmt.Errorf("edge %d -> %d references an unknown node", from, to)
	}
	if from == to {
		return fmt.Errorf("node %s cannot depend on itself", g.nodes[from].FullName())
	}

	key := [2]NodeID{from, to}
	if idx, ok := g.pairs[key]; ok {
		g.edges[idx].Bindings = append(g.edges[idx].Bindings, bindings...)
		return nil
	}

	idx := len(g.edges)
	g.edges = append(g.edges, &Edge{From: from, To: to, Bindings: append([]FieldBinding(nil), bindings...)})
	g.pairs[key] = idx
	g.out[from] = append(g.out[from], idx)
	g.in[to] = append(g.in[to], idx)
	return nil
}

// ConnectNames is Connect by full node name.
func (g *Graph) ConnectNames(from, to string, bindings ...FieldBinding) error {
	f, ok := g.byName[from]
	if !ok {
		return fmt.Errorf("unknown node %q", from)
	}
	t, ok := g.byName[to]
	if !ok {
		return fmt.Errorf("unknown node %q", to)
	}
	return g.Connect(f, t, bindings...)
}

func (g *Graph) valid(id NodeID) bool {
	return id >= 0 && int(id) < len(g.nodes)
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// Node returns the node with the given id. It panics on an id from another graph.
func (g *Graph) Node(id NodeID) *Node {
	return g.nodes[id]
}

// Nodes returns the nodes in id order.
func (g *Graph) Nodes() []*Node {
	return append([]*Node(nil), g.nodes...)
}

// Lookup finds a node by its full name.
func (g *Graph) Lookup(name string) (*Node, bool) {
	id, ok := g.byName[name]
	if !ok {
		return nil, false
	}
	return g.nodes[id], true
}

// Edges returns all edges in insertion order.
func (g *Graph) Edges() []Edge {
	out := make([]Edge, len(g.edges))
	for i, e := range g.edges {
		out[i] = *e
	}
	return out
}

// Edge returns the edge from -> to, if any.
func (g *Graph) Edge(from, to NodeID) (Edge, bool) {
	idx, ok := g.pairs[[2]NodeID{from, to}]
	if !ok {
		return Edge{}, false
	}
	return *g.edges[idx], true
}

// InEdges returns the edges ending at id.
func (g *Graph) InEdges(id NodeID) []Edge {
	out := make([]Edge, 0, len(g.in[id]))
	for _, idx := range g.in[id] {
		out = append(out, *g.edges[idx])
	}
	return out
}

// OutEdges returns the edges starting at id.
func (g *Graph) OutEdges(id NodeID) []Edge {
	out := make([]Edge, 0, len(g.out[id]))
	for _, idx := range g.out[id] {
		out = append(out, *g.edges[idx])
	}
	return out
}

// Predecessors returns the producers id depends on.
func (g *Graph) Predecessors(id NodeID) []NodeID {
	out := make([]NodeID, 0, len(g.in[id]))
	for _, idx := range g.in[id] {
		out = append(out, g.edges[idx].From)
	}
	return out
}

// Successors returns the consumers depending on id.
func (g *Graph) Successors(id NodeID) []NodeID {
	out := make([]NodeID, 0, len(g.out[id]))
	for _, idx := range g.out[id] {
		out = append(out, g.edges[idx].To)
	}
	return out
}

// InDegree returns the number of incoming edges of id.
func (g *Graph) InDegree(id NodeID) int {
	return len(g.in[id])
}

// OutDegree returns the number of outgoing edges of id.
func (g *Graph) OutDegree(id NodeID) int {
	return len(g.out[id])
}
