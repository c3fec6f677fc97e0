package testutil

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/specialistvlad/chunkflow/internal/graph"
	"github.com/specialistvlad/chunkflow/internal/nodeid"
	"github.com/specialistvlad/chunkflow/internal/task"
	"github.com/stretchr/testify/require"
)

// DAGOptions shape a randomly generated graph.
type DAGOptions struct {
	Nodes int
	// EdgeProb is the probability of an edge between any earlier and later node.
	EdgeProb float64
	// MaxMemoryGB bounds declared node memory, drawn uniformly in (0, MaxMemoryGB].
	MaxMemoryGB float64
	MaxProcs    int
	// Subjects spreads nodes over sub-XX hierarchy prefixes. Zero puts every
	// node under "model".
	Subjects int
}

// RandomDAG builds an acyclic graph by only ever connecting a lower index to
// a higher one. Every edge binds the producer output "out" to an input named
// after the producer.
func RandomDAG(t *testing.T, rng *rand.Rand, baseDir string, opts DAGOptions) *graph.Graph {
	t.Helper()
	if opts.MaxMemoryGB <= 0 {
		opts.MaxMemoryGB = 4
	}
	if opts.MaxProcs <= 0 {
		opts.MaxProcs = 1
	}

	g := graph.New(baseDir, map[string]string{"pipeline": "random"})
	ids := make([]graph.NodeID, opts.Nodes)
	for i := 0; i < opts.Nodes; i++ {
		scope := "model"
		if opts.Subjects > 0 {
			scope = fmt.Sprintf("sub-%02d", rng.Intn(opts.Subjects)+1)
		}
		id, err := g.AddNode(graph.Node{
			Address:  *nodeid.MustParse(fmt.Sprintf("pipeline.%s.n%03d", scope, i)),
			MemoryGB: float64(rng.Intn(int(opts.MaxMemoryGB*4))+1) / 4,
			NProcs:   rng.Intn(opts.MaxProcs) + 1,
			Task:     task.Descriptor{Kind: task.KindValue, Params: map[string]any{"out": i}},
		})
		require.NoError(t, err)
		ids[i] = id
	}
	for j := 1; j < opts.Nodes; j++ {
		for i := 0; i < j; i++ {
			if rng.Float64() < opts.EdgeProb {
				require.NoError(t, g.Connect(ids[i], ids[j], graph.FieldBinding{Output: "out", Input: fmt.Sprintf("in%03d", i)}))
			}
		}
	}
	return g
}

// Spec describes one node for Build.
type Spec struct {
	Name     string
	MemoryGB float64
	NProcs   int
	Kind     string
	Params   map[string]any
	Inputs   map[string]any
	Keep     bool
	Category string
}

// Link describes one edge for Build. An empty Output makes an ordering-only edge.
type Link struct {
	From, To      string
	Output, Input string
}

// Build creates a graph from compact node and edge tables. Nodes default to
// the value kind emitting {"out": <name>}.
func Build(t *testing.T, baseDir string, nodes []Spec, links []Link) *graph.Graph {
	t.Helper()
	g := graph.New(baseDir, map[string]string{"pipeline": "test"})
	for _, s := range nodes {
		kind := s.Kind
		params := s.Params
		if kind == "" {
			kind = task.KindValue
			if params == nil {
				params = map[string]any{"out": s.Name}
			}
		}
		procs := s.NProcs
		if procs == 0 {
			procs = 1
		}
		_, err := g.AddNode(graph.Node{
			Address:  *nodeid.MustParse(s.Name),
			MemoryGB: s.MemoryGB,
			NProcs:   procs,
			Task:     task.Descriptor{Kind: kind, Params: params},
			Keep:     s.Keep,
			Category: s.Category,
			Inputs:   s.Inputs,
		})
		require.NoError(t, err)
	}
	for _, l := range links {
		var bindings []graph.FieldBinding
		if l.Output != "" {
			bindings = append(bindings, graph.FieldBinding{Output: l.Output, Input: l.Input})
		}
		require.NoError(t, g.ConnectNames(l.From, l.To, bindings...))
	}
	require.NoError(t, g.Validate())
	return g
}
