package config

import (
	"fmt"

	"github.com/specialistvlad/chunkflow/internal/graph"
	"github.com/specialistvlad/chunkflow/internal/nodeid"
	"github.com/specialistvlad/chunkflow/internal/task"
)

// Build turns the spec into a validated graph. A non-empty baseDir replaces
// the base directory of the spec. Inputs without an output name read the
// producer output of the same name.
func (s *GraphSpec) Build(baseDir string) (*graph.Graph, error) {
	if baseDir == "" {
		baseDir = s.BaseDir
	}
	g := graph.New(baseDir, s.Config)

	for _, n := range s.Nodes {
		addr, err := nodeid.Parse(n.Address)
		if err != nil {
			return nil, fmt.Errorf("node %q: %w", n.Address, err)
		}
		kind := n.Kind
		if kind == "" {
			kind = task.KindIdentity
		}
		literals := make(map[string]any)
		for _, in := range n.Inputs {
			if in.HasValue {
				literals[in.Field] = in.Value
			}
		}
		if len(literals) == 0 {
			literals = nil
		}
		if _, err := g.AddNode(graph.Node{
			Address:  *addr,
			MemoryGB: n.MemoryGB,
			NProcs:   n.NProcs,
			Task:     task.Descriptor{Kind: kind, Params: n.Params},
			Keep:     n.Keep,
			Category: n.Category,
			Inputs:   literals,
		}); err != nil {
			return nil, err
		}
	}

	for _, n := range s.Nodes {
		for _, in := range n.Inputs {
			if in.HasValue {
				continue
			}
			if in.From == "" {
				return nil, fmt.Errorf("node %q: input %q needs either from or value", n.Address, in.Field)
			}
			output := in.Output
			if output == "" {
				output = in.Field
			}
			if err := g.ConnectNames(in.From, n.Address, graph.FieldBinding{Output: output, Input: in.Field}); err != nil {
				return nil, fmt.Errorf("node %q: input %q: %w", n.Address, in.Field, err)
			}
		}
		for _, dep := range n.DependsOn {
			if err := g.ConnectNames(dep, n.Address); err != nil {
				return nil, fmt.Errorf("node %q: depends_on: %w", n.Address, err)
			}
		}
	}

	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}
