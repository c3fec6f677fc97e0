package graph

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

type canonicalNode struct {
	Name     string            `json:"name"`
	MemoryGB float64           `json:"memory_gb"`
	NProcs   int               `json:"n_procs"`
	Kind     string            `json:"kind"`
	Params   map[string]any    `json:"params"`
	WorkDir  string            `json:"work_dir"`
	Keep     bool              `json:"keep"`
	Category string            `json:"category"`
	Config   map[string]string `json:"config"`
	Inputs   map[string]any    `json:"inputs"`
}

type canonicalEdge struct {
	From     string         `json:"from"`
	To       string         `json:"to"`
	Bindings []FieldBinding `json:"bindings"`
}

type canonicalGraph struct {
	BaseDir string            `json:"base_dir"`
	Config  map[string]string `json:"config"`
	Nodes   []canonicalNode   `json:"nodes"`
	Edges   []canonicalEdge   `json:"edges"`
}

// Identity returns a hex SHA-256 over the canonical content of the graph.
// Node ids do not take part: two graphs with the same named nodes and edges
// have the same identity regardless of insertion order.
func (g *Graph) Identity() (string, error) {
	c := canonicalGraph{BaseDir: g.BaseDir, Config: g.Config}
	for _, n := range g.nodes {
		c.Nodes = append(c.Nodes, canonicalNode{
			Name:     n.FullName(),
			MemoryGB: n.MemoryGB,
			NProcs:   n.NProcs,
			Kind:     n.Task.Kind,
			Params:   n.Task.Params,
			WorkDir:  n.WorkDir,
			Keep:     n.Keep,
			Category: n.Category,
			Config:   n.Config,
			Inputs:   n.Inputs,
		})
	}
	sort.Slice(c.Nodes, func(i, j int) bool { return c.Nodes[i].Name < c.Nodes[j].Name })

	for _, e := range g.edges {
		c.Edges = append(c.Edges, canonicalEdge{
			From:     g.nodes[e.From].FullName(),
			To:       g.nodes[e.To].FullName(),
			Bindings: e.Bindings,
		})
	}
	sort.Slice(c.Edges, func(i, j int) bool {
		if c.Edges[i].From != c.Edges[j].From {
			return c.Edges[i].From < c.Edges[j].From
		}
		return c.Edges[i].To < c.Edges[j].To
	})

	raw, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("canonicalizing graph: %w", err)
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}
