package graph

import "fmt"

// Induce returns the subgraph made of ids and the edges between them. Nodes
// are renumbered densely in ascending order of their original id; the
// returned map translates original ids to new ones. Node working
// directories and config snapshots are kept, extra is merged into the
// config of the new graph and of every copied node.
func (g *Graph) Induce(ids []NodeID, extra map[string]string) (*Graph, map[NodeID]NodeID) {
	members := make([]bool, len(g.nodes))
	for _, id := range ids {
		members[id] = true
	}

	cfg := copyStrings(g.Config)
	if cfg == nil && len(extra) > 0 {
		cfg = make(map[string]string, len(extra))
	}
	for k, v := range extra {
		cfg[k] = v
	}
	sub := New(g.BaseDir, nil)
	sub.Config = cfg

	mapping := make(map[NodeID]NodeID, len(ids))
	for id, n := range g.nodes {
		if !members[id] {
			continue
		}
		cp := n.clone()
		if len(extra) > 0 {
			if cp.Config == nil {
				cp.Config = make(map[string]string, len(extra))
			}
			for k, v := range extra {
				cp.Config[k] = v
			}
		}
		mapping[NodeID(id)] = sub.appendNode(cp)
	}

	for _, e := range g.edges {
		if members[e.From] && members[e.To] {
			_ = sub.Connect(mapping[e.From], mapping[e.To], e.Bindings...)
		}
	}
	return sub, mapping
}

// appendNode adds an already prepared node without applying defaults.
func (g *Graph) appendNode(n *Node) NodeID {
	n.ID = NodeID(len(g.nodes))
	g.nodes = append(g.nodes, n)
	g.out = append(g.out, nil)
	g.in = append(g.in, nil)
	g.byName[n.FullName()] = n.ID
	return n.ID
}

// Union composes graphs into one. Node names must be unique across the
// inputs. Base dir and config come from the first graph.
func Union(graphs ...*Graph) (*Graph, error) {
	if len(graphs) == 0 {
		return New("", nil), nil
	}
	u := New(graphs[0].BaseDir, graphs[0].Config)
	for _, g := range graphs {
		mapping := make([]NodeID, len(g.nodes))
		for id, n := range g.nodes {
			if _, dup := u.byName[n.FullName()]; dup {
				return nil, fmt.Errorf("node %q appears in more than one graph", n.FullName())
			}
			mapping[id] = u.appendNode(n.clone())
		}
		for _, e := range g.edges {
			if err := u.Connect(mapping[e.From], mapping[e.To], e.Bindings...); err != nil {
				return nil, err
			}
		}
	}
	return u, nil
}
