package graph

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

type snapshot struct {
	BaseDir string            `msgpack:"base_dir"`
	Config  map[string]string `msgpack:"config,omitempty"`
	Nodes   []*Node           `msgpack:"nodes"`
	Edges   []Edge            `msgpack:"edges"`
}

var (
	_ msgpack.CustomEncoder = (*Graph)(nil)
	_ msgpack.CustomDecoder = (*Graph)(nil)
)

// EncodeMsgpack writes the arena in id order.
func (g *Graph) EncodeMsgpack(enc *msgpack.Encoder) error {
	return enc.Encode(snapshot{BaseDir: g.BaseDir, Config: g.Config, Nodes: g.nodes, Edges: g.Edges()})
}

// DecodeMsgpack rebuilds the arena and its indexes.
func (g *Graph) DecodeMsgpack(dec *msgpack.Decoder) error {
	var s snapshot
	if err := dec.Decode(&s); err != nil {
		return err
	}
	*g = *New(s.BaseDir, s.Config)
	for i, n := range s.Nodes {
		if n == nil || int(n.ID) != i {
			return fmt.Errorf("graph snapshot: node %d out of order", i)
		}
		if err := checkEstimates(n.FullName(), n); err != nil {
			return fmt.Errorf("graph snapshot: %w", err)
		}
		g.appendNode(n)
	}
	for _, e := range s.Edges {
		if err := g.Connect(e.From, e.To, e.Bindings...); err != nil {
			return fmt.Errorf("graph snapshot: %w", err)
		}
	}
	return nil
}
