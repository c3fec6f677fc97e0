package graph

import (
	"github.com/specialistvlad/chunkflow/internal/nodeid"
	"github.com/specialistvlad/chunkflow/internal/task"
)

// NodeID is the index of a node inside its graph's arena. IDs are dense
// and only meaningful for the graph that assigned them.
type NodeID int

// Node is one unit of work.
type Node struct {
	ID      NodeID         `msgpack:"id"`
	Address nodeid.Address `msgpack:"address"`

	// MemoryGB and NProcs are the declared resource estimates used for
	// admission control.
	MemoryGB float64 `msgpack:"memory_gb"`
	NProcs   int     `msgpack:"n_procs"`

	Task    task.Descriptor `msgpack:"task"`
	WorkDir string          `msgpack:"work_dir"`

	// Keep protects the working directory from reclamation.
	Keep bool `msgpack:"keep"`
	// Category groups nodes for keep policies, e.g. "anatomical_preproc".
	Category string `msgpack:"category,omitempty"`

	// Config is the configuration snapshot inherited from the owning graph.
	Config map[string]string `msgpack:"config,omitempty"`
	// Inputs are literal input values.
	Inputs map[string]any `msgpack:"inputs,omitempty"`
}

// FullName is the canonical address string of the node.
func (n *Node) FullName() string {
	return n.Address.String()
}

// IsPassthrough reports whether the node only forwards its inputs.
func (n *Node) IsPassthrough() bool {
	return n.Task.IsPassthrough()
}

func (n *Node) clone() *Node {
	cp := *n
	cp.Address = nodeid.Address{Path: append([]nodeid.PathSegment(nil), n.Address.Path...)}
	cp.Config = copyStrings(n.Config)
	if n.Inputs != nil {
		cp.Inputs = make(map[string]any, len(n.Inputs))
		for k, v := range n.Inputs {
			cp.Inputs[k] = v
		}
	}
	return &cp
}

// FieldBinding connects one output field of the producer to one input field
// of the consumer. A binding with HasLiteral set carries its value directly
// and does not read the producer.
type FieldBinding struct {
	Output     string `msgpack:"output,omitempty"`
	Input      string `msgpack:"input"`
	Literal    any    `msgpack:"literal,omitempty"`
	HasLiteral bool   `msgpack:"has_literal,omitempty"`
}

// Edge is a dependency of To on From. An edge without bindings only orders
// execution.
type Edge struct {
	From     NodeID         `msgpack:"from"`
	To       NodeID         `msgpack:"to"`
	Bindings []FieldBinding `msgpack:"bindings,omitempty"`
}

// ResultRef points at one output field of a node that lives in another
// graph, by the location of its result record.
type ResultRef struct {
	Node    string `msgpack:"node"`
	WorkDir string `msgpack:"work_dir"`
	Field   string `msgpack:"field"`
}

func copyStrings(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
