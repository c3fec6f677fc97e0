package graph

import "fmt"

// MissingOutputError is returned when a binding refers to an output the
// producer did not report.
type MissingOutputError struct {
	Producer string
	Consumer string
	Field    string
}

func (e *MissingOutputError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("outputs of %s are not available to %s", e.Producer, e.Consumer)
	}
	return fmt.Sprintf("%s has no output %q required by %s", e.Producer, e.Field, e.Consumer)
}

// OutputLookup returns the outputs of a finished node.
type OutputLookup func(NodeID) (map[string]any, bool)

// Inputs assembles the input values of id: its literal inputs first, then
// every incoming binding, either its literal or the producer output looked
// up through outputs. Ordering-only edges contribute nothing.
func (g *Graph) Inputs(id NodeID, outputs OutputLookup) (map[string]any, error) {
	n := g.nodes[id]
	in := make(map[string]any, len(n.Inputs))
	for k, v := range n.Inputs {
		in[k] = v
	}

	for _, idx := range g.in[id] {
		e := g.edges[idx]
		for _, b := range e.Bindings {
			if b.HasLiteral {
				in[b.Input] = b.Literal
				continue
			}
			out, ok := outputs(e.From)
			if !ok {
				return nil, &MissingOutputError{Producer: g.nodes[e.From].FullName(), Consumer: n.FullName()}
			}
			v, ok := out[b.Output]
			if !ok {
				return nil, &MissingOutputError{Producer: g.nodes[e.From].FullName(), Consumer: n.FullName(), Field: b.Output}
			}
			in[b.Input] = v
		}
	}
	return in, nil
}
