package partition

import (
	"sort"

	"github.com/specialistvlad/chunkflow/internal/graph"
)

// DefaultName labels the default partition in logs and config snapshots.
const DefaultName = "model"

// Partition is one independently schedulable subgraph.
type Partition struct {
	Key   string       `msgpack:"key"`
	Graph *graph.Graph `msgpack:"graph"`

	// ExternalInputs holds literal values for inputs whose producer lived
	// outside the partition: consumer full name -> input field -> value.
	ExternalInputs map[string]map[string]any `msgpack:"external_inputs,omitempty"`
	// ExternalOutputs redirects inputs to the result of a node in another
	// partition: consumer full name -> input field -> result location.
	ExternalOutputs map[string]map[string]graph.ResultRef `msgpack:"external_outputs,omitempty"`
	// Prerequisites lists results in other partitions a consumer must wait
	// for without reading any of their fields: consumer full name -> results.
	Prerequisites map[string][]graph.ResultRef `msgpack:"prerequisites,omitempty"`
}

// Name returns the key, or DefaultName for the default partition.
func (p *Partition) Name() string {
	if p.Key == DefaultKey {
		return DefaultName
	}
	return p.Key
}

// Len returns the number of member nodes.
func (p *Partition) Len() int {
	if p == nil || p.Graph == nil {
		return 0
	}
	return p.Graph.Len()
}

// Set is the result of splitting one graph.
type Set struct {
	// Partitions holds the keyed partitions sorted by key.
	Partitions []*Partition `msgpack:"partitions"`
	// Default holds the nodes no classifier key claimed. It may be empty.
	Default *Partition `msgpack:"default"`
	// Inlined lists the nodes that were executed at split time.
	Inlined []string `msgpack:"inlined,omitempty"`
	// Collapsed lists pass-through nodes removed from the default partition.
	Collapsed []string `msgpack:"collapsed,omitempty"`
}

// Keys returns the partition keys in order.
func (s *Set) Keys() []string {
	keys := make([]string, len(s.Partitions))
	for i, p := range s.Partitions {
		keys[i] = p.Key
	}
	return keys
}

// Lookup returns the keyed partition, or the default one for DefaultKey.
func (s *Set) Lookup(key string) (*Partition, bool) {
	if key == DefaultKey {
		return s.Default, s.Default != nil
	}
	i := sort.Search(len(s.Partitions), func(i int) bool { return s.Partitions[i].Key >= key })
	if i < len(s.Partitions) && s.Partitions[i].Key == key {
		return s.Partitions[i], true
	}
	return nil, false
}

// NodeCount returns the number of nodes across all partitions.
func (s *Set) NodeCount() int {
	total := s.Default.Len()
	for _, p := range s.Partitions {
		total += p.Len()
	}
	return total
}
