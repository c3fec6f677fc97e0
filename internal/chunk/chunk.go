package chunk

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/specialistvlad/chunkflow/internal/graph"
	"github.com/specialistvlad/chunkflow/internal/partition"
)

// Mode selects how partitions are grouped.
type Mode int

const (
	// ModeCount produces a fixed number of chunks.
	ModeCount Mode = iota
	// ModePerPartition produces one chunk per partition.
	ModePerPartition
	// ModeMaxPerChunk bounds the number of partitions in a chunk.
	ModeMaxPerChunk
)

// Strategy is a grouping mode with its parameter.
type Strategy struct {
	Mode Mode
	N    int
}

// ByCount spreads partitions over n chunks.
func ByCount(n int) Strategy { return Strategy{Mode: ModeCount, N: n} }

// PerPartition places every partition in its own chunk.
func PerPartition() Strategy { return Strategy{Mode: ModePerPartition} }

// MaxPerChunk places at most k partitions in a chunk.
func MaxPerChunk(k int) Strategy { return Strategy{Mode: ModeMaxPerChunk, N: k} }

// String names the strategy. It is part of the cache kind of a plan.
func (s Strategy) String() string {
	switch s.Mode {
	case ModeCount:
		return "count-" + strconv.Itoa(s.N)
	case ModePerPartition:
		return "per-partition"
	case ModeMaxPerChunk:
		return "max-" + strconv.Itoa(s.N)
	}
	return "unknown"
}

// Validate reports unusable parameters.
func (s Strategy) Validate() error {
	switch s.Mode {
	case ModeCount, ModeMaxPerChunk:
		if s.N <= 0 {
			return fmt.Errorf("chunk strategy %s: parameter must be positive", s)
		}
	case ModePerPartition:
	default:
		return fmt.Errorf("unknown chunk mode %d", s.Mode)
	}
	return nil
}

// Options refine a plan.
type Options struct {
	// ExcludeDefault drops the default partition chunk.
	ExcludeDefault bool
	// Only keeps just the chunk with this 1-based index. Zero keeps all.
	Only int
}

// Chunk is one schedulable unit.
type Chunk struct {
	// Index is 1-based and stable for a given partition set and strategy.
	Index int `msgpack:"index"`
	// Keys lists the member partitions in order. The default partition
	// appears as partition.DefaultKey.
	Keys  []string     `msgpack:"keys"`
	Graph *graph.Graph `msgpack:"graph"`

	ExternalInputs  map[string]map[string]any             `msgpack:"external_inputs,omitempty"`
	ExternalOutputs map[string]map[string]graph.ResultRef `msgpack:"external_outputs,omitempty"`
	Prerequisites   map[string][]graph.ResultRef          `msgpack:"prerequisites,omitempty"`
}

// IsDefault reports whether the chunk holds the default partition.
func (c *Chunk) IsDefault() bool {
	return len(c.Keys) == 1 && c.Keys[0] == partition.DefaultKey
}

// Name is a short label for logs.
func (c *Chunk) Name() string {
	if c.IsDefault() {
		return partition.DefaultName
	}
	return strings.Join(c.Keys, ",")
}

// Plan groups the partitions of set according to s.
func Plan(set *partition.Set, s Strategy, opts Options) ([]*Chunk, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}

	groups := group(set.Partitions, s)
	if !opts.ExcludeDefault && set.Default.Len() > 0 {
		groups = append(groups, []*partition.Partition{set.Default})
	}

	if opts.Only < 0 {
		return nil, fmt.Errorf("chunk index must not be negative, got %d", opts.Only)
	}
	if opts.Only > 0 {
		if opts.Only > len(groups) {
			return nil, nil
		}
		c, err := compose(opts.Only, groups[opts.Only-1])
		if err != nil {
			return nil, err
		}
		return []*Chunk{c}, nil
	}

	chunks := make([]*Chunk, 0, len(groups))
	for i, members := range groups {
		c, err := compose(i+1, members)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, nil
}

// group splits parts into contiguous runs. Earlier runs take the remainder
// so sizes differ by at most one.
func group(parts []*partition.Partition, s Strategy) [][]*partition.Partition {
	total := len(parts)
	if total == 0 {
		return nil
	}

	n := total
	switch s.Mode {
	case ModeCount:
		n = min(s.N, total)
	case ModeMaxPerChunk:
		n = (total + s.N - 1) / s.N
	}

	groups := make([][]*partition.Partition, 0, n)
	size, extra := total/n, total%n
	start := 0
	for i := 0; i < n; i++ {
		end := start + size
		if i < extra {
			end++
		}
		groups = append(groups, parts[start:end])
		start = end
	}
	return groups
}

func compose(index int, members []*partition.Partition) (*Chunk, error) {
	c := &Chunk{Index: index}
	graphs := make([]*graph.Graph, 0, len(members))
	for _, p := range members {
		c.Keys = append(c.Keys, p.Key)
		graphs = append(graphs, p.Graph)
		c.ExternalInputs = mergeInto(c.ExternalInputs, p.ExternalInputs)
		c.ExternalOutputs = mergeInto(c.ExternalOutputs, p.ExternalOutputs)
		for consumer, refs := range p.Prerequisites {
			if c.Prerequisites == nil {
				c.Prerequisites = make(map[string][]graph.ResultRef)
			}
			c.Prerequisites[consumer] = append(c.Prerequisites[consumer], refs...)
		}
	}

	g, err := graph.Union(graphs...)
	if err != nil {
		return nil, fmt.Errorf("composing chunk %d: %w", index, err)
	}
	if g.Config == nil {
		g.Config = make(map[string]string)
	}
	g.Config["chunk"] = strconv.Itoa(index)
	g.Config["partition"] = c.Name()
	c.Graph = g
	return c, nil
}

func mergeInto[V any](dst, src map[string]map[string]V) map[string]map[string]V {
	if len(src) == 0 {
		return dst
	}
	if dst == nil {
		dst = make(map[string]map[string]V, len(src))
	}
	for consumer, fields := range src {
		into := dst[consumer]
		if into == nil {
			into = make(map[string]V, len(fields))
			dst[consumer] = into
		}
		for f, v := range fields {
			into[f] = v
		}
	}
	return dst
}

// Select keeps the chunk with the 1-based index only. Zero keeps all, an
// out-of-range index yields an empty plan.
func Select(chunks []*Chunk, only int) []*Chunk {
	if only <= 0 {
		return chunks
	}
	for _, c := range chunks {
		if c.Index == only {
			return []*Chunk{c}
		}
	}
	return nil
}
