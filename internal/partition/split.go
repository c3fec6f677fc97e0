package partition

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/specialistvlad/chunkflow/internal/ctxlog"
	"github.com/specialistvlad/chunkflow/internal/graph"
	"github.com/specialistvlad/chunkflow/internal/task"
)

// Splitter partitions graphs.
type Splitter struct {
	Classifier Classifier
	// Runner executes inbound producers at split time.
	Runner task.Runner
	// Remove deletes the working directory of inlined nodes. Defaults to
	// os.RemoveAll.
	Remove func(dir string) error
}

// split carries the working state of one Split call.
type split struct {
	g     *graph.Graph
	order []graph.NodeID
	key   []string
	anc   []map[string]bool

	inlined   []bool
	collapsed []bool
	keep      []bool
	outputs   map[graph.NodeID]map[string]any

	extIn  map[string]map[string]map[string]any
	extOut map[string]map[string]map[string]graph.ResultRef
	prereq map[string]map[string][]graph.ResultRef
}

// Split partitions g. The input graph is not modified.
func (s *Splitter) Split(ctx context.Context, g *graph.Graph) (*Set, error) {
	logger := ctxlog.FromContext(ctx)
	order, err := g.TopoOrder()
	if err != nil {
		return nil, err
	}

	st := &split{
		g:         g,
		order:     order,
		key:       make([]string, g.Len()),
		anc:       make([]map[string]bool, g.Len()),
		inlined:   make([]bool, g.Len()),
		collapsed: make([]bool, g.Len()),
		keep:      make([]bool, g.Len()),
		outputs:   make(map[graph.NodeID]map[string]any),
		extIn:     make(map[string]map[string]map[string]any),
		extOut:    make(map[string]map[string]map[string]graph.ResultRef),
		prereq:    make(map[string]map[string][]graph.ResultRef),
	}

	st.classify(ctx, s.Classifier)
	if err := st.check(); err != nil {
		return nil, err
	}
	if err := st.inline(ctx, s.Runner, s.remover()); err != nil {
		return nil, err
	}
	if err := st.redirect(); err != nil {
		return nil, err
	}
	if err := st.collapse(); err != nil {
		return nil, err
	}

	set := st.assemble()
	logger.Info("Graph partitioned.",
		"nodes", g.Len(),
		"partitions", len(set.Partitions),
		"default_nodes", set.Default.Len(),
		"inlined", len(set.Inlined),
		"collapsed", len(set.Collapsed),
	)
	return set, nil
}

func (s *Splitter) remover() func(string) error {
	if s.Remove != nil {
		return s.Remove
	}
	return os.RemoveAll
}

// classify assigns keys, computes the partitioned ancestry of every node and
// adopts default nodes that only sit between nodes of a single partition.
func (st *split) classify(ctx context.Context, c Classifier) {
	logger := ctxlog.FromContext(ctx)
	for _, id := range st.order {
		n := st.g.Node(id)
		if k, ok := c.Classify(&n.Address); ok {
			st.key[id] = k
		}
	}

	for _, id := range st.order {
		set := make(map[string]bool)
		for _, p := range st.g.Predecessors(id) {
			for k := range st.anc[p] {
				set[k] = true
			}
			if st.key[p] != DefaultKey {
				set[st.key[p]] = true
			}
		}
		st.anc[id] = set
	}

	// Reverse topological order decides consumers before their producers,
	// so whole helper chains are adopted at once.
	for i := len(st.order) - 1; i >= 0; i-- {
		id := st.order[i]
		if st.key[id] != DefaultKey || len(st.anc[id]) != 1 {
			continue
		}
		only := sortedKeys(st.anc[id])[0]
		for _, succ := range st.g.Successors(id) {
			if st.key[succ] == only {
				st.key[id] = only
				logger.Debug("Adopted default node into partition.", "node", st.g.Node(id).FullName(), "partition", only)
				break
			}
		}
	}
}

// check rejects boundaries that cannot be resolved.
func (st *split) check() error {
	for _, e := range st.g.Edges() {
		from, to := st.key[e.From], st.key[e.To]
		switch {
		case from != DefaultKey && to != DefaultKey && from != to:
			return &GraphMalformedError{
				Node:   st.g.Node(e.To).FullName(),
				Keys:   []string{from, to},
				Reason: fmt.Sprintf("depends on %s from another partition", st.g.Node(e.From).FullName()),
			}
		case from == DefaultKey && to != DefaultKey && len(st.anc[e.From]) > 0:
			return &GraphMalformedError{
				Node:   st.g.Node(e.From).FullName(),
				Keys:   sortedKeys(st.anc[e.From]),
				Reason: fmt.Sprintf("would be inlined into %s but depends on partitioned nodes", to),
			}
		}
	}
	return nil
}

// inline executes every inbound producer together with its ancestors and
// turns all edges leaving that set into literals.
func (st *split) inline(ctx context.Context, runner task.Runner, remove func(string) error) error {
	logger := ctxlog.FromContext(ctx)

	var stack []graph.NodeID
	for _, e := range st.g.Edges() {
		if st.key[e.From] == DefaultKey && st.key[e.To] != DefaultKey && !st.inlined[e.From] {
			st.inlined[e.From] = true
			stack = append(stack, e.From)
		}
	}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, p := range st.g.Predecessors(id) {
			if !st.inlined[p] {
				st.inlined[p] = true
				stack = append(stack, p)
			}
		}
	}

	for _, id := range st.order {
		if !st.inlined[id] {
			continue
		}
		// Only default nodes without partitioned ancestry reach this point.
		if st.key[id] != DefaultKey || len(st.anc[id]) != 0 {
			return &GraphMalformedError{Node: st.g.Node(id).FullName(), Keys: sortedKeys(st.anc[id]), Reason: "inlined node depends on partitioned nodes"}
		}

		n := st.g.Node(id)
		in, err := st.g.Inputs(id, st.lookup)
		if err != nil {
			return fmt.Errorf("inlining %s: %w", n.FullName(), err)
		}
		if n.IsPassthrough() {
			st.outputs[id] = in
			continue
		}
		if runner == nil {
			return fmt.Errorf("inlining %s: no runner configured", n.FullName())
		}

		logger.Debug("Inlining boundary producer.", "node", n.FullName())
		outcome, err := runner.Run(ctx, task.Request{Node: n.FullName(), WorkDir: n.WorkDir, Task: n.Task, Inputs: in})
		if err != nil {
			return fmt.Errorf("inlining %s: %w", n.FullName(), err)
		}
		st.outputs[id] = outcome.Outputs
	}

	for _, e := range st.g.Edges() {
		if !st.inlined[e.From] || st.inlined[e.To] {
			continue
		}
		consumer := st.g.Node(e.To).FullName()
		for _, b := range e.Bindings {
			v, err := st.bindingValue(e, b)
			if err != nil {
				return err
			}
			st.setInput(st.key[e.To], consumer, b.Input, v)
		}
	}

	for _, id := range st.order {
		if !st.inlined[id] {
			continue
		}
		dir := st.g.Node(id).WorkDir
		if dir == "" {
			continue
		}
		if err := remove(dir); err != nil {
			logger.Warn("Failed to remove inlined node directory.", "node", st.g.Node(id).FullName(), "dir", dir, "error", err)
		}
	}
	return nil
}

func (st *split) lookup(id graph.NodeID) (map[string]any, bool) {
	out, ok := st.outputs[id]
	return out, ok
}

func (st *split) bindingValue(e graph.Edge, b graph.FieldBinding) (any, error) {
	if b.HasLiteral {
		return b.Literal, nil
	}
	out := st.outputs[e.From]
	v, ok := out[b.Output]
	if !ok {
		return nil, &graph.MissingOutputError{
			Producer: st.g.Node(e.From).FullName(),
			Consumer: st.g.Node(e.To).FullName(),
			Field:    b.Output,
		}
	}
	return v, nil
}

// redirect points default consumers of partitioned producers at the
// producer result, walking back through pass-through producers first.
// Ordering-only edges become prerequisites on the producer result.
func (st *split) redirect() error {
	for _, e := range st.g.Edges() {
		if st.key[e.From] == DefaultKey || st.key[e.To] != DefaultKey {
			continue
		}
		consumer := st.g.Node(e.To).FullName()
		if len(e.Bindings) == 0 {
			producer := st.g.Node(e.From)
			st.keep[e.From] = true
			st.addPrerequisite(DefaultKey, consumer, graph.ResultRef{Node: producer.FullName(), WorkDir: producer.WorkDir})
			continue
		}
		for _, b := range e.Bindings {
			if b.HasLiteral {
				st.setInput(DefaultKey, consumer, b.Input, b.Literal)
				continue
			}
			ref, lit, isLit, err := st.resolveBackward(e.From, b.Output)
			if err != nil {
				return err
			}
			if isLit {
				st.setInput(DefaultKey, consumer, b.Input, lit)
				continue
			}
			st.setOutput(DefaultKey, consumer, b.Input, ref)
		}
	}
	return nil
}

// resolveBackward follows output field of id through pass-through nodes
// until it reaches a real producer or a literal value.
func (st *split) resolveBackward(id graph.NodeID, field string) (graph.ResultRef, any, bool, error) {
	visited := make(map[graph.NodeID]bool)
	for {
		if visited[id] {
			return graph.ResultRef{}, nil, false, &GraphMalformedError{Node: st.g.Node(id).FullName(), Reason: "pass-through cycle"}
		}
		visited[id] = true

		n := st.g.Node(id)
		if !n.IsPassthrough() {
			st.keep[id] = true
			return graph.ResultRef{Node: n.FullName(), WorkDir: n.WorkDir, Field: field}, nil, false, nil
		}

		next, nextField, found := graph.NodeID(-1), "", false
		for _, in := range st.g.InEdges(id) {
			if st.inlined[in.From] {
				continue
			}
			for _, b := range in.Bindings {
				if b.Input != field {
					continue
				}
				if b.HasLiteral {
					return graph.ResultRef{}, b.Literal, true, nil
				}
				next, nextField, found = in.From, b.Output, true
			}
		}
		if found {
			id, field = next, nextField
			continue
		}
		if v, ok := st.extIn[st.key[id]][n.FullName()][field]; ok {
			return graph.ResultRef{}, v, true, nil
		}
		if v, ok := n.Inputs[field]; ok {
			return graph.ResultRef{}, v, true, nil
		}
		// Nothing feeds the field; the pass-through itself is the closest
		// producer that can be read back.
		st.keep[id] = true
		return graph.ResultRef{Node: n.FullName(), WorkDir: n.WorkDir, Field: field}, nil, false, nil
	}
}

// collapse removes default pass-through nodes fed only from outside the
// default partition and forwards their redirections to their consumers.
func (st *split) collapse() error {
	for _, id := range st.order {
		n := st.g.Node(id)
		if st.key[id] != DefaultKey || st.inlined[id] || !n.IsPassthrough() {
			continue
		}
		if len(n.Inputs) > 0 || st.g.OutDegree(id) == 0 || st.g.InDegree(id) == 0 {
			continue
		}
		external := true
		for _, p := range st.g.Predecessors(id) {
			if st.key[p] == DefaultKey && !st.inlined[p] && !st.collapsed[p] {
				external = false
				break
			}
		}
		if !external {
			continue
		}

		name := n.FullName()
		for _, e := range st.g.OutEdges(id) {
			consumer := st.g.Node(e.To).FullName()
			for _, b := range e.Bindings {
				if b.HasLiteral {
					st.setInput(DefaultKey, consumer, b.Input, b.Literal)
					continue
				}
				if ref, ok := st.extOut[DefaultKey][name][b.Output]; ok {
					st.setOutput(DefaultKey, consumer, b.Input, ref)
					continue
				}
				if v, ok := st.extIn[DefaultKey][name][b.Output]; ok {
					st.setInput(DefaultKey, consumer, b.Input, v)
					continue
				}
				return &graph.MissingOutputError{Producer: name, Consumer: consumer, Field: b.Output}
			}
		}
		// Consumers inherit what the pass-through waited for.
		for _, e := range st.g.OutEdges(id) {
			consumer := st.g.Node(e.To).FullName()
			for _, ref := range st.prereq[DefaultKey][name] {
				st.addPrerequisite(DefaultKey, consumer, ref)
			}
			for _, ref := range st.extOut[DefaultKey][name] {
				st.addPrerequisite(DefaultKey, consumer, graph.ResultRef{Node: ref.Node, WorkDir: ref.WorkDir})
			}
		}
		delete(st.extOut[DefaultKey], name)
		delete(st.extIn[DefaultKey], name)
		delete(st.prereq[DefaultKey], name)
		st.collapsed[id] = true
	}
	return nil
}

func (st *split) setInput(key, consumer, field string, v any) {
	byNode, ok := st.extIn[key]
	if !ok {
		byNode = make(map[string]map[string]any)
		st.extIn[key] = byNode
	}
	if byNode[consumer] == nil {
		byNode[consumer] = make(map[string]any)
	}
	byNode[consumer][field] = v
}

func (st *split) setOutput(key, consumer, field string, ref graph.ResultRef) {
	byNode, ok := st.extOut[key]
	if !ok {
		byNode = make(map[string]map[string]graph.ResultRef)
		st.extOut[key] = byNode
	}
	if byNode[consumer] == nil {
		byNode[consumer] = make(map[string]graph.ResultRef)
	}
	byNode[consumer][field] = ref
}

func (st *split) addPrerequisite(key, consumer string, ref graph.ResultRef) {
	byNode, ok := st.prereq[key]
	if !ok {
		byNode = make(map[string][]graph.ResultRef)
		st.prereq[key] = byNode
	}
	for _, have := range byNode[consumer] {
		if have.Node == ref.Node {
			return
		}
	}
	refs := append(byNode[consumer], ref)
	sort.Slice(refs, func(i, j int) bool { return refs[i].Node < refs[j].Node })
	byNode[consumer] = refs
}

// assemble builds the renormalized partition graphs.
func (st *split) assemble() *Set {
	members := make(map[string][]graph.NodeID)
	set := &Set{}
	for _, id := range st.order {
		switch {
		case st.inlined[id]:
			set.Inlined = append(set.Inlined, st.g.Node(id).FullName())
		case st.collapsed[id]:
			set.Collapsed = append(set.Collapsed, st.g.Node(id).FullName())
		default:
			members[st.key[id]] = append(members[st.key[id]], id)
		}
	}
	sort.Strings(set.Inlined)
	sort.Strings(set.Collapsed)

	build := func(key string) *Partition {
		p := &Partition{
			Key:             key,
			ExternalInputs:  st.extIn[key],
			ExternalOutputs: st.extOut[key],
			Prerequisites:   st.prereq[key],
		}
		name := DefaultName
		if key != DefaultKey {
			name = key
		}
		sub, mapping := st.g.Induce(members[key], map[string]string{"partition": name})
		for orig, id := range mapping {
			if st.keep[orig] {
				sub.Node(id).Keep = true
			}
		}
		p.Graph = sub
		return p
	}

	keys := make([]string, 0, len(members))
	for k := range members {
		if k != DefaultKey {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		set.Partitions = append(set.Partitions, build(k))
	}
	set.Default = build(DefaultKey)
	return set
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
