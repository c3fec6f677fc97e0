package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/specialistvlad/chunkflow/internal/chunk"
	"github.com/specialistvlad/chunkflow/internal/graph"
	"github.com/specialistvlad/chunkflow/internal/housekeeper"
	"github.com/specialistvlad/chunkflow/internal/inmemorystore"
	"github.com/specialistvlad/chunkflow/internal/nodestore"
	"github.com/specialistvlad/chunkflow/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func unit(index int, g *graph.Graph) *chunk.Chunk {
	return &chunk.Chunk{Index: index, Keys: []string{""}, Graph: g}
}

func newScheduler(t *testing.T, runner *testutil.FakeRunner, results nodestore.Store, opts Options) (*Scheduler, *Trace) {
	t.Helper()
	trace := &Trace{}
	opts.Recorder = trace
	if opts.Remove == nil {
		opts.Remove = func(string) error { return nil }
	}
	s, err := New(runner, results, opts)
	require.NoError(t, err)
	return s, trace
}

// footprint returns the reservation each node makes under budget.
func footprint(g *graph.Graph, budget float64) map[string]float64 {
	m := make(map[string]float64, g.Len())
	for _, n := range g.Nodes() {
		m[n.FullName()] = min(n.MemoryGB, budget)
	}
	return m
}

func seq(t *testing.T, trace *Trace, kind EventKind, node string) int {
	t.Helper()
	e, ok := trace.Find(kind, node)
	require.True(t, ok, "no %s event for %s", kind, node)
	return e.Seq
}

func TestNew_Validation(t *testing.T) {
	_, err := New(&testutil.FakeRunner{}, nil, Options{})
	assert.Error(t, err)

	_, err = New(nil, nil, Options{MemoryGB: 1})
	assert.Error(t, err)

	s, err := New(&testutil.FakeRunner{}, nil, Options{MemoryGB: 1})
	require.NoError(t, err)
	assert.Positive(t, s.Options().Workers)
	assert.Positive(t, s.Options().Processors)
}

func TestRun_SmallestFootprintFirst(t *testing.T) {
	ctx, _ := testutil.Context(t)
	g := testutil.Build(t, "/work", []testutil.Spec{
		{Name: "model.a", MemoryGB: 2},
		{Name: "model.b", MemoryGB: 3},
		{Name: "model.c", MemoryGB: 1},
		{Name: "model.d", MemoryGB: 1},
	}, []testutil.Link{
		{From: "model.a", To: "model.d", Output: "out", Input: "a"},
		{From: "model.b", To: "model.d", Output: "out", Input: "b"},
		{From: "model.c", To: "model.d", Output: "out", Input: "c"},
	})
	runner := &testutil.FakeRunner{
		Memory: footprint(g, 4),
		Delay:  func(string) time.Duration { return 20 * time.Millisecond },
	}
	s, trace := newScheduler(t, runner, nil, Options{Workers: 4, MemoryGB: 4, Processors: 4})

	report, err := s.Run(ctx, unit(1, g))
	require.NoError(t, err)

	events := trace.Events()
	require.GreaterOrEqual(t, len(events), 2)
	assert.Equal(t, "model.c", events[0].Node, "C is admitted first")
	assert.Equal(t, EventDispatch, events[1].Kind)
	assert.Equal(t, "model.a", events[1].Node, "A is admitted with C")

	assert.False(t, runner.Overlapped("model.a", "model.b"), "A and B exceed the budget together")
	assert.Less(t, seq(t, trace, EventComplete, "model.a"), seq(t, trace, EventDispatch, "model.b"))
	for _, dep := range []string{"model.a", "model.b", "model.c"} {
		assert.Less(t, seq(t, trace, EventComplete, dep), seq(t, trace, EventDispatch, "model.d"))
	}
	assert.LessOrEqual(t, runner.MaxInUse(), 4.0)
	assert.LessOrEqual(t, report.PeakInUseGB, 4.0)

	req, ok := runner.Request("model.d")
	require.True(t, ok)
	assert.Equal(t, map[string]any{"a": "model.a", "b": "model.b", "c": "model.c"}, map[string]any(req.Inputs))
}

func TestRun_RandomDAGs(t *testing.T) {
	for seed := int64(1); seed <= 15; seed++ {
		seed := seed
		t.Run(fmt.Sprintf("seed=%d", seed), func(t *testing.T) {
			ctx, _ := testutil.Context(t)
			rng := rand.New(rand.NewSource(seed))
			g := testutil.RandomDAG(t, rng, "/work", testutil.DAGOptions{Nodes: 40, EdgeProb: 0.1, MaxMemoryGB: 8, MaxProcs: 3})
			const budget = 6.0

			runner := &testutil.FakeRunner{
				Memory: footprint(g, budget),
				Delay:  func(node string) time.Duration { return time.Duration(len(node)%3) * time.Millisecond },
			}
			s, trace := newScheduler(t, runner, nil, Options{Workers: 3, MemoryGB: budget, Processors: 4})

			report, err := s.Run(ctx, unit(1, g))
			require.NoError(t, err)
			require.Len(t, report.Results, g.Len())

			for _, e := range g.Edges() {
				from, to := g.Node(e.From).FullName(), g.Node(e.To).FullName()
				assert.Less(t, seq(t, trace, EventComplete, from), seq(t, trace, EventDispatch, to), "%s -> %s", from, to)
			}
			for _, ev := range trace.Events() {
				assert.LessOrEqual(t, ev.InUseGB, budget+epsilon)
				assert.LessOrEqual(t, ev.ProcsInUse, 4)
			}
			assert.LessOrEqual(t, runner.MaxInUse(), budget+epsilon)
			assert.LessOrEqual(t, runner.MaxRunning(), 3)
			assert.Len(t, runner.Ran(), g.Len(), "every node runs exactly once")
		})
	}
}

func TestRun_FailureDrains(t *testing.T) {
	ctx, _ := testutil.Context(t)
	g := testutil.Build(t, "/work", []testutil.Spec{
		{Name: "model.fail", MemoryGB: 1},
		{Name: "model.slow", MemoryGB: 1},
		{Name: "model.after", MemoryGB: 1},
		{Name: "model.later", MemoryGB: 1},
	}, []testutil.Link{
		{From: "model.fail", To: "model.after"},
		{From: "model.slow", To: "model.later"},
	})
	boom := errors.New("segmentation fault")
	runner := &testutil.FakeRunner{
		Fail: map[string]error{"model.fail": boom},
		Delay: func(node string) time.Duration {
			if node == "model.slow" {
				return 50 * time.Millisecond
			}
			return 0
		},
	}
	s, _ := newScheduler(t, runner, nil, Options{Workers: 2, MemoryGB: 8, Processors: 2})

	report, err := s.Run(ctx, unit(3, g))

	var taskErr *TaskExecutionError
	require.ErrorAs(t, err, &taskErr)
	assert.Equal(t, 3, taskErr.Chunk)
	assert.Equal(t, "model.fail", taskErr.Node)
	assert.ErrorIs(t, err, boom)

	assert.Equal(t, []string{"model.fail", "model.slow"}, runner.Ran(), "the running sibling drains, nothing new starts")
	require.NotNil(t, report)
	require.Len(t, report.Results, 2)
	for _, res := range report.Results {
		if res.Node == "model.slow" {
			assert.NoError(t, res.Err)
		}
	}
}

func TestRun_Overrun(t *testing.T) {
	ctx, buf := testutil.Context(t)
	g := testutil.Build(t, "/work", []testutil.Spec{{Name: "model.big", MemoryGB: 1}, {Name: "model.small", MemoryGB: 1}}, nil)
	runner := &testutil.FakeRunner{PeakBytes: map[string]int64{"model.big": 3 << 30, "model.small": 1 << 29}}
	s, _ := newScheduler(t, runner, nil, Options{Workers: 2, MemoryGB: 4, Processors: 2})

	report, err := s.Run(ctx, unit(1, g))
	require.NoError(t, err)
	require.Len(t, report.Overruns, 1)
	assert.Equal(t, "model.big", report.Overruns[0].Node)
	assert.InDelta(t, 3.0, report.Overruns[0].ObservedGB, 1e-9)
	assert.InDelta(t, 1.0, report.Overruns[0].DeclaredGB, 1e-9)
	assert.Contains(t, buf.String(), "Node exceeded its memory estimate.")
}

func TestRun_Resume(t *testing.T) {
	ctx, _ := testutil.Context(t)
	g := testutil.Build(t, "/work", []testutil.Spec{{Name: "model.a"}, {Name: "model.b"}},
		[]testutil.Link{{From: "model.a", To: "model.b", Output: "out", Input: "in"}})
	results := inmemorystore.New()
	a, _ := g.Lookup("model.a")
	require.NoError(t, results.Put(ctx, a.WorkDir, &nodestore.Record{Node: "model.a", Outputs: map[string]any{"out": "cached"}}))

	runner := &testutil.FakeRunner{Results: results}
	s, trace := newScheduler(t, runner, results, Options{Workers: 1, MemoryGB: 1, Processors: 1, Resume: true})

	report, err := s.Run(ctx, unit(1, g))
	require.NoError(t, err)
	assert.Equal(t, []string{"model.b"}, runner.Ran())
	assert.Equal(t, []string{"model.a"}, report.Skipped)
	_, ok := trace.Find(EventSkip, "model.a")
	assert.True(t, ok)

	req, _ := runner.Request("model.b")
	assert.Equal(t, "cached", req.Inputs["in"])

	t.Run("without resume everything runs", func(t *testing.T) {
		runner := &testutil.FakeRunner{}
		s, _ := newScheduler(t, runner, results, Options{MemoryGB: 1})
		_, err := s.Run(ctx, unit(1, g))
		require.NoError(t, err)
		assert.Equal(t, []string{"model.a", "model.b"}, runner.Ran())
	})
}

func TestRun_BoundaryInputs(t *testing.T) {
	ctx, _ := testutil.Context(t)
	g := testutil.Build(t, "/work", []testutil.Spec{{Name: "model.group", Inputs: map[string]any{"label": "group"}}}, nil)
	ref := graph.ResultRef{Node: "pipeline.sub-01.register", WorkDir: "/work/pipeline/sub-01/register", Field: "out"}
	c := unit(2, g)
	c.ExternalInputs = map[string]map[string]any{"model.group": {"ref": "tpl.nii"}}
	c.ExternalOutputs = map[string]map[string]graph.ResultRef{"model.group": {"first": ref}}

	t.Run("redirected output is read from the result store", func(t *testing.T) {
		results := inmemorystore.New()
		require.NoError(t, results.Put(ctx, ref.WorkDir, &nodestore.Record{Node: ref.Node, Outputs: map[string]any{"out": "reg.nii"}}))
		runner := &testutil.FakeRunner{}
		s, _ := newScheduler(t, runner, results, Options{MemoryGB: 1})

		_, err := s.Run(ctx, c)
		require.NoError(t, err)
		req, _ := runner.Request("model.group")
		assert.Equal(t, map[string]any{"label": "group", "ref": "tpl.nii", "first": "reg.nii"}, map[string]any(req.Inputs))
	})

	t.Run("missing producer result fails the node", func(t *testing.T) {
		runner := &testutil.FakeRunner{}
		s, _ := newScheduler(t, runner, inmemorystore.New(), Options{MemoryGB: 1})

		_, err := s.Run(ctx, c)
		var taskErr *TaskExecutionError
		require.ErrorAs(t, err, &taskErr)
		assert.Equal(t, "model.group", taskErr.Node)
		assert.ErrorIs(t, err, nodestore.ErrNotFound)
		assert.Empty(t, runner.Ran())
	})
}

func TestRun_Prerequisites(t *testing.T) {
	ctx, _ := testutil.Context(t)
	g := testutil.Build(t, "/work", []testutil.Spec{{Name: "model.group"}}, nil)
	ref := graph.ResultRef{Node: "pipeline.sub-01.a", WorkDir: "/work/pipeline/sub-01/a"}
	c := unit(2, g)
	c.Prerequisites = map[string][]graph.ResultRef{"model.group": {ref}}

	t.Run("waits for a finished producer", func(t *testing.T) {
		results := inmemorystore.New()
		require.NoError(t, results.Put(ctx, ref.WorkDir, &nodestore.Record{Node: ref.Node}))
		runner := &testutil.FakeRunner{}
		s, _ := newScheduler(t, runner, results, Options{MemoryGB: 1})

		_, err := s.Run(ctx, c)
		require.NoError(t, err)
		assert.Equal(t, []string{"model.group"}, runner.Ran())
	})

	t.Run("unfinished producer fails the node before dispatch", func(t *testing.T) {
		runner := &testutil.FakeRunner{}
		s, trace := newScheduler(t, runner, inmemorystore.New(), Options{MemoryGB: 1})

		_, err := s.Run(ctx, c)
		var taskErr *TaskExecutionError
		require.ErrorAs(t, err, &taskErr)
		assert.Equal(t, "model.group", taskErr.Node)
		assert.ErrorIs(t, err, nodestore.ErrNotFound)
		assert.Contains(t, err.Error(), "pipeline.sub-01.a must finish before model.group")
		assert.Empty(t, runner.Ran())
		_, dispatched := trace.Find(EventDispatch, "model.group")
		assert.False(t, dispatched)
	})
}

func TestRun_Housekeeping(t *testing.T) {
	testCases := []struct {
		name    string
		keep    bool
		policy  housekeeper.Policy
		deleted []string
	}{
		{name: "reclaimed after both dependents", policy: housekeeper.KeepNone, deleted: []string{"/work/model/x"}},
		{name: "keep flag protects", policy: housekeeper.KeepNone, keep: true},
		{name: "keep all", policy: housekeeper.KeepAll},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ctx, _ := testutil.Context(t)
			g := testutil.Build(t, "/work", []testutil.Spec{
				{Name: "model.x", Keep: tc.keep}, {Name: "model.y"}, {Name: "model.z"},
			}, []testutil.Link{
				{From: "model.x", To: "model.y", Output: "out", Input: "x"},
				{From: "model.x", To: "model.z", Output: "out", Input: "x"},
			})
			var removed []string
			s, _ := newScheduler(t, &testutil.FakeRunner{}, nil, Options{
				Workers:      2,
				MemoryGB:     2,
				Housekeeping: housekeeper.Config{Policy: tc.policy},
				Remove: func(dir string) error {
					removed = append(removed, dir)
					return nil
				},
			})

			report, err := s.Run(ctx, unit(1, g))
			require.NoError(t, err)
			assert.Equal(t, tc.deleted, removed)
			assert.Equal(t, tc.deleted, report.Deleted)
		})
	}
}

func TestRun_WorkerSlots(t *testing.T) {
	ctx, _ := testutil.Context(t)
	var nodes []testutil.Spec
	for i := 0; i < 10; i++ {
		nodes = append(nodes, testutil.Spec{Name: fmt.Sprintf("model.n%02d", i), MemoryGB: 0.1})
	}
	g := testutil.Build(t, "/work", nodes, nil)
	runner := &testutil.FakeRunner{Delay: func(string) time.Duration { return 5 * time.Millisecond }}
	s, _ := newScheduler(t, runner, nil, Options{Workers: 2, MemoryGB: 100, Processors: 100})

	_, err := s.Run(ctx, unit(1, g))
	require.NoError(t, err)
	assert.LessOrEqual(t, runner.MaxRunning(), 2)
	assert.Len(t, runner.Ran(), 10)
}

func TestRun_ClampsToBudget(t *testing.T) {
	ctx, _ := testutil.Context(t)
	g := testutil.Build(t, "/work", []testutil.Spec{{Name: "model.huge", MemoryGB: 64, NProcs: 16}}, nil)
	runner := &testutil.FakeRunner{}
	s, trace := newScheduler(t, runner, nil, Options{Workers: 1, MemoryGB: 8, Processors: 4})

	_, err := s.Run(ctx, unit(1, g))
	require.NoError(t, err)
	e, ok := trace.Find(EventDispatch, "model.huge")
	require.True(t, ok)
	assert.InDelta(t, 8.0, e.InUseGB, 1e-9)
	assert.Equal(t, 4, e.ProcsInUse)
}

func TestRun_Cancelled(t *testing.T) {
	ctx, _ := testutil.Context(t)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g := testutil.Build(t, "/work", []testutil.Spec{{Name: "model.long"}, {Name: "model.next"}},
		[]testutil.Link{{From: "model.long", To: "model.next"}})
	runner := &testutil.FakeRunner{Delay: func(string) time.Duration { return 10 * time.Second }}
	s, _ := newScheduler(t, runner, nil, Options{MemoryGB: 1})

	time.AfterFunc(20*time.Millisecond, cancel)
	start := time.Now()
	_, err := s.Run(ctx, unit(1, g))

	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, []string{"model.long"}, runner.Ran())
}

func TestTrace_Find(t *testing.T) {
	trace := &Trace{}
	trace.Record(Event{Seq: 1, Kind: EventDispatch, Node: "model.a"})
	trace.Record(Event{Seq: 2, Kind: EventComplete, Node: "model.a"})

	e, ok := trace.Find(EventComplete, "model.a")
	require.True(t, ok)
	assert.Equal(t, 2, e.Seq)
	_, ok = trace.Find(EventFail, "model.a")
	assert.False(t, ok)
}

func TestJobOrder(t *testing.T) {
	q := readyQueue{}
	q.push(Job{MemoryGB: 2, NProcs: 1, Node: 0})
	q.push(Job{MemoryGB: 1, NProcs: 2, Node: 1})
	q.push(Job{MemoryGB: 1, NProcs: 1, Node: 3})
	q.push(Job{MemoryGB: 1, NProcs: 1, Node: 2})

	var order []graph.NodeID
	for _, j := range q.drain() {
		order = append(order, j.Node)
	}
	assert.Equal(t, []graph.NodeID{2, 3, 1, 0}, order)
	assert.Equal(t, 0, q.len())
}
