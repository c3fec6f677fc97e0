package chunk

import (
	"fmt"
	"testing"

	"github.com/specialistvlad/chunkflow/internal/graph"
	"github.com/specialistvlad/chunkflow/internal/partition"
	"github.com/specialistvlad/chunkflow/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// subjects builds a partition set with n subjects of two nodes each and an
// optional default partition with one group node.
func subjects(t *testing.T, n int, withDefault bool) *partition.Set {
	set := &partition.Set{Default: &partition.Partition{Graph: graph.New("/work", nil)}}
	for i := 1; i <= n; i++ {
		key := fmt.Sprintf("sub-%02d", i)
		a := fmt.Sprintf("pipeline.%s.reorient", key)
		b := fmt.Sprintf("pipeline.%s.register", key)
		g := testutil.Build(t, "/work", []testutil.Spec{{Name: a}, {Name: b}},
			[]testutil.Link{{From: a, To: b, Output: "out", Input: "in_file"}})
		set.Partitions = append(set.Partitions, &partition.Partition{
			Key:            key,
			Graph:          g,
			ExternalInputs: map[string]map[string]any{b: {"ref": "tpl.nii"}},
		})
	}
	if withDefault {
		set.Default = &partition.Partition{
			Graph: testutil.Build(t, "/work", []testutil.Spec{{Name: "model.group"}}, nil),
			ExternalOutputs: map[string]map[string]graph.ResultRef{
				"model.group": {"first": {Node: "pipeline.sub-01.register", WorkDir: "/work/pipeline/sub-01/register", Field: "out"}},
			},
			Prerequisites: map[string][]graph.ResultRef{
				"model.group": {{Node: "pipeline.sub-02.register", WorkDir: "/work/pipeline/sub-02/register"}},
			},
		}
	}
	return set
}

func sizes(chunks []*Chunk) []int {
	out := make([]int, len(chunks))
	for i, c := range chunks {
		out[i] = len(c.Keys)
	}
	return out
}

func TestPlan_Arithmetic(t *testing.T) {
	testCases := []struct {
		name        string
		partitions  int
		withDefault bool
		strategy    Strategy
		opts        Options
		want        []int
	}{
		{name: "count divides evenly", partitions: 6, strategy: ByCount(3), want: []int{2, 2, 2}},
		{name: "count with remainder", partitions: 7, strategy: ByCount(3), want: []int{3, 2, 2}},
		{name: "count above partitions", partitions: 3, strategy: ByCount(10), want: []int{1, 1, 1}},
		{name: "per partition", partitions: 4, strategy: PerPartition(), want: []int{1, 1, 1, 1}},
		{name: "max per chunk", partitions: 7, strategy: MaxPerChunk(3), want: []int{3, 2, 2}},
		{name: "max per chunk exact", partitions: 6, strategy: MaxPerChunk(2), want: []int{2, 2, 2}},
		{name: "default appended", partitions: 4, withDefault: true, strategy: ByCount(2), want: []int{2, 2, 1}},
		{name: "default excluded", partitions: 4, withDefault: true, strategy: ByCount(2), opts: Options{ExcludeDefault: true}, want: []int{2, 2}},
		{name: "no partitions and no default", partitions: 0, strategy: ByCount(2), want: []int{}},
		{name: "only default", partitions: 0, withDefault: true, strategy: PerPartition(), want: []int{1}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			set := subjects(t, tc.partitions, tc.withDefault)

			chunks, err := Plan(set, tc.strategy, tc.opts)
			require.NoError(t, err)

			assert.Equal(t, tc.want, sizes(chunks))
			total := 0
			for i, c := range chunks {
				assert.Equal(t, i+1, c.Index)
				total += len(c.Keys)
			}
			expected := tc.partitions
			if tc.withDefault && !tc.opts.ExcludeDefault {
				expected++
			}
			assert.Equal(t, expected, total)
		})
	}
}

func TestPlan_Composition(t *testing.T) {
	set := subjects(t, 3, true)

	chunks, err := Plan(set, ByCount(2), Options{})
	require.NoError(t, err)
	require.Len(t, chunks, 3)

	first := chunks[0]
	assert.Equal(t, []string{"sub-01", "sub-02"}, first.Keys)
	assert.Equal(t, 4, first.Graph.Len())
	assert.Len(t, first.Graph.Edges(), 2)
	assert.Equal(t, "1", first.Graph.Config["chunk"])
	assert.Equal(t, map[string]any{"ref": "tpl.nii"}, first.ExternalInputs["pipeline.sub-02.register"])
	assert.Len(t, first.ExternalInputs, 2)
	assert.False(t, first.IsDefault())

	last := chunks[2]
	assert.True(t, last.IsDefault())
	assert.Equal(t, "model", last.Name())
	assert.Equal(t, "pipeline.sub-01.register", last.ExternalOutputs["model.group"]["first"].Node)
	require.Len(t, last.Prerequisites["model.group"], 1)
	assert.Equal(t, "pipeline.sub-02.register", last.Prerequisites["model.group"][0].Node)
	assert.Empty(t, first.Prerequisites)
}

func TestPlan_Only(t *testing.T) {
	set := subjects(t, 5, true)

	t.Run("in range", func(t *testing.T) {
		chunks, err := Plan(set, MaxPerChunk(2), Options{Only: 2})
		require.NoError(t, err)
		require.Len(t, chunks, 1)
		assert.Equal(t, 2, chunks[0].Index)
		assert.Equal(t, []string{"sub-03", "sub-04"}, chunks[0].Keys)
	})

	t.Run("selects the default chunk", func(t *testing.T) {
		chunks, err := Plan(set, MaxPerChunk(2), Options{Only: 4})
		require.NoError(t, err)
		require.Len(t, chunks, 1)
		assert.True(t, chunks[0].IsDefault())
	})

	t.Run("out of range is an empty plan", func(t *testing.T) {
		chunks, err := Plan(set, MaxPerChunk(2), Options{Only: 5})
		require.NoError(t, err)
		assert.Empty(t, chunks)
	})

	t.Run("negative index", func(t *testing.T) {
		_, err := Plan(set, MaxPerChunk(2), Options{Only: -1})
		assert.Error(t, err)
	})
}

func TestStrategy(t *testing.T) {
	assert.Equal(t, "count-4", ByCount(4).String())
	assert.Equal(t, "per-partition", PerPartition().String())
	assert.Equal(t, "max-8", MaxPerChunk(8).String())

	assert.Error(t, ByCount(0).Validate())
	assert.Error(t, MaxPerChunk(-1).Validate())
	assert.NoError(t, PerPartition().Validate())

	_, err := Plan(subjects(t, 1, false), ByCount(0), Options{})
	assert.Error(t, err)
}

func TestSelect(t *testing.T) {
	chunks, err := Plan(subjects(t, 3, true), PerPartition(), Options{})
	require.NoError(t, err)

	assert.Len(t, Select(chunks, 0), 4)
	selected := Select(chunks, 2)
	require.Len(t, selected, 1)
	assert.Equal(t, []string{"sub-02"}, selected[0].Keys)
	assert.Nil(t, Select(chunks, 9))
}
