package inmemorystore

import (
	"context"
	"testing"

	"github.com/specialistvlad/chunkflow/internal/nodestore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutAndGet(t *testing.T) {
	s := New()
	ctx := context.Background()

	err := s.Put(ctx, "/work/sub-01/reorient", &nodestore.Record{Node: "sub-01.reorient", Outputs: map[string]any{"out": "a.nii"}})
	require.NoError(t, err)

	rec, err := s.Get(ctx, "/work/sub-01/reorient/")
	require.NoError(t, err)
	assert.Equal(t, "sub-01.reorient", rec.Node)
	assert.Equal(t, "a.nii", rec.Outputs["out"])

	ok, err := s.Exists(ctx, "/work/sub-01/reorient")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestGetMissing(t *testing.T) {
	s := New()
	_, err := s.Get(context.Background(), "/nowhere")
	assert.ErrorIs(t, err, nodestore.ErrNotFound)
}

func TestPutCopiesOutputs(t *testing.T) {
	s := New()
	ctx := context.Background()
	outputs := map[string]any{"out": 1}

	require.NoError(t, s.Put(ctx, "/w/a", &nodestore.Record{Outputs: outputs}))
	outputs["out"] = 2

	rec, err := s.Get(ctx, "/w/a")
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Outputs["out"])
}

func TestRemoveAll(t *testing.T) {
	s := New()
	ctx := context.Background()
	for _, dir := range []string{"/w/a", "/w/a/b", "/w/ab"} {
		require.NoError(t, s.Put(ctx, dir, &nodestore.Record{}))
	}

	require.NoError(t, s.RemoveAll("/w/a"))

	assert.Equal(t, 1, s.Len())
	ok, _ := s.Exists(ctx, "/w/ab")
	assert.True(t, ok)
}
