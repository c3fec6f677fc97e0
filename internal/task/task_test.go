package task

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/specialistvlad/chunkflow/internal/ctxlog"
	"github.com/specialistvlad/chunkflow/internal/inmemorystore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testContext() context.Context {
	return ctxlog.WithLogger(context.Background(), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	assert.Equal(t, []string{KindCommand, KindIdentity, KindValue}, reg.Kinds())

	_, err := reg.Build(Descriptor{Kind: "fsl.bet"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown task kind "fsl.bet"`)

	reg.Register("fsl.bet", func(params map[string]any) (Task, error) {
		if params["frac"] == nil {
			return nil, errors.New("frac is required")
		}
		return Func(func(context.Context, Inputs) (Result, error) { return Result{"brain": "brain.nii"}, nil }), nil
	})
	_, err = reg.Build(Descriptor{Kind: "fsl.bet"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `building task of kind "fsl.bet": frac is required`)

	tsk, err := reg.Build(Descriptor{Kind: "fsl.bet", Params: map[string]any{"frac": 0.5}})
	require.NoError(t, err)
	out, err := tsk.Run(testContext(), nil)
	require.NoError(t, err)
	assert.Equal(t, Result{"brain": "brain.nii"}, out)
}

func TestBuiltins(t *testing.T) {
	reg := NewRegistry()
	ctx := testContext()

	testCases := []struct {
		name   string
		desc   Descriptor
		inputs Inputs
		want   Result
	}{
		{
			name:   "identity forwards inputs",
			desc:   Descriptor{Kind: KindIdentity},
			inputs: Inputs{"t1w": "sub-01_T1w.nii", "mask": nil},
			want:   Result{"t1w": "sub-01_T1w.nii", "mask": nil},
		},
		{
			name:   "value ignores inputs",
			desc:   Descriptor{Kind: KindValue, Params: map[string]any{"out": 3.5}},
			inputs: Inputs{"ignored": true},
			want:   Result{"out": 3.5},
		},
		{
			name:   "command expands inputs",
			desc:   Descriptor{Kind: KindCommand, Params: map[string]any{"command": []any{"echo", "${t1w}"}}},
			inputs: Inputs{"t1w": "T1w.nii"},
			want:   Result{"stdout": "T1w.nii"},
		},
		{
			name: "shell command with declared outputs",
			desc: Descriptor{Kind: KindCommand, Params: map[string]any{
				"command": "printf '%s' '${subject}' | tr a-z A-Z",
				"outputs": map[string]any{"brain": "${subject}_brain.nii"},
			}},
			inputs: Inputs{"subject": "sub-01"},
			want:   Result{"stdout": "SUB-01", "brain": "sub-01_brain.nii"},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			tsk, err := reg.Build(tc.desc)
			require.NoError(t, err)
			out, err := tsk.Run(ctx, tc.inputs)
			require.NoError(t, err)
			assert.Equal(t, tc.want, out)
		})
	}
}

func TestCommand_Errors(t *testing.T) {
	reg := NewRegistry()

	_, err := reg.Build(Descriptor{Kind: KindCommand})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be a string or a list of strings")

	_, err = reg.Build(Descriptor{Kind: KindCommand, Params: map[string]any{"command": []any{}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "is empty")

	tsk, err := reg.Build(Descriptor{Kind: KindCommand, Params: map[string]any{"command": "echo broken >&2; exit 4"}})
	require.NoError(t, err)
	_, err = tsk.Run(testContext(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
}

func TestCommand_Env(t *testing.T) {
	tsk, err := NewRegistry().Build(Descriptor{Kind: KindCommand, Params: map[string]any{
		"command": []any{"env"},
		"env":     map[string]any{"CHUNKFLOW_SUBJECT_PREFIX": "${subject}_"},
	}})
	require.NoError(t, err)

	out, err := tsk.Run(testContext(), Inputs{"subject": "sub-01"})
	require.NoError(t, err)
	assert.Contains(t, out["stdout"], "CHUNKFLOW_SUBJECT_PREFIX=sub-01_")
}

func TestCommand_RunsInWorkDir(t *testing.T) {
	dir := t.TempDir()
	tsk, err := NewRegistry().Build(Descriptor{Kind: KindCommand, Params: map[string]any{
		"command": []any{"pwd"},
		"outputs": map[string]any{"dir": "${workdir}"},
	}})
	require.NoError(t, err)

	out, err := tsk.Run(WithWorkDir(testContext(), dir), nil)
	require.NoError(t, err)
	resolved, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)
	got, err := filepath.EvalSymlinks(out["stdout"].(string))
	require.NoError(t, err)
	assert.Equal(t, resolved, got)
	assert.Equal(t, dir, out["dir"])
}

func TestLocalRunner(t *testing.T) {
	ctx := testContext()
	results := inmemorystore.New()
	runner := NewLocalRunner(NewRegistry(), results)
	workDir := filepath.Join(t.TempDir(), "pipeline", "sub-01", "register")

	outcome, err := runner.Run(ctx, Request{
		Node:    "pipeline.sub-01.register",
		WorkDir: workDir,
		Task:    Descriptor{Kind: KindIdentity},
		Inputs:  Inputs{"template": "tpl.nii"},
	})
	require.NoError(t, err)
	assert.Equal(t, "pipeline.sub-01.register", outcome.Node)
	assert.Equal(t, Result{"template": "tpl.nii"}, outcome.Outputs)
	assert.DirExists(t, workDir)

	rec, err := results.Get(ctx, workDir)
	require.NoError(t, err)
	assert.Equal(t, "pipeline.sub-01.register", rec.Node)
	assert.Equal(t, "tpl.nii", rec.Outputs["template"])
}

func TestLocalRunner_Failure(t *testing.T) {
	reg := NewRegistry()
	boom := errors.New("boom")
	reg.Register("fail", func(map[string]any) (Task, error) {
		return Func(func(context.Context, Inputs) (Result, error) { return nil, boom }), nil
	})
	results := inmemorystore.New()

	workDir := t.TempDir()
	outcome, err := NewLocalRunner(reg, results).Run(testContext(), Request{Node: "pipeline.a", WorkDir: workDir, Task: Descriptor{Kind: "fail"}})
	require.Error(t, err)
	require.NotNil(t, outcome)

	var taskErr *Error
	require.True(t, errors.As(err, &taskErr))
	assert.Equal(t, "pipeline.a", taskErr.Node)
	assert.Equal(t, "fail", taskErr.Kind)
	assert.ErrorIs(t, err, boom)

	exists, err := results.Exists(testContext(), workDir)
	require.NoError(t, err)
	assert.False(t, exists, "failed tasks leave no result record")
}
