package isolation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/specialistvlad/chunkflow/internal/ctxlog"
	"github.com/specialistvlad/chunkflow/internal/diskstore"
	"github.com/specialistvlad/chunkflow/internal/inmemorystore"
	"github.com/specialistvlad/chunkflow/internal/task"
	"github.com/specialistvlad/chunkflow/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const workerEnv = "CHUNKFLOW_ISOLATION_TEST_WORKER"

// TestMain turns the test binary into a worker when workerEnv is set.
func TestMain(m *testing.M) {
	if os.Getenv(workerEnv) == "1" {
		os.Exit(serveTestWorker())
	}
	os.Exit(m.Run())
}

func testRegistry() *task.Registry {
	reg := task.NewRegistry()
	reg.Register("fail", func(map[string]any) (task.Task, error) {
		return task.Func(func(context.Context, task.Inputs) (task.Result, error) {
			return nil, errors.New("subject has no T1 image")
		}), nil
	})
	reg.Register("crash", func(map[string]any) (task.Task, error) {
		return task.Func(func(context.Context, task.Inputs) (task.Result, error) {
			fmt.Fprintln(os.Stderr, "about to crash")
			os.Exit(3)
			return nil, nil
		}), nil
	})
	reg.Register("garbage", func(map[string]any) (task.Task, error) {
		return task.Func(func(context.Context, task.Inputs) (task.Result, error) {
			fmt.Fprint(os.Stdout, "not an envelope")
			os.Exit(0)
			return nil, nil
		}), nil
	})
	reg.Register("sleep", func(map[string]any) (task.Task, error) {
		return task.Func(func(ctx context.Context, _ task.Inputs) (task.Result, error) {
			time.Sleep(30 * time.Second)
			return task.Result{}, nil
		}), nil
	})
	reg.Register("alloc", func(params map[string]any) (task.Task, error) {
		return task.Func(func(context.Context, task.Inputs) (task.Result, error) {
			buf := make([]byte, 64<<20)
			for i := range buf {
				buf[i] = byte(i)
			}
			return task.Result{"sum": int(buf[len(buf)-1])}, nil
		}), nil
	})
	return reg
}

func serveTestWorker() int {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	ctx := ctxlog.WithLogger(context.Background(), logger)
	if err := Serve(ctx, os.Stdin, os.Stdout, testRegistry(), diskstore.New()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	return 0
}

func testRunner(t *testing.T, backend Backend) *Runner {
	t.Helper()
	r, err := NewRunner([]string{os.Args[0]}, backend)
	require.NoError(t, err)
	r.Env = []string{workerEnv + "=1"}
	r.GracePeriod = time.Second
	return r
}

func request(t *testing.T, kind string, params map[string]any, inputs task.Inputs) task.Request {
	return task.Request{
		Node:    "pipeline.sub-01.anat." + kind,
		WorkDir: filepath.Join(t.TempDir(), "pipeline", "sub-01", "anat", kind),
		Task:    task.Descriptor{Kind: kind, Params: params},
		Inputs:  inputs,
	}
}

func TestRunner_Success(t *testing.T) {
	ctx, _ := testutil.Context(t)
	req := request(t, task.KindIdentity, nil, task.Inputs{"in_file": "T1w.nii.gz", "n": 3})

	outcome, err := testRunner(t, DefaultBackend()).Run(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, "T1w.nii.gz", outcome.Outputs["in_file"])
	assert.Equal(t, float64(3), outcome.Outputs["n"], "values cross the pipe as JSON")
	assert.Positive(t, outcome.WallTime)

	rec, err := diskstore.New().Get(ctx, req.WorkDir)
	require.NoError(t, err, "the worker writes the result file")
	assert.Equal(t, req.Node, rec.Node)
}

func TestRunner_Failures(t *testing.T) {
	testCases := []struct {
		name   string
		kind   string
		check  func(t *testing.T, err error)
		stderr string
	}{
		{
			name: "task error",
			kind: "fail",
			check: func(t *testing.T, err error) {
				var taskErr *task.Error
				require.ErrorAs(t, err, &taskErr)
				assert.Equal(t, "fail", taskErr.Kind)
				assert.EqualError(t, taskErr.Err, "subject has no T1 image")
			},
		},
		{
			name: "unknown kind",
			kind: "no-such-kind",
			check: func(t *testing.T, err error) {
				var taskErr *task.Error
				require.ErrorAs(t, err, &taskErr)
				assert.Contains(t, err.Error(), "no-such-kind")
			},
		},
		{
			name: "crash",
			kind: "crash",
			check: func(t *testing.T, err error) {
				var werr *WorkerError
				require.ErrorAs(t, err, &werr)
				assert.Equal(t, 3, werr.ExitCode)
				assert.Contains(t, werr.Stderr, "about to crash")
			},
		},
		{
			name: "broken reply",
			kind: "garbage",
			check: func(t *testing.T, err error) {
				var werr *WorkerError
				require.ErrorAs(t, err, &werr)
				assert.Equal(t, 0, werr.ExitCode)
				assert.Contains(t, err.Error(), "unreadable reply")
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ctx, _ := testutil.Context(t)
			outcome, err := testRunner(t, Nop{}).Run(ctx, request(t, tc.kind, nil, nil))
			require.Error(t, err)
			require.NotNil(t, outcome, "failed runs still report an outcome")
			tc.check(t, err)
		})
	}
}

func TestRunner_CommandTask(t *testing.T) {
	ctx, _ := testutil.Context(t)
	req := request(t, task.KindCommand, map[string]any{
		"command": "echo reoriented ${in_file}",
		"outputs": map[string]any{"out_file": "${workdir}/reoriented.nii.gz"},
	}, task.Inputs{"in_file": "T1w.nii.gz"})

	outcome, err := testRunner(t, DefaultBackend()).Run(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "reoriented T1w.nii.gz", outcome.Outputs["stdout"])
	assert.Equal(t, filepath.Join(req.WorkDir, "reoriented.nii.gz"), outcome.Outputs["out_file"])
}

func TestRunner_Cancel(t *testing.T) {
	ctx, _ := testutil.Context(t)
	ctx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := testRunner(t, DefaultBackend()).Run(ctx, request(t, "sleep", nil, nil))

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestReply_CancelAfterAnswer(t *testing.T) {
	ctx, _ := testutil.Context(t)
	ctx, cancel := context.WithCancel(ctx)
	cancel()
	req := task.Request{Node: "pipeline.sub-01.reorient", Task: task.Descriptor{Kind: "reorient"}}
	ok, err := json.Marshal(Envelope{Status: StatusOK, Payload: task.Result{"out": "T1w.nii.gz"}, PeakMemoryBytes: 2048})
	require.NoError(t, err)

	t.Run("a complete reply is kept", func(t *testing.T) {
		outcome, err := reply(ctx, req, &task.Outcome{Node: req.Node}, nil, 0, ok, "")
		require.NoError(t, err)
		assert.Equal(t, "T1w.nii.gz", outcome.Outputs["out"])
		assert.Equal(t, int64(2048), outcome.PeakMemoryBytes)
	})

	t.Run("a killed worker reports the cancellation", func(t *testing.T) {
		_, err := reply(ctx, req, &task.Outcome{Node: req.Node}, errors.New("signal: killed"), -1, []byte(`{"sta`), "")
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("a broken reply without cancellation is a worker error", func(t *testing.T) {
		_, err := reply(context.Background(), req, &task.Outcome{Node: req.Node}, nil, 0, []byte("garbage"), "panic: boom")
		var werr *WorkerError
		require.ErrorAs(t, err, &werr)
		assert.Equal(t, "panic: boom", werr.Stderr)
		assert.Contains(t, err.Error(), "unreadable reply")
	})
}

func TestNewRunner(t *testing.T) {
	_, err := NewRunner(nil, nil)
	assert.Error(t, err)

	r, err := NewRunner([]string{"chunkflow", "worker"}, nil)
	require.NoError(t, err)
	assert.NotNil(t, r.Backend)
	assert.Equal(t, DefaultGracePeriod, r.GracePeriod)
}

func TestServe(t *testing.T) {
	ctx, _ := testutil.Context(t)
	results := inmemorystore.New()

	t.Run("ok", func(t *testing.T) {
		body, err := json.Marshal(task.Request{
			Node:    "model.template",
			WorkDir: filepath.Join(t.TempDir(), "model", "template"),
			Task:    task.Descriptor{Kind: task.KindValue, Params: map[string]any{"out": "tpl.nii"}},
		})
		require.NoError(t, err)

		var out bytes.Buffer
		require.NoError(t, Serve(ctx, bytes.NewReader(body), &out, task.NewRegistry(), results))

		var env Envelope
		require.NoError(t, json.Unmarshal(out.Bytes(), &env))
		assert.Equal(t, StatusOK, env.Status)
		assert.Equal(t, "tpl.nii", env.Payload["out"])
		assert.Equal(t, 1, results.Len())
	})

	t.Run("task error is a reply", func(t *testing.T) {
		body := `{"node":"model.x","task":{"kind":"fail"}}`
		var out bytes.Buffer
		require.NoError(t, Serve(ctx, strings.NewReader(body), &out, testRegistry(), results))

		var env Envelope
		require.NoError(t, json.Unmarshal(out.Bytes(), &env))
		assert.Equal(t, StatusError, env.Status)
		assert.Equal(t, "subject has no T1 image", env.Error)
	})

	t.Run("malformed request", func(t *testing.T) {
		err := Serve(ctx, strings.NewReader("{"), &bytes.Buffer{}, task.NewRegistry(), results)
		assert.Error(t, err)
	})
}
