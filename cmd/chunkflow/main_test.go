package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/specialistvlad/chunkflow/internal/nodestore"
	"github.com/stretchr/testify/require"
)

const study = `
graph {
  base_dir = "%s"

  node "pipeline.template" {
    kind   = "value"
    params = { out = "tpl.nii" }
  }

  node "pipeline.sub-01.register" {
    kind   = "value"
    params = { out = "sub-01.nii" }
    input "template" {
      from = "pipeline.template"
      output = "out"
    }
  }

  node "pipeline.sub-02.register" {
    kind   = "value"
    params = { out = "sub-02.nii" }
    input "template" {
      from = "pipeline.template"
      output = "out"
    }
  }
}
`

func writeStudy(t *testing.T) (graphPath, baseDir string) {
	t.Helper()
	dir := t.TempDir()
	baseDir = filepath.ToSlash(filepath.Join(dir, "work"))
	graphPath = filepath.Join(dir, "study.hcl")
	require.NoError(t, os.WriteFile(graphPath, []byte(strings.Replace(study, "%s", baseDir, 1)), 0o600))
	return graphPath, baseDir
}

func runMain(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	err := run(context.Background(), strings.NewReader(""), out, errOut, args)
	return out.String(), errOut.String(), err
}

func TestRun_InvalidGraph(t *testing.T) {
	t.Parallel()

	invalidHCL := `
		graph {
			node "pipeline.a" {
		// Missing closing brace here
	`
	filePath := filepath.Join(t.TempDir(), "main.hcl")
	require.NoError(t, os.WriteFile(filePath, []byte(invalidHCL), 0o600))

	_, _, err := runMain(t, filePath)
	require.Error(t, err)
	require.Contains(t, err.Error(), "failed to load graph")
	require.Contains(t, err.Error(), "failed to parse")
}

func TestRun_ShouldExit(t *testing.T) {
	t.Parallel()

	out, _, err := runMain(t, "-h")
	require.NoError(t, err, "run() should return a nil error when shouldExit is true")
	require.Contains(t, out, "Usage:", "Expected help text to be printed to the output buffer")
}

func TestRun_ParseError(t *testing.T) {
	t.Parallel()

	_, _, err := runMain(t, "--this-is-not-a-valid-flag")
	require.Error(t, err)
	require.Contains(t, err.Error(), "flag provided but not defined: -this-is-not-a-valid-flag")
}

func TestRun_Plan(t *testing.T) {
	t.Parallel()
	graphPath, _ := writeStudy(t)

	out, _, err := runMain(t, "plan", "--isolation=none", "--no-cache", graphPath)
	require.NoError(t, err)
	require.Contains(t, out, "2 partitions, 1 inlined")
	require.Contains(t, out, "CHUNK")
	require.Contains(t, out, "sub-01")
	require.Contains(t, out, "sub-02")
}

func TestRun_ExecutesGraph(t *testing.T) {
	t.Parallel()
	graphPath, baseDir := writeStudy(t)

	_, logs, err := runMain(t, "run", "--isolation=none", "--log-format=text", "--memory-gb=2", graphPath)
	require.NoError(t, err, logs)
	require.Contains(t, logs, "Execution finished.")

	for _, subject := range []string{"sub-01", "sub-02"} {
		require.FileExists(t, filepath.Join(baseDir, "pipeline", subject, "register", nodestore.ResultFile))
	}
	require.NoDirExists(t, filepath.Join(baseDir, "pipeline", "template"), "inlined producers leave no working directory")

	blobs, err := filepath.Glob(filepath.Join(baseDir, "*.bin"))
	require.NoError(t, err)
	require.Len(t, blobs, 3, "graph, partitions and chunk plan are cached")

	// A second run is served from the cache.
	_, logs, err = runMain(t, "run", "--isolation=none", "--log-format=text", "--log-level=debug", "--memory-gb=2", "--resume", graphPath)
	require.NoError(t, err, logs)
	require.Contains(t, logs, "Loaded graph from cache.")
}
