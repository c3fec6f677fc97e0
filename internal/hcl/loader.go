package hcl

import (
	"bytes"
	"context"
	"fmt"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/specialistvlad/chunkflow/internal/config"
	"github.com/specialistvlad/chunkflow/internal/ctxlog"
	"github.com/specialistvlad/chunkflow/internal/fsutil"
)

// Loader is the HCL implementation of config.Loader.
type Loader struct{}

// NewLoader creates a new HCL configuration loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Load parses every .hcl file under paths. Graph blocks from all files are
// merged into one graph; run settings from later files override earlier
// ones attribute by attribute.
func (l *Loader) Load(ctx context.Context, paths ...string) (*config.Model, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("HCL loader started.", "path_count", len(paths))

	files, err := fsutil.FindFiles(paths, ".hcl")
	if err != nil {
		return nil, err
	}
	logger.Debug("Discovered HCL files.", "count", len(files))

	model := &config.Model{Run: &config.RunSettings{}}
	var source bytes.Buffer
	parser := hclparse.NewParser()

	for _, file := range files {
		hclFile, diags := parser.ParseHCLFile(file)
		if diags.HasErrors() {
			return nil, fmt.Errorf("failed to parse HCL file %s: %w", file, diags)
		}
		source.Write(hclFile.Bytes)
		model.Files = append(model.Files, file)

		var root fileRoot
		diags = gohcl.DecodeBody(hclFile.Body, nil, &root)
		if diags.HasErrors() {
			return nil, fmt.Errorf("failed to decode HCL file %s: %w", file, diags)
		}

		for _, gb := range root.Graphs {
			if err := mergeGraph(model, gb); err != nil {
				return nil, fmt.Errorf("in %s: %w", file, err)
			}
		}
		mergeRun(model.Run, &root)
	}
	model.Source = source.Bytes()

	nodes := 0
	if model.Graph != nil {
		nodes = len(model.Graph.Nodes)
	}
	logger.Debug("HCL loading complete.", "files", len(model.Files), "nodes", nodes)
	return model, nil
}
