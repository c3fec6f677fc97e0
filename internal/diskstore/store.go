// Package diskstore implements nodestore.Store on top of node working
// directories: each record is a msgpack file named nodestore.ResultFile.
package diskstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/specialistvlad/chunkflow/internal/nodestore"
	"github.com/vmihailenco/msgpack/v5"
)

// Store reads and writes result files. It holds no state, so concurrent use
// is safe as long as two writers never target the same directory.
type Store struct{}

// New returns a disk-backed result store.
func New() *Store {
	return &Store{}
}

func resultPath(workDir string) string {
	return filepath.Join(workDir, nodestore.ResultFile)
}

// Put writes rec atomically: a temporary file is renamed over the result.
func (s *Store) Put(_ context.Context, workDir string, rec *nodestore.Record) error {
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return err
	}
	raw, err := msgpack.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding result: %w", err)
	}

	tmp, err := os.CreateTemp(workDir, ".result-*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), resultPath(workDir))
}

// Get decodes the result file of workDir.
func (s *Store) Get(_ context.Context, workDir string) (*nodestore.Record, error) {
	raw, err := os.ReadFile(resultPath(workDir))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nodestore.ErrNotFound
		}
		return nil, err
	}

	dec := msgpack.NewDecoder(bytes.NewReader(raw))
	dec.UseLooseInterfaceDecoding(true)
	var rec nodestore.Record
	if err := dec.Decode(&rec); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", resultPath(workDir), err)
	}
	return &rec, nil
}

// Exists reports whether a result file is present for workDir.
func (s *Store) Exists(_ context.Context, workDir string) (bool, error) {
	_, err := os.Stat(resultPath(workDir))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}
