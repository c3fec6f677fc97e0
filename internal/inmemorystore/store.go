package inmemorystore

import (
	"context"
	"path/filepath"
	"strings"
	"sync"

	"github.com/specialistvlad/chunkflow/internal/nodestore"
)

// Store is an in-memory implementation of nodestore.Store.
type Store struct {
	mu      sync.RWMutex
	records map[string]*nodestore.Record
}

// New creates a new, empty in-memory result store.
func New() *Store {
	return &Store{records: make(map[string]*nodestore.Record)}
}

// Put stores a copy of rec under workDir.
func (s *Store) Put(_ context.Context, workDir string, rec *nodestore.Record) error {
	cp := *rec
	cp.Outputs = make(map[string]any, len(rec.Outputs))
	for k, v := range rec.Outputs {
		cp.Outputs[k] = v
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[filepath.Clean(workDir)] = &cp
	return nil
}

// Get returns the record for workDir.
func (s *Store) Get(_ context.Context, workDir string) (*nodestore.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[filepath.Clean(workDir)]
	if !ok {
		return nil, nodestore.ErrNotFound
	}
	return rec, nil
}

// Exists reports whether a record exists for workDir.
func (s *Store) Exists(_ context.Context, workDir string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.records[filepath.Clean(workDir)]
	return ok, nil
}

// RemoveAll drops the records of dir and of every directory below it. Its
// signature matches os.RemoveAll so it can stand in as a directory remover.
func (s *Store) RemoveAll(dir string) error {
	dir = filepath.Clean(dir)
	prefix := dir + string(filepath.Separator)

	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.records {
		if k == dir || strings.HasPrefix(k, prefix) {
			delete(s.records, k)
		}
	}
	return nil
}

// Len returns the number of stored records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
