package task

import (
	"fmt"
	"sort"
	"sync"
)

// Factory builds a Task from descriptor parameters.
type Factory func(params map[string]any) (Task, error)

// Registry maps descriptor kinds to factories. The zero value is not usable;
// create one with NewRegistry.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns a registry pre-populated with the built-in kinds.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	registerBuiltins(r)
	return r
}

// Register adds or replaces the factory for kind.
func (r *Registry) Register(kind string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[kind] = f
}

// Build resolves a descriptor into a runnable Task.
func (r *Registry) Build(d Descriptor) (Task, error) {
	r.mu.RLock()
	f, ok := r.factories[d.Kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown task kind %q", d.Kind)
	}
	t, err := f(d.Params)
	if err != nil {
		return nil, fmt.Errorf("building task of kind %q: %w", d.Kind, err)
	}
	return t, nil
}

// Kinds lists the registered kinds in sorted order.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.factories))
	for k := range r.factories {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}
