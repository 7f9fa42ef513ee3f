package dbadapter

import (
	"errors"
	"sort"
	"sync"
)

// Registry maps source names to adapters. Pull requests name their
// source; the registry hands back the adapter or reports it missing.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register binds name to an adapter, replacing any previous binding.
func (r *Registry) Register(name string, a Adapter) {
	r.mu.Lock()
	r.adapters[name] = a
	r.mu.Unlock()
}

// Unregister removes a binding. The adapter is not closed.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	delete(r.adapters, name)
	r.mu.Unlock()
}

// Get returns the adapter bound to name.
func (r *Registry) Get(name string) (Adapter, bool) {
	r.mu.RLock()
	a, ok := r.adapters[name]
	r.mu.RUnlock()

	return a, ok
}

// List returns the registered source names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	r.mu.RUnlock()

	sort.Strings(names)

	return names
}

// CloseAll closes every registered adapter and empties the registry.
// All close errors are joined so one failure does not hide another.
func (r *Registry) CloseAll() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for name, a := range r.adapters {
		if err := a.Close(); err != nil {
			errs = append(errs, &AdapterError{Op: "close " + name, Err: err})
		}
		delete(r.adapters, name)
	}

	return errors.Join(errs...)
}
