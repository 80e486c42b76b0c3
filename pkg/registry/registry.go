// Package registry keeps the set of live entries owned by a manager.
//
// It owns its state behind a read/write lock and hands out entries in
// registration order. It knows nothing about what an entry is beyond its ID.
package registry

import (
	"errors"
	"fmt"
	"sync"
)

// ErrNotFound is returned for unknown IDs
var ErrNotFound = errors.New("entry not found")

// Entry is anything with a stable identifier
type Entry interface {
	GetID() string
}

// Registry is a concurrency-safe, insertion-ordered store of entries
type Registry[T Entry] struct {
	mu      sync.RWMutex
	entries map[string]T
	order   []string
}

// New creates an empty registry
func New[T Entry]() *Registry[T] {
	return &Registry[T]{
		entries: make(map[string]T),
	}
}

// Register adds an entry. IDs must be unique.
func (r *Registry[T]) Register(entry T) error {
	id := entry.GetID()
	if id == "" {
		return fmt.Errorf("entry ID is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[id]; exists {
		return fmt.Errorf("entry already registered: %s", id)
	}

	r.entries[id] = entry
	r.order = append(r.order, id)
	return nil
}

// Deregister removes an entry and returns it
func (r *Registry[T]) Deregister(id string) (T, error) {
	var zero T
	if id == "" {
		return zero, fmt.Errorf("entry ID is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	entry, exists := r.entries[id]
	if !exists {
		return zero, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	delete(r.entries, id)
	for i, v := range r.order {
		if v == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return entry, nil
}

// Get retrieves an entry by ID
func (r *Registry[T]) Get(id string) (T, error) {
	var zero T
	if id == "" {
		return zero, fmt.Errorf("entry ID is required")
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, exists := r.entries[id]
	if !exists {
		return zero, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return entry, nil
}

// List returns all entries in registration order. The slice is a copy;
// the entries are not.
func (r *Registry[T]) List() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]T, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.entries[id])
	}
	return out
}

// Count returns the number of registered entries
func (r *Registry[T]) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.entries)
}
