package provider

import (
	"fmt"
	"sync"
)

// Registry holds calendar providers keyed by provider id.
//
// Only the Google provider is registered today; the registry exists so
// future backends plug in without changing engine code.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]CalendarProvider
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]CalendarProvider)}
}

// Register adds a provider. Registering the same id twice replaces the
// previous entry.
func (r *Registry) Register(p CalendarProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.ID()] = p
}

// Get returns the provider for id.
func (r *Registry) Get(id string) (CalendarProvider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[id]
	if !ok {
		return nil, fmt.Errorf("unknown calendar provider: %s", id)
	}
	return p, nil
}

// IDs returns the registered provider ids.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.providers))
	for id := range r.providers {
		ids = append(ids, id)
	}
	return ids
}
