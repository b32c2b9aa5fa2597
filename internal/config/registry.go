package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/voxbridge/pkg/provider/enhancer"
)

// ErrEngineNotRegistered is returned by [Registry.CreateEngine] when no
// factory has been registered under the requested engine name.
var ErrEngineNotRegistered = errors.New("config: engine not registered")

// EngineFactory builds an engine runtime from its configuration entry.
type EngineFactory func(EngineEntry) (enhancer.Runtime, error)

// Registry maps engine names to their constructor functions.
// It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	engines map[string]EngineFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{engines: make(map[string]EngineFactory)}
}

// RegisterEngine registers an engine factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterEngine(name string, factory EngineFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.engines[name] = factory
}

// CreateEngine instantiates the engine registered under entry.Name.
// Returns [ErrEngineNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateEngine(entry EngineEntry) (enhancer.Runtime, error) {
	r.mu.RLock()
	factory, ok := r.engines[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrEngineNotRegistered, entry.Name)
	}
	return factory(entry)
}

// Engines returns the registered engine names in sorted order.
func (r *Registry) Engines() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.engines))
	for name := range r.engines {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
