package backend

import (
	"fmt"
	"sort"
	"sync"
)

// Registry maps backend names to factories. It replaces runtime plugin
// discovery: every available backend is registered at startup.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	deps      Deps
}

func NewRegistry(deps Deps) *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		deps:      deps,
	}
}

// Register adds a factory. Registering the same name twice panics.
func (r *Registry) Register(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[name]; exists {
		panic(fmt.Sprintf("backend %q registered twice", name))
	}
	r.factories[name] = factory
}

// New returns a fresh, unconfigured instance of the named backend.
func (r *Registry) New(name string) (Backend, error) {
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, ConfigurationFault(name, "resolve", fmt.Errorf("%w %q", ErrUnknownBackend, name))
	}
	return factory(r.deps), nil
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
