package backend

import (
	"fmt"
	"slices"
	"sync"
)

// Factory is a constructor function that creates a new Generator instance.
type Factory func(opts Options) (Generator, error)

var (
	mu        sync.RWMutex
	factories = make(map[string]Factory)
)

// Register makes a backend factory available by name.
// It is typically called from an init() function in the adapter package.
func Register(name string, factory Factory) {
	mu.Lock()
	defer mu.Unlock()

	if _, exists := factories[name]; exists {
		panic(fmt.Sprintf("backend: duplicate registration for %q", name))
	}
	factories[name] = factory
}

// New creates a Generator by name using the registered factory.
func New(name string, opts Options) (Generator, error) {
	mu.RLock()
	factory, ok := factories[name]
	mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("backend: unknown backend %q (available: %v)", name, Available())
	}
	return factory(opts)
}

// Available returns the sorted names of all registered backends.
func Available() []string {
	mu.RLock()
	defer mu.RUnlock()

	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
