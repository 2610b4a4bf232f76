package notifier

import (
	"errors"
	"fmt"
	"slices"
	"sync"
)

// Factory builds a Notifier from its provider config.
type Factory func(config map[string]string) (Notifier, error)

type provider struct {
	factory  Factory
	required []string
}

var (
	mu        sync.RWMutex
	providers = make(map[string]provider)
)

// Register makes a notifier available by name. New refuses configs that lack
// any of the required keys. Adapters call it from init.
func Register(name string, factory Factory, required ...string) {
	mu.Lock()
	defer mu.Unlock()

	if _, exists := providers[name]; exists {
		panic(fmt.Sprintf("notifier: duplicate registration for %q", name))
	}
	providers[name] = provider{factory: factory, required: required}
}

// New builds the named notifier.
func New(name string, config map[string]string) (Notifier, error) {
	mu.RLock()
	p, ok := providers[name]
	mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("notifier: unknown provider %q", name)
	}
	for _, key := range p.required {
		if config[key] == "" {
			return nil, fmt.Errorf("notifier %s: missing %s: %w", name, key, ErrNotConfigured)
		}
	}
	return p.factory(config)
}

// Open builds a notifier for every registered provider that has an entry in
// configs, in name order. Providers that fail are skipped and their errors
// joined.
func Open(configs map[string]map[string]string) ([]Notifier, error) {
	var (
		out  []Notifier
		errs []error
	)
	for _, name := range Available() {
		conf, ok := configs[name]
		if !ok {
			continue
		}
		n, err := New(name, conf)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, n)
	}
	return out, errors.Join(errs...)
}

// Available returns the sorted names of all registered notifiers.
func Available() []string {
	mu.RLock()
	defer mu.RUnlock()

	names := make([]string, 0, len(providers))
	for name := range providers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
