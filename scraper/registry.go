package scraper

import (
	"fmt"
	"sort"
)

// Registry maps provider names to adapters. It is immutable after
// construction and safe for concurrent use.
type Registry struct {
	adapters map[string]Adapter
	names    []string
}

// NewRegistry indexes adapters by name. Duplicate or empty names are an error.
func NewRegistry(adapters ...Adapter) (*Registry, error) {
	r := &Registry{adapters: make(map[string]Adapter, len(adapters))}
	for _, a := range adapters {
		name := a.Name()
		if name == "" {
			return nil, fmt.Errorf("adapter with empty name")
		}
		if _, dup := r.adapters[name]; dup {
			return nil, fmt.Errorf("duplicate adapter %q", name)
		}
		r.adapters[name] = a
		r.names = append(r.names, name)
	}
	sort.Strings(r.names)
	return r, nil
}

// DefaultAdapters builds the compiled-in adapter set on one shared HTTP
// collector.
func DefaultAdapters(opts Options) ([]Adapter, error) {
	collector, err := newBaseCollector(opts)
	if err != nil {
		return nil, err
	}
	return []Adapter{
		NewComplexShop(collector, opts),
		NewGoat(collector, opts),
		NewUniversalStore(collector, opts),
	}, nil
}

// Providers returns the registered names in lexicographic order.
func (r *Registry) Providers() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// Get looks up a single adapter.
func (r *Registry) Get(name string) (Adapter, error) {
	a, ok := r.adapters[name]
	if !ok {
		return nil, &UnknownProviderError{Name: name}
	}
	return a, nil
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.adapters[name]
	return ok
}

// Resolve maps names to adapters, dropping duplicates and keeping the
// first occurrence order. An empty list selects every provider.
func (r *Registry) Resolve(names []string) ([]Adapter, error) {
	if len(names) == 0 {
		names = r.names
	}
	seen := make(map[string]struct{}, len(names))
	out := make([]Adapter, 0, len(names))
	for _, name := range names {
		if _, ok := seen[name]; ok {
			continue
		}
		a, err := r.Get(name)
		if err != nil {
			return nil, err
		}
		seen[name] = struct{}{}
		out = append(out, a)
	}
	return out, nil
}
