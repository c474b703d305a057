package engine

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Options carries the configuration an engine constructor may use
type Options struct {
	Latency time.Duration
	Bounds  Bounds
	Seed    uint64
}

// Constructor builds an engine from options
type Constructor func(opts Options) (MetricsEngine, error)

// Registry maps engine names to constructors so the engine is chosen by
// configuration rather than by branches in the controller
type Registry struct {
	mu           sync.RWMutex
	constructors map[string]Constructor
}

// NewRegistry creates a registry with the stub engine registered
func NewRegistry() *Registry {
	r := &Registry{constructors: make(map[string]Constructor)}
	r.Register(StubName, func(opts Options) (MetricsEngine, error) {
		bounds := opts.Bounds
		if bounds == (Bounds{}) {
			bounds = DefaultBounds()
		}
		if bounds.MinWidth <= 0 || bounds.MinHeight <= 0 || bounds.MaxWidth < bounds.MinWidth || bounds.MaxHeight < bounds.MinHeight {
			return nil, fmt.Errorf("invalid stub bounds: %+v", bounds)
		}
		return NewStubEngine(opts.Latency, bounds, opts.Seed), nil
	})
	return r
}

// Register adds or replaces a constructor
func (r *Registry) Register(name string, ctor Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.constructors[strings.ToLower(name)] = ctor
}

// Create builds the engine registered under name
func (r *Registry) Create(name string, opts Options) (MetricsEngine, error) {
	r.mu.RLock()
	ctor, ok := r.constructors[strings.ToLower(strings.TrimSpace(name))]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported engine: %q (available: %s)", name, strings.Join(r.Names(), ", "))
	}
	return ctor(opts)
}

// Names lists registered engines in sorted order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.constructors))
	for name := range r.constructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
