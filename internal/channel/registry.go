package channel

import (
	"fmt"
	"sort"
	"sync"
)

// Registry holds the registered channel adapters keyed by provider.
type Registry struct {
	mu       sync.RWMutex
	adapters map[Provider]Adapter
}

func NewRegistry() *Registry {
	return &Registry{adapters: map[Provider]Adapter{}}
}

// Register adds an adapter; registering the same provider twice is an error.
func (r *Registry) Register(adapter Adapter) error {
	if adapter == nil {
		return fmt.Errorf("adapter is nil")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	p := adapter.Provider()
	if _, exists := r.adapters[p]; exists {
		return fmt.Errorf("adapter already registered: %s", p)
	}
	r.adapters[p] = adapter
	return nil
}

// MustRegister registers an adapter and panics on conflict (boot-time wiring).
func (r *Registry) MustRegister(adapter Adapter) {
	if err := r.Register(adapter); err != nil {
		panic(err)
	}
}

// Get returns the adapter for the given provider.
func (r *Registry) Get(p Provider) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	adapter, ok := r.adapters[p]
	return adapter, ok
}

// Providers lists registered providers in stable order.
func (r *Registry) Providers() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Provider, 0, len(r.adapters))
	for p := range r.adapters {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
