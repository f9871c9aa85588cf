package llm

import (
	"sync"
)

// Registry maps provider identifiers to Provider implementations. Unknown
// identifiers resolve to the default provider rather than failing, so a
// misconfigured provider name degrades to the OpenAI-compatible path instead
// of breaking the pipeline.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	fallback  Provider
}

// NewRegistry creates a registry with the given default provider. The
// default is also registered under its own name.
func NewRegistry(fallback Provider) *Registry {
	r := &Registry{
		providers: make(map[string]Provider),
		fallback:  fallback,
	}
	if fallback != nil {
		r.providers[fallback.Name()] = fallback
	}
	return r
}

// Register adds a provider under its own name.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	r.providers[p.Name()] = p
	r.mu.Unlock()
}

// Get resolves a provider identifier, falling back to the default for
// unknown names.
func (r *Registry) Get(name string) Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.providers[name]; ok {
		return p
	}
	return r.fallback
}
